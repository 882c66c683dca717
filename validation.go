// validation.go
package inmotechcitas

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	reHora       = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)
	reTelefonoCo = regexp.MustCompile(`^(\+57|57)?3[0-9]{9}$`)
	reDocumento  = regexp.MustCompile(`^[A-Za-z0-9 .\-]+$`)
	reNombre     = regexp.MustCompile(`^[A-Za-zÁÉÍÓÚáéíóúÑñÜü ]+$`)
	reFechaISO   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Los errores se reportan con el nombre del campo json, no el de Go.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("hora", func(fl validator.FieldLevel) bool {
		return reHora.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("telefono_co", func(fl validator.FieldLevel) bool {
		return reTelefonoCo.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("documento", func(fl validator.FieldLevel) bool {
		return reDocumento.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("nombre", func(fl validator.FieldLevel) bool {
		return reNombre.MatchString(fl.Field().String())
	})
	// fecha_cita: ISO YYYY-MM-DD y no anterior a hoy (comparación a nivel de día).
	_ = v.RegisterValidation("fecha_cita", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if !reFechaISO.MatchString(s) {
			return false
		}
		f, err := time.ParseInLocation("2006-01-02", s, time.Local)
		if err != nil {
			return false
		}
		hoy := time.Now()
		hoy = time.Date(hoy.Year(), hoy.Month(), hoy.Day(), 0, 0, 0, 0, time.Local)
		return !f.Before(hoy)
	})
	return v
}

// NormalizarHora convierte "9:30" en "09:30" para que la comparación
// lexicográfica de horarios sea correcta. Asume formato ya validado.
func NormalizarHora(h string) string {
	if len(h) == 4 {
		return "0" + h
	}
	return h
}

// ====================
// Payloads de entrada
// ====================

type CrearCitaRequest struct {
	TipoDocumento   string  `json:"tipo_documento" validate:"required,oneof=CC CE NIT Pasaporte TI"`
	NumeroDocumento string  `json:"numero_documento" validate:"required,min=6,max=20,documento"`
	PrimerNombre    string  `json:"primer_nombre" validate:"required,min=2,max=50,nombre"`
	SegundoNombre   *string `json:"segundo_nombre" validate:"omitempty,min=2,max=50,nombre"`
	PrimerApellido  string  `json:"primer_apellido" validate:"required,min=2,max=50,nombre"`
	SegundoApellido *string `json:"segundo_apellido" validate:"omitempty,min=2,max=50,nombre"`
	Correo          string  `json:"correo" validate:"required,email,max=100"`
	Telefono        string  `json:"telefono" validate:"required,telefono_co"`
	IDInmueble      int64   `json:"id_inmueble" validate:"required,gt=0"`
	IDServicio      int64   `json:"id_servicio" validate:"required,gt=0"`
	FechaCita       string  `json:"fecha_cita" validate:"required,fecha_cita"`
	HoraInicio      string  `json:"hora_inicio" validate:"required,hora"`
	HoraFin         string  `json:"hora_fin" validate:"required,hora"`
	Observaciones   *string `json:"observaciones" validate:"omitempty,max=1000"`
	IDEstadoCita    *int64  `json:"id_estado_cita" validate:"omitempty,gt=0"`
}

func (r *CrearCitaRequest) Validar() error {
	if err := traducir(validate.Struct(r)); err != nil {
		return err
	}
	r.HoraInicio = NormalizarHora(r.HoraInicio)
	r.HoraFin = NormalizarHora(r.HoraFin)
	return validarRangoHoras(r.HoraInicio, r.HoraFin)
}

// Datos devuelve la parte de persona del payload, lista para el upsert.
func (r *CrearCitaRequest) Datos() DatosPersona {
	return DatosPersona{
		TipoDocumento:   TipoDocumento(r.TipoDocumento),
		NumeroDocumento: strings.TrimSpace(r.NumeroDocumento),
		PrimerNombre:    r.PrimerNombre,
		SegundoNombre:   r.SegundoNombre,
		PrimerApellido:  r.PrimerApellido,
		SegundoApellido: r.SegundoApellido,
		Correo:          r.Correo,
		Telefono:        r.Telefono,
	}
}

type ConfirmarCitaRequest struct {
	IDAgenteAsignado int64 `json:"id_agente_asignado" validate:"required,gt=0"`
}

func (r *ConfirmarCitaRequest) Validar() error {
	return traducir(validate.Struct(r))
}

type CancelarCitaRequest struct {
	MotivoCancelacion string `json:"motivo_cancelacion" validate:"required,min=10,max=500"`
}

func (r *CancelarCitaRequest) Validar() error {
	return traducir(validate.Struct(r))
}

type ReagendarCitaRequest struct {
	FechaCita  string `json:"fecha_cita" validate:"required,fecha_cita"`
	HoraInicio string `json:"hora_inicio" validate:"required,hora"`
	HoraFin    string `json:"hora_fin" validate:"required,hora"`
}

func (r *ReagendarCitaRequest) Validar() error {
	if err := traducir(validate.Struct(r)); err != nil {
		return err
	}
	r.HoraInicio = NormalizarHora(r.HoraInicio)
	r.HoraFin = NormalizarHora(r.HoraFin)
	return validarRangoHoras(r.HoraInicio, r.HoraFin)
}

// ActualizarCitaRequest es la actualización parcial: solo campos
// secundarios, ningún cambio de estado. Debe traer al menos un campo.
type ActualizarCitaRequest struct {
	FechaCita         *string `json:"fecha_cita" validate:"omitempty,fecha_cita"`
	HoraInicio        *string `json:"hora_inicio" validate:"omitempty,hora"`
	HoraFin           *string `json:"hora_fin" validate:"omitempty,hora"`
	Observaciones     *string `json:"observaciones" validate:"omitempty,max=1000"`
	MotivoCancelacion *string `json:"motivo_cancelacion" validate:"omitempty,min=10,max=500"`
	IDAgenteAsignado  *int64  `json:"id_agente_asignado" validate:"omitempty,gt=0"`
}

func (r *ActualizarCitaRequest) Validar() error {
	if err := traducir(validate.Struct(r)); err != nil {
		return err
	}
	c := r.Campos()
	if c.Vacio() {
		return &ValidacionError{Campos: []CampoError{
			{Campo: "body", Mensaje: "debe proporcionar al menos un campo para actualizar"},
		}}
	}
	if r.HoraInicio != nil {
		h := NormalizarHora(*r.HoraInicio)
		r.HoraInicio = &h
	}
	if r.HoraFin != nil {
		h := NormalizarHora(*r.HoraFin)
		r.HoraFin = &h
	}
	if r.HoraInicio != nil && r.HoraFin != nil {
		return validarRangoHoras(*r.HoraInicio, *r.HoraFin)
	}
	return nil
}

func (r *ActualizarCitaRequest) Campos() CamposCita {
	return CamposCita{
		FechaCita:         r.FechaCita,
		HoraInicio:        r.HoraInicio,
		HoraFin:           r.HoraFin,
		Observaciones:     r.Observaciones,
		MotivoCancelacion: r.MotivoCancelacion,
		IDAgenteAsignado:  r.IDAgenteAsignado,
	}
}

type MarcarLeidasRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

func (r *MarcarLeidasRequest) Validar() error {
	return traducir(validate.Struct(r))
}

type RegistroRequest struct {
	TipoDocumento   string  `json:"tipo_documento" validate:"required,oneof=CC CE NIT Pasaporte TI"`
	NumeroDocumento string  `json:"numero_documento" validate:"required,min=6,max=20,documento"`
	PrimerNombre    string  `json:"primer_nombre" validate:"required,min=2,max=50,nombre"`
	SegundoNombre   *string `json:"segundo_nombre" validate:"omitempty,min=2,max=50,nombre"`
	PrimerApellido  string  `json:"primer_apellido" validate:"required,min=2,max=50,nombre"`
	SegundoApellido *string `json:"segundo_apellido" validate:"omitempty,min=2,max=50,nombre"`
	Correo          string  `json:"correo" validate:"required,email,max=100"`
	Telefono        string  `json:"telefono" validate:"required,telefono_co"`
	Password        string  `json:"password" validate:"required,min=8,max=72"`
	Rol             string  `json:"rol" validate:"omitempty,oneof=Administrador Agente Cliente"`
}

func (r *RegistroRequest) Validar() error {
	return traducir(validate.Struct(r))
}

func (r *RegistroRequest) Datos() DatosPersona {
	return DatosPersona{
		TipoDocumento:   TipoDocumento(r.TipoDocumento),
		NumeroDocumento: strings.TrimSpace(r.NumeroDocumento),
		PrimerNombre:    r.PrimerNombre,
		SegundoNombre:   r.SegundoNombre,
		PrimerApellido:  r.PrimerApellido,
		SegundoApellido: r.SegundoApellido,
		Correo:          r.Correo,
		Telefono:        r.Telefono,
	}
}

type LoginRequest struct {
	TipoDocumento   string `json:"tipo_documento" validate:"required,oneof=CC CE NIT Pasaporte TI"`
	NumeroDocumento string `json:"numero_documento" validate:"required,min=6,max=20,documento"`
	Password        string `json:"password" validate:"required"`
}

func (r *LoginRequest) Validar() error {
	return traducir(validate.Struct(r))
}

// ====================
// Traducción de errores
// ====================

func validarRangoHoras(inicio, fin string) error {
	if fin <= inicio {
		return &ValidacionError{Campos: []CampoError{
			{Campo: "hora_fin", Mensaje: "la hora de fin debe ser posterior a la hora de inicio"},
		}}
	}
	return nil
}

// traducir convierte los errores del validador en un ValidacionError con
// mensajes en español por campo.
func traducir(err error) error {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	campos := make([]CampoError, 0, len(verrs))
	for _, fe := range verrs {
		campos = append(campos, CampoError{Campo: fe.Field(), Mensaje: mensajeCampo(fe)})
	}
	return &ValidacionError{Campos: campos}
}

func mensajeCampo(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("el campo %s es obligatorio", fe.Field())
	case "oneof":
		return fmt.Sprintf("el campo %s debe ser uno de: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("el campo %s debe tener al menos %s elementos", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("el campo %s debe tener al menos %s caracteres", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("el campo %s no puede exceder %s caracteres", fe.Field(), fe.Param())
	case "email":
		return "debe proporcionar un correo electrónico válido"
	case "gt":
		return fmt.Sprintf("el campo %s debe ser un número positivo", fe.Field())
	case "hora":
		return fmt.Sprintf("el campo %s debe tener formato HH:MM", fe.Field())
	case "fecha_cita":
		return "la fecha debe tener formato YYYY-MM-DD y no puede ser anterior a hoy"
	case "telefono_co":
		return "debe proporcionar un número de celular colombiano válido"
	case "documento":
		return "el número de documento solo admite letras, números, espacios, puntos y guiones"
	case "nombre":
		return fmt.Sprintf("el campo %s solo admite letras y espacios", fe.Field())
	default:
		return fmt.Sprintf("el campo %s es inválido", fe.Field())
	}
}
