package inmotechcitas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fechaFutura() string {
	return time.Now().AddDate(0, 0, 7).Format("2006-01-02")
}

func crearRequestValida() CrearCitaRequest {
	return CrearCitaRequest{
		TipoDocumento:   "CC",
		NumeroDocumento: "1234567",
		PrimerNombre:    "Juan",
		PrimerApellido:  "Pérez",
		Correo:          "juan@example.com",
		Telefono:        "+573001234567",
		IDInmueble:      1,
		IDServicio:      1,
		FechaCita:       fechaFutura(),
		HoraInicio:      "09:00",
		HoraFin:         "10:00",
	}
}

func camposDe(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *ValidacionError
	require.ErrorAs(t, err, &verr)
	m := make(map[string]string, len(verr.Campos))
	for _, c := range verr.Campos {
		m[c.Campo] = c.Mensaje
	}
	return m
}

func TestCrearCitaRequestValida(t *testing.T) {
	req := crearRequestValida()
	require.NoError(t, req.Validar())
}

func TestCrearCitaRequestCamposObligatorios(t *testing.T) {
	req := CrearCitaRequest{}
	err := req.Validar()
	campos := camposDe(t, err)
	for _, campo := range []string{"tipo_documento", "numero_documento", "primer_nombre",
		"primer_apellido", "correo", "telefono", "id_inmueble", "id_servicio",
		"fecha_cita", "hora_inicio", "hora_fin"} {
		assert.Contains(t, campos, campo)
	}
}

func TestCrearCitaRequestReglasDeCampo(t *testing.T) {
	t.Run("tipo de documento desconocido", func(t *testing.T) {
		req := crearRequestValida()
		req.TipoDocumento = "DNI"
		assert.Contains(t, camposDe(t, req.Validar()), "tipo_documento")
	})
	t.Run("documento demasiado corto", func(t *testing.T) {
		req := crearRequestValida()
		req.NumeroDocumento = "123"
		assert.Contains(t, camposDe(t, req.Validar()), "numero_documento")
	})
	t.Run("documento con caracteres inválidos", func(t *testing.T) {
		req := crearRequestValida()
		req.NumeroDocumento = "123#4567"
		assert.Contains(t, camposDe(t, req.Validar()), "numero_documento")
	})
	t.Run("nombre con dígitos", func(t *testing.T) {
		req := crearRequestValida()
		req.PrimerNombre = "Juan2"
		assert.Contains(t, camposDe(t, req.Validar()), "primer_nombre")
	})
	t.Run("correo inválido", func(t *testing.T) {
		req := crearRequestValida()
		req.Correo = "no-es-correo"
		assert.Contains(t, camposDe(t, req.Validar()), "correo")
	})
	t.Run("teléfono no colombiano", func(t *testing.T) {
		req := crearRequestValida()
		req.Telefono = "+15551234567"
		assert.Contains(t, camposDe(t, req.Validar()), "telefono")
	})
	t.Run("teléfono fijo rechazado", func(t *testing.T) {
		req := crearRequestValida()
		req.Telefono = "6041234567"
		assert.Contains(t, camposDe(t, req.Validar()), "telefono")
	})
	t.Run("fecha en el pasado", func(t *testing.T) {
		req := crearRequestValida()
		req.FechaCita = "2020-01-01"
		assert.Contains(t, camposDe(t, req.Validar()), "fecha_cita")
	})
	t.Run("hora mal formada", func(t *testing.T) {
		req := crearRequestValida()
		req.HoraInicio = "25:00"
		assert.Contains(t, camposDe(t, req.Validar()), "hora_inicio")
	})
}

func TestCrearCitaRequestRangoHorario(t *testing.T) {
	req := crearRequestValida()
	req.HoraInicio = "10:00"
	req.HoraFin = "09:00"
	assert.Contains(t, camposDe(t, req.Validar()), "hora_fin")

	// Igualdad tampoco vale: el rango es semiabierto.
	req = crearRequestValida()
	req.HoraInicio = "10:00"
	req.HoraFin = "10:00"
	assert.Contains(t, camposDe(t, req.Validar()), "hora_fin")
}

func TestNormalizacionDeHoras(t *testing.T) {
	req := crearRequestValida()
	req.HoraInicio = "9:00"
	req.HoraFin = "9:45"
	require.NoError(t, req.Validar())
	assert.Equal(t, "09:00", req.HoraInicio)
	assert.Equal(t, "09:45", req.HoraFin)
}

func TestCancelarRequestMotivo(t *testing.T) {
	req := CancelarCitaRequest{MotivoCancelacion: "corto"}
	assert.Contains(t, camposDe(t, req.Validar()), "motivo_cancelacion")

	req = CancelarCitaRequest{MotivoCancelacion: "El cliente no puede asistir esta semana"}
	require.NoError(t, req.Validar())
}

func TestActualizarRequestAlMenosUnCampo(t *testing.T) {
	req := ActualizarCitaRequest{}
	assert.Contains(t, camposDe(t, req.Validar()), "body")

	obs := "Llevar documentos"
	req = ActualizarCitaRequest{Observaciones: &obs}
	require.NoError(t, req.Validar())
}

func TestReagendarRequest(t *testing.T) {
	req := ReagendarCitaRequest{FechaCita: fechaFutura(), HoraInicio: "9:00", HoraFin: "10:00"}
	require.NoError(t, req.Validar())
	assert.Equal(t, "09:00", req.HoraInicio)

	req = ReagendarCitaRequest{FechaCita: "10-05-2030", HoraInicio: "09:00", HoraFin: "10:00"}
	assert.Contains(t, camposDe(t, req.Validar()), "fecha_cita")
}

func TestMarcarLeidasRequest(t *testing.T) {
	req := MarcarLeidasRequest{}
	assert.Contains(t, camposDe(t, req.Validar()), "ids")

	req = MarcarLeidasRequest{IDs: []int64{1, 2, 3}}
	require.NoError(t, req.Validar())
}
