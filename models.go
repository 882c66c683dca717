package inmotechcitas

// models.go

import "time"

// ---------- enums / tipos ----------

// TipoDocumento identifica el documento de una persona.
type TipoDocumento string

const (
	DocumentoCC        TipoDocumento = "CC"
	DocumentoCE        TipoDocumento = "CE"
	DocumentoNIT       TipoDocumento = "NIT"
	DocumentoPasaporte TipoDocumento = "Pasaporte"
	DocumentoTI        TipoDocumento = "TI"
)

// TiposDocumento lists every accepted document type.
var TiposDocumento = []TipoDocumento{DocumentoCC, DocumentoCE, DocumentoNIT, DocumentoPasaporte, DocumentoTI}

// Nombres de estado de cita. Las filas viven en la tabla Estados_cita;
// las transiciones se resuelven por nombre, nunca por id fijo.
const (
	EstadoSolicitada = "Solicitada"
	EstadoConfirmada = "Confirmada"
	EstadoProgramada = "Programada"
	EstadoReagendada = "Reagendada"
	EstadoCompletada = "Completada"
	EstadoCancelada  = "Cancelada"
)

// EstadosActivos son los estados que bloquean un horario en el chequeo de
// conflictos.
var EstadosActivos = []string{EstadoSolicitada, EstadoConfirmada, EstadoProgramada}

// TipoNotificacion clasifica el evento que originó la notificación.
type TipoNotificacion string

const (
	NotifCitaSolicitada TipoNotificacion = "CITA_SOLICITADA"
	NotifCitaConfirmada TipoNotificacion = "CITA_CONFIRMADA"
	NotifCitaCancelada  TipoNotificacion = "CITA_CANCELADA"
	NotifCitaReagendada TipoNotificacion = "CITA_REAGENDADA"
	NotifCitaCompletada TipoNotificacion = "CITA_COMPLETADA"
)

// Nombres de rol sembrados en la tabla Roles.
const (
	RolAdministrador = "Administrador"
	RolAgente        = "Agente"
	RolCliente       = "Cliente"
)

// ---------- core models ----------

// Persona es cliente o agente; se identifica por (tipo, número de documento).
type Persona struct {
	ID              int64         `json:"id_persona" db:"id_persona"`
	TipoDocumento   TipoDocumento `json:"tipo_documento" db:"tipo_documento"`
	NumeroDocumento string        `json:"numero_documento" db:"numero_documento"`
	PrimerNombre    string        `json:"primer_nombre" db:"primer_nombre"`
	SegundoNombre   *string       `json:"segundo_nombre,omitempty" db:"segundo_nombre"`
	PrimerApellido  string        `json:"primer_apellido" db:"primer_apellido"`
	SegundoApellido *string       `json:"segundo_apellido,omitempty" db:"segundo_apellido"`
	Correo          string        `json:"correo" db:"correo"`
	Telefono        string        `json:"telefono" db:"telefono"`
	TieneCuenta     bool          `json:"tiene_cuenta" db:"tiene_cuenta"`
	Activa          bool          `json:"estado" db:"estado"`
	FechaRegistro   time.Time     `json:"fecha_registro" db:"fecha_registro"`
	IDCodeudor      *int64        `json:"id_codeudor,omitempty" db:"id_codeudor"`
	PasswordHash    *string       `json:"-" db:"password_hash"` // solo personas con cuenta
	IDRol           *int64        `json:"id_rol,omitempty" db:"id_rol"`
}

// NombreCompleto se usa en mensajes de notificación.
func (p *Persona) NombreCompleto() string {
	return p.PrimerNombre + " " + p.PrimerApellido
}

// Inmueble es una propiedad visitable. Solo lectura desde este módulo:
// se valida su existencia, nunca se crea aquí.
type Inmueble struct {
	ID                   int64   `json:"id_inmueble" db:"id_inmueble"`
	RegistroInmobiliario string  `json:"registro_inmobiliario" db:"registro_inmobiliario"`
	Pais                 string  `json:"pais" db:"pais"`
	Departamento         string  `json:"departamento" db:"departamento"`
	Ciudad               string  `json:"ciudad" db:"ciudad"`
	Barrio               *string `json:"barrio,omitempty" db:"barrio"`
	Direccion            string  `json:"direccion" db:"direccion"`
	Categoria            *string `json:"categoria,omitempty" db:"categoria"`
	Activo               bool    `json:"estado" db:"estado"`
}

// ServicioCita es el tipo de servicio agendable (avalúo, visita, etc).
type ServicioCita struct {
	ID               int64   `json:"id_servicio" db:"id_servicio"`
	NombreServicio   string  `json:"nombre_servicio" db:"nombre_servicio"`
	Descripcion      *string `json:"descripcion,omitempty" db:"descripcion"`
	DuracionEstimada int     `json:"duracion_estimada" db:"duracion_estimada"` // minutos
	Activo           bool    `json:"estado" db:"estado"`
}

// EstadoCita es una fila de la tabla de estados, no un enum compilado.
type EstadoCita struct {
	ID            int64   `json:"id_estado_cita" db:"id_estado_cita"`
	NombreEstado  string  `json:"nombre_estado" db:"nombre_estado"`
	Orden         int     `json:"orden" db:"orden"`
	Descripcion   *string `json:"descripcion,omitempty" db:"descripcion"`
	EsEstadoFinal bool    `json:"es_estado_final" db:"es_estado_final"` // Completada o Cancelada
	Activo        bool    `json:"estado" db:"estado"`
}

// Rol agrupa personas con cuenta (Administrador, Agente, Cliente).
type Rol struct {
	ID          int64   `json:"id_rol" db:"id_rol"`
	NombreRol   string  `json:"nombre_rol" db:"nombre_rol"`
	Descripcion *string `json:"descripcion,omitempty" db:"descripcion"`
}

// Cita es el agregado central. Fecha en formato YYYY-MM-DD y horas en
// HH:MM, siempre con hora_fin > hora_inicio.
type Cita struct {
	ID                int64      `json:"id_cita" db:"id_cita"`
	IDPersona         int64      `json:"id_persona" db:"id_persona"`
	IDInmueble        int64      `json:"id_inmueble" db:"id_inmueble"`
	IDServicio        int64      `json:"id_servicio" db:"id_servicio"`
	FechaCita         string     `json:"fecha_cita" db:"fecha_cita"`
	HoraInicio        string     `json:"hora_inicio" db:"hora_inicio"`
	HoraFin           string     `json:"hora_fin" db:"hora_fin"`
	IDEstadoCita      int64      `json:"id_estado_cita" db:"id_estado_cita"`
	IDAgenteAsignado  *int64     `json:"id_agente_asignado,omitempty" db:"id_agente_asignado"`
	Observaciones     *string    `json:"observaciones,omitempty" db:"observaciones"`
	MotivoCancelacion *string    `json:"motivo_cancelacion,omitempty" db:"motivo_cancelacion"`
	EsReagendada      bool       `json:"es_reagendada" db:"es_reagendada"`
	IDCitaOriginal    *int64     `json:"id_cita_original,omitempty" db:"id_cita_original"`
	FechaCreacion     time.Time  `json:"fecha_creacion" db:"fecha_creacion"`
	FechaConfirmacion *time.Time `json:"fecha_confirmacion,omitempty" db:"fecha_confirmacion"`
	FechaCancelacion  *time.Time `json:"fecha_cancelacion,omitempty" db:"fecha_cancelacion"`
	FechaCompletada   *time.Time `json:"fecha_completada,omitempty" db:"fecha_completada"`
}

// CitaDetalle es la cita con sus relaciones resueltas; es lo que devuelven
// todas las operaciones del ciclo de vida.
type CitaDetalle struct {
	Cita
	Cliente  *Persona      `json:"cliente,omitempty"`
	Inmueble *Inmueble     `json:"inmueble,omitempty"`
	Servicio *ServicioCita `json:"servicio,omitempty"`
	Estado   *EstadoCita   `json:"estado,omitempty"`
	Agente   *Persona      `json:"agente,omitempty"`
}

// Notificacion se dirige a un rol, a una persona, o a ambos; nunca a ninguno.
type Notificacion struct {
	ID               int64            `json:"id_notificacion" db:"id_notificacion"`
	TipoNotificacion TipoNotificacion `json:"tipo_notificacion" db:"tipo_notificacion"`
	Titulo           string           `json:"titulo" db:"titulo"`
	Mensaje          string           `json:"mensaje" db:"mensaje"`
	IDCita           *int64           `json:"id_cita,omitempty" db:"id_cita"`
	IDRolDestino     *int64           `json:"id_rol_destino,omitempty" db:"id_rol_destino"`
	IDPersonaDestino *int64           `json:"id_persona_destino,omitempty" db:"id_persona_destino"`
	Leida            bool             `json:"leida" db:"leida"`
	FechaLeida       *time.Time       `json:"fecha_leida,omitempty" db:"fecha_leida"`
	FechaCreacion    time.Time        `json:"fecha_creacion" db:"fecha_creacion"`
}

// NotificacionDetalle incluye la cita asociada para el feed de no leídas.
type NotificacionDetalle struct {
	Notificacion
	Cita *CitaDetalle `json:"cita,omitempty"`
}

// ---------- inputs / filtros ----------

// DatosPersona son los campos mutables usados por el upsert por documento.
type DatosPersona struct {
	TipoDocumento   TipoDocumento
	NumeroDocumento string
	PrimerNombre    string
	SegundoNombre   *string
	PrimerApellido  string
	SegundoApellido *string
	Correo          string
	Telefono        string
}

// FiltroCitas restringe el listado de citas.
type FiltroCitas struct {
	IDEstadoCita     *int64
	FechaCita        *string
	IDAgenteAsignado *int64
}

// FiltroNotificaciones restringe el feed de no leídas.
type FiltroNotificaciones struct {
	IDRol     *int64
	IDPersona *int64
}

// CamposCita son los campos permitidos por la actualización parcial.
// El estado queda fuera a propósito: solo cambia por transiciones con nombre.
type CamposCita struct {
	FechaCita         *string
	HoraInicio        *string
	HoraFin           *string
	Observaciones     *string
	MotivoCancelacion *string
	IDAgenteAsignado  *int64
}

// Vacio reporta si la actualización parcial no trae ningún campo.
func (c CamposCita) Vacio() bool {
	return c.FechaCita == nil && c.HoraInicio == nil && c.HoraFin == nil &&
		c.Observaciones == nil && c.MotivoCancelacion == nil && c.IDAgenteAsignado == nil
}

// AuditLog stores immutable operational events for troubleshooting.
type AuditLog struct {
	ID         int64     `json:"id" db:"id"`
	Component  string    `json:"component" db:"component"`
	Action     string    `json:"action" db:"action"`
	Level      string    `json:"level" db:"level"`
	Message    string    `json:"message" db:"message"`
	ActorID    *int64    `json:"actor_id,omitempty" db:"actor_id"`
	RequestID  string    `json:"request_id" db:"request_id"`
	Payload    string    `json:"payload" db:"payload"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// AuditFilter constrains how audit logs are fetched for observability endpoints.
type AuditFilter struct {
	Component string
	Action    string
	Level     string
	RequestID string
	Since     time.Time
	Limit     int
}
