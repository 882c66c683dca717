// interfaces.go
package inmotechcitas

import "database/sql"

// Repositories define data persistence contracts. They should be pure CRUD-ish.
// Business rules belong in services, not here.

// DBTX is satisfied by *sql.DB and *sql.Tx, so the same repository method
// can run standalone or inside a lifecycle transaction.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type PersonaRepository interface {
	BuscarPersonaPorDocumento(q DBTX, tipo TipoDocumento, numero string) (*Persona, error)
	CrearOActualizarPersona(q DBTX, datos DatosPersona) (*Persona, error)
	ObtenerPersonaPorID(q DBTX, id int64) (*Persona, error)
	// GuardarCuenta activa tiene_cuenta y fija hash y rol de la persona.
	GuardarCuenta(q DBTX, idPersona int64, passwordHash string, idRol int64) error
}

// CatalogoRepository cubre las tablas de referencia: inmuebles, servicios,
// estados y roles. Solo lectura desde el ciclo de vida de citas.
type CatalogoRepository interface {
	ObtenerInmueblePorID(q DBTX, id int64) (*Inmueble, error)
	ObtenerServicioPorID(q DBTX, id int64) (*ServicioCita, error)
	ObtenerEstadoPorID(q DBTX, id int64) (*EstadoCita, error)
	ObtenerEstadoPorNombre(q DBTX, nombre string) (*EstadoCita, error)
	ListarEstados(q DBTX) ([]EstadoCita, error)
	ObtenerRolPorNombre(q DBTX, nombre string) (*Rol, error)
}

type CitaRepository interface {
	CrearCita(q DBTX, c *Cita) error
	ObtenerCitaPorID(q DBTX, id int64) (*Cita, error)
	ObtenerCitaDetalle(q DBTX, id int64) (*CitaDetalle, error)
	ListarCitas(q DBTX, filtro FiltroCitas) ([]CitaDetalle, error)
	ActualizarCita(q DBTX, c *Cita) error
	EliminarCita(q DBTX, id int64) error
	// ExisteConflicto reporta si algún horario [inicio, fin) de una cita en
	// estado activo se solapa con el rango pedido. excluirCita omite una cita
	// concreta (la que se está reagendando); 0 no excluye ninguna.
	ExisteConflicto(q DBTX, idInmueble int64, fecha, horaInicio, horaFin string, estadosActivos []int64, excluirCita int64) (bool, error)
}

type NotificacionRepository interface {
	CrearNotificacion(q DBTX, n *Notificacion) error
	ObtenerNotificacionPorID(q DBTX, id int64) (*Notificacion, error)
	ListarNoLeidas(q DBTX, filtro FiltroNotificaciones) ([]NotificacionDetalle, error)
	MarcarLeida(q DBTX, id int64) error
	MarcarVariasLeidas(q DBTX, ids []int64) error
	// DesvincularCita anula id_cita en las notificaciones que referencian una
	// cita eliminada, para que el feed no quede con referencias colgantes.
	DesvincularCita(q DBTX, idCita int64) error
}

type AuditRepository interface {
	AppendAudit(entry *AuditLog) error
	ListAuditLogs(filter AuditFilter) ([]AuditLog, error)
}

// Store agrupa todos los repositorios más el control transaccional.
type Store interface {
	PersonaRepository
	CatalogoRepository
	CitaRepository
	NotificacionRepository
	AuditRepository
	// DB devuelve la conexión para operaciones fuera de transacción.
	DB() DBTX
	// WithTx ejecuta fn dentro de una transacción todo-o-nada: commit si fn
	// devuelve nil, rollback y propagación del error en caso contrario.
	WithTx(fn func(tx *sql.Tx) error) error
}

// Services define business use-cases. They compose repositories and infrastructure.

// SolicitudCita es la entrada validada de la creación de una cita.
type SolicitudCita struct {
	DatosPersona
	IDInmueble    int64
	IDServicio    int64
	FechaCita     string
	HoraInicio    string
	HoraFin       string
	Observaciones *string
	IDEstadoCita  *int64
}

type CitaService interface {
	Crear(sol SolicitudCita) (*CitaDetalle, error)
	ObtenerPorID(id int64) (*CitaDetalle, error)
	Listar(filtro FiltroCitas) ([]CitaDetalle, error)
	Confirmar(id, idAgente int64) (*CitaDetalle, error)
	Cancelar(id int64, motivo string) (*CitaDetalle, error)
	Reagendar(id int64, fecha, horaInicio, horaFin string) (*CitaDetalle, error)
	Completar(id int64) (*CitaDetalle, error)
	Actualizar(id int64, campos CamposCita) (*CitaDetalle, error)
	Eliminar(id int64) error
	BuscarPersona(tipo TipoDocumento, numero string) (*Persona, error)
}

type NotificacionService interface {
	Crear(n *Notificacion) error
	ListarNoLeidas(filtro FiltroNotificaciones) ([]NotificacionDetalle, error)
	MarcarLeida(id int64) (*Notificacion, error)
	MarcarVariasLeidas(ids []int64) error
}

// RegistroCuenta crea (o promueve) una persona con cuenta para el panel.
type RegistroCuenta struct {
	DatosPersona
	Password string
	Rol      string
}

type AuthService interface {
	HashPassword(password string) (string, error)
	CheckPassword(password, hash string) bool
	GenerateToken(p *Persona) (string, error)
	ParseToken(token string) (*Claims, error)
	Registrar(reg RegistroCuenta) (*Persona, string, error)
	Login(tipo TipoDocumento, numero, password string) (*Persona, string, error)
}

// Notifier empuja notificaciones recién creadas a clientes conectados.
// La implementación WebSocket vive en websocket.go; en tests se usa la no-op.
type Notifier interface {
	PushPersona(idPersona int64, payload any)
	PushRol(idRol int64, payload any)
}

type noopNotifier struct{}

// NewNoopNotifier returns a Notifier that drops every push.
func NewNoopNotifier() Notifier { return noopNotifier{} }

func (noopNotifier) PushPersona(int64, any) {}

func (noopNotifier) PushRol(int64, any) {}
