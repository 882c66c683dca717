// storage.go
package inmotechcitas

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

var _ Store = (*Storage)(nil)

// Inicializa conexión y migraciones. El DSN debe llevar _txlock=immediate
// para que las transacciones de escritura tomen el lock desde el inicio y
// el par chequeo-de-conflicto + insert quede serializado.
func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	if err := s.seed(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) DB() DBTX { return s.db }

// WithTx ejecuta fn en una transacción; rollback y error sin envolver si
// fn falla, commit en caso contrario.
func (s *Storage) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Storage) q(q DBTX) DBTX {
	if q == nil {
		return s.db
	}
	return q
}

// ====================
// Migraciones
// ====================
func (s *Storage) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS Roles (
	id_rol INTEGER PRIMARY KEY AUTOINCREMENT,
	nombre_rol TEXT UNIQUE NOT NULL,
	descripcion TEXT
);

CREATE TABLE IF NOT EXISTS Personas (
	id_persona INTEGER PRIMARY KEY AUTOINCREMENT,
	tipo_documento TEXT NOT NULL,
	numero_documento TEXT NOT NULL,
	primer_nombre TEXT NOT NULL,
	segundo_nombre TEXT,
	primer_apellido TEXT NOT NULL,
	segundo_apellido TEXT,
	correo TEXT NOT NULL DEFAULT '',
	telefono TEXT NOT NULL DEFAULT '',
	tiene_cuenta INTEGER NOT NULL DEFAULT 0,
	estado INTEGER NOT NULL DEFAULT 1,
	fecha_registro DATETIME NOT NULL,
	id_codeudor INTEGER REFERENCES Personas(id_persona),
	password_hash TEXT,
	id_rol INTEGER REFERENCES Roles(id_rol),
	UNIQUE (tipo_documento, numero_documento)
);

CREATE TABLE IF NOT EXISTS Inmuebles (
	id_inmueble INTEGER PRIMARY KEY AUTOINCREMENT,
	registro_inmobiliario TEXT UNIQUE NOT NULL,
	pais TEXT NOT NULL,
	departamento TEXT NOT NULL,
	ciudad TEXT NOT NULL,
	barrio TEXT,
	direccion TEXT NOT NULL,
	categoria TEXT,
	estado INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS Servicios_cita (
	id_servicio INTEGER PRIMARY KEY AUTOINCREMENT,
	nombre_servicio TEXT UNIQUE NOT NULL,
	descripcion TEXT,
	duracion_estimada INTEGER NOT NULL DEFAULT 45,
	estado INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS Estados_cita (
	id_estado_cita INTEGER PRIMARY KEY AUTOINCREMENT,
	nombre_estado TEXT UNIQUE NOT NULL,
	orden INTEGER NOT NULL,
	descripcion TEXT,
	es_estado_final INTEGER NOT NULL DEFAULT 0,
	estado INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS Citas (
	id_cita INTEGER PRIMARY KEY AUTOINCREMENT,
	id_persona INTEGER NOT NULL REFERENCES Personas(id_persona),
	id_inmueble INTEGER NOT NULL REFERENCES Inmuebles(id_inmueble),
	id_servicio INTEGER NOT NULL REFERENCES Servicios_cita(id_servicio),
	fecha_cita TEXT NOT NULL,
	hora_inicio TEXT NOT NULL,
	hora_fin TEXT NOT NULL,
	id_estado_cita INTEGER NOT NULL REFERENCES Estados_cita(id_estado_cita),
	id_agente_asignado INTEGER REFERENCES Personas(id_persona),
	observaciones TEXT,
	motivo_cancelacion TEXT,
	es_reagendada INTEGER NOT NULL DEFAULT 0,
	id_cita_original INTEGER REFERENCES Citas(id_cita),
	fecha_creacion DATETIME NOT NULL,
	fecha_confirmacion DATETIME,
	fecha_cancelacion DATETIME,
	fecha_completada DATETIME,
	CHECK (hora_fin > hora_inicio)
);

CREATE TABLE IF NOT EXISTS Notificaciones (
	id_notificacion INTEGER PRIMARY KEY AUTOINCREMENT,
	tipo_notificacion TEXT NOT NULL,
	titulo TEXT NOT NULL,
	mensaje TEXT NOT NULL,
	id_cita INTEGER REFERENCES Citas(id_cita),
	id_rol_destino INTEGER REFERENCES Roles(id_rol),
	id_persona_destino INTEGER REFERENCES Personas(id_persona),
	leida INTEGER NOT NULL DEFAULT 0,
	fecha_leida DATETIME,
	fecha_creacion DATETIME NOT NULL,
	CHECK (id_rol_destino IS NOT NULL OR id_persona_destino IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	component TEXT NOT NULL,
	action TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	actor_id INTEGER,
	request_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS IX_Personas_Documento ON Personas(tipo_documento, numero_documento);
CREATE INDEX IF NOT EXISTS IX_Citas_Estado ON Citas(id_estado_cita, fecha_cita, hora_inicio);
CREATE INDEX IF NOT EXISTS IX_Citas_Agente ON Citas(id_agente_asignado);
CREATE INDEX IF NOT EXISTS IX_Citas_Fecha ON Citas(fecha_cita, hora_inicio);
CREATE INDEX IF NOT EXISTS IX_Citas_Persona ON Citas(id_persona);
CREATE INDEX IF NOT EXISTS IX_Notificaciones_NoLeidas ON Notificaciones(leida, fecha_creacion);
CREATE INDEX IF NOT EXISTS IX_Notificaciones_Rol ON Notificaciones(id_rol_destino);
`
	_, err := s.db.Exec(schema)
	return err
}

// seed inserta estados y roles la primera vez que se crea la base.
func (s *Storage) seed() error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM Estados_cita`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		estados := []struct {
			nombre string
			orden  int
			final  bool
		}{
			{EstadoSolicitada, 1, false},
			{EstadoConfirmada, 2, false},
			{EstadoProgramada, 3, false},
			{EstadoReagendada, 4, false},
			{EstadoCompletada, 5, true},
			{EstadoCancelada, 6, true},
		}
		for _, e := range estados {
			if _, err := s.db.Exec(`INSERT INTO Estados_cita(nombre_estado, orden, es_estado_final, estado) VALUES(?,?,?,1)`,
				e.nombre, e.orden, e.final); err != nil {
				return err
			}
		}
	}
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM Roles`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		for _, r := range []string{RolAdministrador, RolAgente, RolCliente} {
			if _, err := s.db.Exec(`INSERT INTO Roles(nombre_rol) VALUES(?)`, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// ====================
// Personas
// ====================

const personaCols = `id_persona, tipo_documento, numero_documento, primer_nombre, segundo_nombre,
	primer_apellido, segundo_apellido, correo, telefono, tiene_cuenta, estado, fecha_registro,
	id_codeudor, password_hash, id_rol`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*Persona, error) {
	var p Persona
	err := row.Scan(&p.ID, &p.TipoDocumento, &p.NumeroDocumento, &p.PrimerNombre, &p.SegundoNombre,
		&p.PrimerApellido, &p.SegundoApellido, &p.Correo, &p.Telefono, &p.TieneCuenta, &p.Activa,
		&p.FechaRegistro, &p.IDCodeudor, &p.PasswordHash, &p.IDRol)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) BuscarPersonaPorDocumento(q DBTX, tipo TipoDocumento, numero string) (*Persona, error) {
	row := s.q(q).QueryRow(`SELECT `+personaCols+` FROM Personas WHERE tipo_documento=? AND numero_documento=?`,
		tipo, strings.TrimSpace(numero))
	return scanPersona(row)
}

func (s *Storage) ObtenerPersonaPorID(q DBTX, id int64) (*Persona, error) {
	row := s.q(q).QueryRow(`SELECT `+personaCols+` FROM Personas WHERE id_persona=?`, id)
	return scanPersona(row)
}

// CrearOActualizarPersona busca por (tipo, número recortado): si existe
// actualiza nombres y contacto preservando fecha_registro; si no, crea la
// persona sin cuenta y activa.
func (s *Storage) CrearOActualizarPersona(q DBTX, datos DatosPersona) (*Persona, error) {
	db := s.q(q)
	numero := strings.TrimSpace(datos.NumeroDocumento)

	existente, err := s.BuscarPersonaPorDocumento(db, datos.TipoDocumento, numero)
	if err != nil {
		return nil, err
	}
	if existente != nil {
		_, err = db.Exec(`UPDATE Personas SET primer_nombre=?, segundo_nombre=?, primer_apellido=?,
			segundo_apellido=?, correo=?, telefono=? WHERE id_persona=?`,
			datos.PrimerNombre, datos.SegundoNombre, datos.PrimerApellido,
			datos.SegundoApellido, datos.Correo, datos.Telefono, existente.ID)
		if err != nil {
			return nil, err
		}
		return s.ObtenerPersonaPorID(db, existente.ID)
	}

	now := time.Now()
	res, err := db.Exec(`INSERT INTO Personas(tipo_documento, numero_documento, primer_nombre, segundo_nombre,
		primer_apellido, segundo_apellido, correo, telefono, tiene_cuenta, estado, fecha_registro)
		VALUES(?,?,?,?,?,?,?,?,0,1,?)`,
		datos.TipoDocumento, numero, datos.PrimerNombre, datos.SegundoNombre,
		datos.PrimerApellido, datos.SegundoApellido, datos.Correo, datos.Telefono, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return s.ObtenerPersonaPorID(db, id)
}

func (s *Storage) GuardarCuenta(q DBTX, idPersona int64, passwordHash string, idRol int64) error {
	_, err := s.q(q).Exec(`UPDATE Personas SET tiene_cuenta=1, password_hash=?, id_rol=? WHERE id_persona=?`,
		passwordHash, idRol, idPersona)
	return err
}

// ====================
// Catálogo: inmuebles, servicios, estados, roles
// ====================

func (s *Storage) ObtenerInmueblePorID(q DBTX, id int64) (*Inmueble, error) {
	row := s.q(q).QueryRow(`SELECT id_inmueble, registro_inmobiliario, pais, departamento, ciudad,
		barrio, direccion, categoria, estado FROM Inmuebles WHERE id_inmueble=?`, id)
	var i Inmueble
	err := row.Scan(&i.ID, &i.RegistroInmobiliario, &i.Pais, &i.Departamento, &i.Ciudad,
		&i.Barrio, &i.Direccion, &i.Categoria, &i.Activo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *Storage) ObtenerServicioPorID(q DBTX, id int64) (*ServicioCita, error) {
	row := s.q(q).QueryRow(`SELECT id_servicio, nombre_servicio, descripcion, duracion_estimada, estado
		FROM Servicios_cita WHERE id_servicio=?`, id)
	var sc ServicioCita
	err := row.Scan(&sc.ID, &sc.NombreServicio, &sc.Descripcion, &sc.DuracionEstimada, &sc.Activo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func scanEstado(row rowScanner) (*EstadoCita, error) {
	var e EstadoCita
	err := row.Scan(&e.ID, &e.NombreEstado, &e.Orden, &e.Descripcion, &e.EsEstadoFinal, &e.Activo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const estadoCols = `id_estado_cita, nombre_estado, orden, descripcion, es_estado_final, estado`

func (s *Storage) ObtenerEstadoPorID(q DBTX, id int64) (*EstadoCita, error) {
	return scanEstado(s.q(q).QueryRow(`SELECT `+estadoCols+` FROM Estados_cita WHERE id_estado_cita=?`, id))
}

func (s *Storage) ObtenerEstadoPorNombre(q DBTX, nombre string) (*EstadoCita, error) {
	return scanEstado(s.q(q).QueryRow(`SELECT `+estadoCols+` FROM Estados_cita WHERE nombre_estado=?`, nombre))
}

func (s *Storage) ListarEstados(q DBTX) ([]EstadoCita, error) {
	rows, err := s.q(q).Query(`SELECT ` + estadoCols + ` FROM Estados_cita ORDER BY orden ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var estados []EstadoCita
	for rows.Next() {
		var e EstadoCita
		if err := rows.Scan(&e.ID, &e.NombreEstado, &e.Orden, &e.Descripcion, &e.EsEstadoFinal, &e.Activo); err != nil {
			return nil, err
		}
		estados = append(estados, e)
	}
	return estados, rows.Err()
}

func (s *Storage) ObtenerRolPorNombre(q DBTX, nombre string) (*Rol, error) {
	row := s.q(q).QueryRow(`SELECT id_rol, nombre_rol, descripcion FROM Roles WHERE nombre_rol=?`, nombre)
	var r Rol
	err := row.Scan(&r.ID, &r.NombreRol, &r.Descripcion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ====================
// Citas
// ====================

const citaCols = `id_cita, id_persona, id_inmueble, id_servicio, fecha_cita, hora_inicio, hora_fin,
	id_estado_cita, id_agente_asignado, observaciones, motivo_cancelacion, es_reagendada,
	id_cita_original, fecha_creacion, fecha_confirmacion, fecha_cancelacion, fecha_completada`

func scanCita(row rowScanner) (*Cita, error) {
	var c Cita
	err := row.Scan(&c.ID, &c.IDPersona, &c.IDInmueble, &c.IDServicio, &c.FechaCita, &c.HoraInicio,
		&c.HoraFin, &c.IDEstadoCita, &c.IDAgenteAsignado, &c.Observaciones, &c.MotivoCancelacion,
		&c.EsReagendada, &c.IDCitaOriginal, &c.FechaCreacion, &c.FechaConfirmacion,
		&c.FechaCancelacion, &c.FechaCompletada)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) CrearCita(q DBTX, c *Cita) error {
	if c.FechaCreacion.IsZero() {
		c.FechaCreacion = time.Now()
	}
	res, err := s.q(q).Exec(`INSERT INTO Citas(id_persona, id_inmueble, id_servicio, fecha_cita,
		hora_inicio, hora_fin, id_estado_cita, id_agente_asignado, observaciones, motivo_cancelacion,
		es_reagendada, id_cita_original, fecha_creacion)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.IDPersona, c.IDInmueble, c.IDServicio, c.FechaCita, c.HoraInicio, c.HoraFin,
		c.IDEstadoCita, c.IDAgenteAsignado, c.Observaciones, c.MotivoCancelacion,
		c.EsReagendada, c.IDCitaOriginal, c.FechaCreacion)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	c.ID = id
	return nil
}

func (s *Storage) ObtenerCitaPorID(q DBTX, id int64) (*Cita, error) {
	return scanCita(s.q(q).QueryRow(`SELECT `+citaCols+` FROM Citas WHERE id_cita=?`, id))
}

// ActualizarCita persiste todos los campos mutables de la fila.
func (s *Storage) ActualizarCita(q DBTX, c *Cita) error {
	_, err := s.q(q).Exec(`UPDATE Citas SET fecha_cita=?, hora_inicio=?, hora_fin=?, id_estado_cita=?,
		id_agente_asignado=?, observaciones=?, motivo_cancelacion=?, es_reagendada=?, id_cita_original=?,
		fecha_confirmacion=?, fecha_cancelacion=?, fecha_completada=? WHERE id_cita=?`,
		c.FechaCita, c.HoraInicio, c.HoraFin, c.IDEstadoCita, c.IDAgenteAsignado, c.Observaciones,
		c.MotivoCancelacion, c.EsReagendada, c.IDCitaOriginal, c.FechaConfirmacion,
		c.FechaCancelacion, c.FechaCompletada, c.ID)
	return err
}

func (s *Storage) EliminarCita(q DBTX, id int64) error {
	_, err := s.q(q).Exec(`DELETE FROM Citas WHERE id_cita=?`, id)
	return err
}

// ExisteConflicto usa solapamiento semiabierto [inicio, fin): dos citas
// espalda con espalda (09:00-10:00 y 10:00-11:00) no chocan.
func (s *Storage) ExisteConflicto(q DBTX, idInmueble int64, fecha, horaInicio, horaFin string, estadosActivos []int64, excluirCita int64) (bool, error) {
	if len(estadosActivos) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(estadosActivos)), ",")
	query := `
SELECT COUNT(1)
FROM Citas
WHERE id_inmueble = ?
  AND fecha_cita = ?
  AND id_estado_cita IN (` + placeholders + `)
  AND (? = 0 OR id_cita <> ?)
  AND NOT (hora_fin <= ? OR hora_inicio >= ?)`

	args := []any{idInmueble, fecha}
	for _, e := range estadosActivos {
		args = append(args, e)
	}
	args = append(args, excluirCita, excluirCita, horaInicio, horaFin)

	var cnt int
	if err := s.q(q).QueryRow(query, args...).Scan(&cnt); err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// armarDetalle resuelve las relaciones de la cita con consultas dirigidas,
// en lugar de un join ancho estilo ORM.
func (s *Storage) armarDetalle(q DBTX, c *Cita) (*CitaDetalle, error) {
	d := &CitaDetalle{Cita: *c}

	var err error
	if d.Cliente, err = s.ObtenerPersonaPorID(q, c.IDPersona); err != nil {
		return nil, err
	}
	if d.Inmueble, err = s.ObtenerInmueblePorID(q, c.IDInmueble); err != nil {
		return nil, err
	}
	if d.Servicio, err = s.ObtenerServicioPorID(q, c.IDServicio); err != nil {
		return nil, err
	}
	if d.Estado, err = s.ObtenerEstadoPorID(q, c.IDEstadoCita); err != nil {
		return nil, err
	}
	if c.IDAgenteAsignado != nil {
		if d.Agente, err = s.ObtenerPersonaPorID(q, *c.IDAgenteAsignado); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (s *Storage) ObtenerCitaDetalle(q DBTX, id int64) (*CitaDetalle, error) {
	c, err := s.ObtenerCitaPorID(q, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return s.armarDetalle(q, c)
}

func (s *Storage) ListarCitas(q DBTX, filtro FiltroCitas) ([]CitaDetalle, error) {
	db := s.q(q)
	query := `SELECT ` + citaCols + ` FROM Citas WHERE 1=1`
	var args []any
	if filtro.IDEstadoCita != nil {
		query += ` AND id_estado_cita = ?`
		args = append(args, *filtro.IDEstadoCita)
	}
	if filtro.FechaCita != nil {
		query += ` AND fecha_cita = ?`
		args = append(args, *filtro.FechaCita)
	}
	if filtro.IDAgenteAsignado != nil {
		query += ` AND id_agente_asignado = ?`
		args = append(args, *filtro.IDAgenteAsignado)
	}
	query += ` ORDER BY fecha_cita ASC, hora_inicio ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var citas []Cita
	for rows.Next() {
		c, err := scanCita(rows)
		if err != nil {
			return nil, err
		}
		citas = append(citas, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	detalles := make([]CitaDetalle, 0, len(citas))
	for i := range citas {
		d, err := s.armarDetalle(db, &citas[i])
		if err != nil {
			return nil, err
		}
		detalles = append(detalles, *d)
	}
	return detalles, nil
}

// ====================
// Notificaciones
// ====================

const notificacionCols = `id_notificacion, tipo_notificacion, titulo, mensaje, id_cita,
	id_rol_destino, id_persona_destino, leida, fecha_leida, fecha_creacion`

func scanNotificacion(row rowScanner) (*Notificacion, error) {
	var n Notificacion
	err := row.Scan(&n.ID, &n.TipoNotificacion, &n.Titulo, &n.Mensaje, &n.IDCita,
		&n.IDRolDestino, &n.IDPersonaDestino, &n.Leida, &n.FechaLeida, &n.FechaCreacion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Storage) CrearNotificacion(q DBTX, n *Notificacion) error {
	if n.IDRolDestino == nil && n.IDPersonaDestino == nil {
		return ErrSinDestino
	}
	if n.FechaCreacion.IsZero() {
		n.FechaCreacion = time.Now()
	}
	res, err := s.q(q).Exec(`INSERT INTO Notificaciones(tipo_notificacion, titulo, mensaje, id_cita,
		id_rol_destino, id_persona_destino, leida, fecha_creacion)
		VALUES(?,?,?,?,?,?,0,?)`,
		n.TipoNotificacion, n.Titulo, n.Mensaje, n.IDCita, n.IDRolDestino, n.IDPersonaDestino, n.FechaCreacion)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	n.ID = id
	return nil
}

func (s *Storage) ObtenerNotificacionPorID(q DBTX, id int64) (*Notificacion, error) {
	return scanNotificacion(s.q(q).QueryRow(`SELECT `+notificacionCols+` FROM Notificaciones WHERE id_notificacion=?`, id))
}

func (s *Storage) ListarNoLeidas(q DBTX, filtro FiltroNotificaciones) ([]NotificacionDetalle, error) {
	db := s.q(q)
	query := `SELECT ` + notificacionCols + ` FROM Notificaciones WHERE leida = 0`
	var args []any
	if filtro.IDRol != nil {
		query += ` AND id_rol_destino = ?`
		args = append(args, *filtro.IDRol)
	}
	if filtro.IDPersona != nil {
		query += ` AND id_persona_destino = ?`
		args = append(args, *filtro.IDPersona)
	}
	query += ` ORDER BY fecha_creacion DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notas []Notificacion
	for rows.Next() {
		n, err := scanNotificacion(rows)
		if err != nil {
			return nil, err
		}
		notas = append(notas, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	detalles := make([]NotificacionDetalle, 0, len(notas))
	for i := range notas {
		d := NotificacionDetalle{Notificacion: notas[i]}
		if notas[i].IDCita != nil {
			cita, err := s.ObtenerCitaDetalle(db, *notas[i].IDCita)
			if err != nil {
				return nil, err
			}
			d.Cita = cita
		}
		detalles = append(detalles, d)
	}
	return detalles, nil
}

// MarcarLeida es idempotente: marcar una notificación ya leída no cambia nada.
func (s *Storage) MarcarLeida(q DBTX, id int64) error {
	_, err := s.q(q).Exec(`UPDATE Notificaciones SET leida=1, fecha_leida=? WHERE id_notificacion=? AND leida=0`,
		time.Now(), id)
	return err
}

func (s *Storage) MarcarVariasLeidas(q DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{time.Now()}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.q(q).Exec(`UPDATE Notificaciones SET leida=1, fecha_leida=? WHERE id_notificacion IN (`+placeholders+`) AND leida=0`, args...)
	return err
}

func (s *Storage) DesvincularCita(q DBTX, idCita int64) error {
	_, err := s.q(q).Exec(`UPDATE Notificaciones SET id_cita=NULL WHERE id_cita=?`, idCita)
	return err
}

// ====================
// Audit
// ====================

func (s *Storage) AppendAudit(entry *AuditLog) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO audit_logs(component, action, level, message, actor_id, request_id, payload, occurred_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		entry.Component, entry.Action, entry.Level, entry.Message, entry.ActorID,
		entry.RequestID, entry.Payload, entry.OccurredAt)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	entry.ID = id
	return nil
}

func (s *Storage) ListAuditLogs(filter AuditFilter) ([]AuditLog, error) {
	query := `SELECT id, component, action, level, message, actor_id, request_id, payload, occurred_at
		FROM audit_logs WHERE 1=1`
	var args []any
	if filter.Component != "" {
		query += ` AND component = ?`
		args = append(args, filter.Component)
	}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if filter.Level != "" {
		query += ` AND level = ?`
		args = append(args, filter.Level)
	}
	if filter.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, filter.RequestID)
	}
	if !filter.Since.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY occurred_at DESC`
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.Component, &a.Action, &a.Level, &a.Message, &a.ActorID,
			&a.RequestID, &a.Payload, &a.OccurredAt); err != nil {
			return nil, err
		}
		logs = append(logs, a)
	}
	return logs, rows.Err()
}
