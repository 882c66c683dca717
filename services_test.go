package inmotechcitas

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushRegistrado struct {
	idPersona *int64
	idRol     *int64
	payload   any
}

// fakeNotifier acumula los pushes para inspeccionarlos en los tests.
type fakeNotifier struct {
	mu     sync.Mutex
	pushes []pushRegistrado
}

func (f *fakeNotifier) PushPersona(id int64, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushRegistrado{idPersona: &id, payload: payload})
}

func (f *fakeNotifier) PushRol(id int64, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushRegistrado{idRol: &id, payload: payload})
}

func (f *fakeNotifier) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

type entornoServicio struct {
	store      *Storage
	estados    *EstadoCache
	citas      CitaService
	notifier   *fakeNotifier
	idInmueble int64
	idServicio int64
}

func nuevoEntorno(t *testing.T) *entornoServicio {
	t.Helper()
	s := newTestStorage(t)
	estados, err := NewEstadoCache(s)
	require.NoError(t, err)
	notifier := &fakeNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &entornoServicio{
		store:      s,
		estados:    estados,
		citas:      NewCitaService(s, estados, notifier, log),
		notifier:   notifier,
		idInmueble: seedInmueble(t, s),
		idServicio: seedServicio(t, s),
	}
}

func (e *entornoServicio) solicitud() SolicitudCita {
	return SolicitudCita{
		DatosPersona: datosCliente(),
		IDInmueble:   e.idInmueble,
		IDServicio:   e.idServicio,
		FechaCita:    "2030-05-10",
		HoraInicio:   "09:00",
		HoraFin:      "10:00",
	}
}

func TestCrearCita(t *testing.T) {
	e := nuevoEntorno(t)

	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)
	require.NotZero(t, detalle.ID)

	require.NotNil(t, detalle.Estado)
	assert.Equal(t, EstadoSolicitada, detalle.Estado.NombreEstado)
	require.NotNil(t, detalle.Cliente)
	assert.Equal(t, "Juan", detalle.Cliente.PrimerNombre)
	require.NotNil(t, detalle.Inmueble)
	require.NotNil(t, detalle.Servicio)
	assert.Nil(t, detalle.Agente)

	// La solicitud notifica al rol Agente.
	rolAgente, err := e.store.ObtenerRolPorNombre(e.store.DB(), RolAgente)
	require.NoError(t, err)
	notas, err := e.store.ListarNoLeidas(e.store.DB(), FiltroNotificaciones{IDRol: &rolAgente.ID})
	require.NoError(t, err)
	require.Len(t, notas, 1)
	assert.Equal(t, NotifCitaSolicitada, notas[0].TipoNotificacion)
	assert.Equal(t, "Nueva Cita Solicitada", notas[0].Titulo)
	assert.Equal(t, "Juan Pérez ha solicitado una cita para el 2030-05-10", notas[0].Mensaje)
	assert.Equal(t, 1, e.notifier.total())
}

func TestCrearCitaConEstadoExplicitoNoNotifica(t *testing.T) {
	e := nuevoEntorno(t)

	confirmada, err := e.store.ObtenerEstadoPorNombre(e.store.DB(), EstadoConfirmada)
	require.NoError(t, err)

	sol := e.solicitud()
	sol.IDEstadoCita = &confirmada.ID
	detalle, err := e.citas.Crear(sol)
	require.NoError(t, err)
	assert.Equal(t, EstadoConfirmada, detalle.Estado.NombreEstado)

	// Solo la entrada en Solicitada avisa al rol Agente.
	var total int
	require.NoError(t, e.store.db.QueryRow(`SELECT COUNT(1) FROM Notificaciones`).Scan(&total))
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, e.notifier.total())
}

func TestCrearCitaReferenciasInexistentes(t *testing.T) {
	e := nuevoEntorno(t)

	sol := e.solicitud()
	sol.IDInmueble = 9999
	_, err := e.citas.Crear(sol)
	assert.ErrorIs(t, err, ErrNoEncontrado)

	sol = e.solicitud()
	sol.IDServicio = 9999
	_, err = e.citas.Crear(sol)
	assert.ErrorIs(t, err, ErrNoEncontrado)
}

func TestCrearCitaConflictoDeHorario(t *testing.T) {
	e := nuevoEntorno(t)

	_, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)

	sol := e.solicitud()
	sol.HoraInicio = "09:30"
	sol.HoraFin = "10:30"
	_, err = e.citas.Crear(sol)
	assert.ErrorIs(t, err, ErrHorarioNoDisponible)

	// Espalda con espalda sí entra.
	sol = e.solicitud()
	sol.HoraInicio = "10:00"
	sol.HoraFin = "11:00"
	_, err = e.citas.Crear(sol)
	assert.NoError(t, err)
}

func crearAgente(t *testing.T, s *Storage) *Persona {
	t.Helper()
	agente, err := s.CrearOActualizarPersona(s.DB(), DatosPersona{
		TipoDocumento:   DocumentoCC,
		NumeroDocumento: "7654321",
		PrimerNombre:    "Laura",
		PrimerApellido:  "Gómez",
		Correo:          "laura@example.com",
		Telefono:        "+573009876543",
	})
	require.NoError(t, err)
	return agente
}

func TestConfirmarYCompletar(t *testing.T) {
	e := nuevoEntorno(t)
	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)
	agente := crearAgente(t, e.store)

	confirmada, err := e.citas.Confirmar(detalle.ID, agente.ID)
	require.NoError(t, err)
	assert.Equal(t, EstadoConfirmada, confirmada.Estado.NombreEstado)
	require.NotNil(t, confirmada.IDAgenteAsignado)
	assert.Equal(t, agente.ID, *confirmada.IDAgenteAsignado)
	require.NotNil(t, confirmada.FechaConfirmacion)
	require.NotNil(t, confirmada.Agente)

	completada, err := e.citas.Completar(detalle.ID)
	require.NoError(t, err)
	assert.Equal(t, EstadoCompletada, completada.Estado.NombreEstado)
	require.NotNil(t, completada.FechaCompletada)

	// El cliente recibió confirmación y cierre.
	notas, err := e.store.ListarNoLeidas(e.store.DB(), FiltroNotificaciones{IDPersona: &detalle.IDPersona})
	require.NoError(t, err)
	require.Len(t, notas, 2)
}

func TestCompletarDesdeSolicitada(t *testing.T) {
	e := nuevoEntorno(t)
	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)

	// Completar no exige confirmación previa.
	completada, err := e.citas.Completar(detalle.ID)
	require.NoError(t, err)
	assert.Equal(t, EstadoCompletada, completada.Estado.NombreEstado)
	require.NotNil(t, completada.FechaCompletada)
}

func TestConfirmarAgenteInexistente(t *testing.T) {
	e := nuevoEntorno(t)
	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)

	_, err = e.citas.Confirmar(detalle.ID, 9999)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCancelar(t *testing.T) {
	e := nuevoEntorno(t)
	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)

	motivo := "El cliente no puede asistir esta semana"
	cancelada, err := e.citas.Cancelar(detalle.ID, motivo)
	require.NoError(t, err)
	assert.Equal(t, EstadoCancelada, cancelada.Estado.NombreEstado)
	require.NotNil(t, cancelada.MotivoCancelacion)
	assert.Equal(t, motivo, *cancelada.MotivoCancelacion)
	require.NotNil(t, cancelada.FechaCancelacion)

	// Estado final: no se puede cancelar de nuevo.
	_, err = e.citas.Cancelar(detalle.ID, motivo)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// El horario queda libre otra vez.
	_, err = e.citas.Crear(e.solicitud())
	assert.NoError(t, err)
}

func TestReagendarCadena(t *testing.T) {
	e := nuevoEntorno(t)
	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)
	primera := detalle.ID

	re1, err := e.citas.Reagendar(primera, "2030-05-11", "10:00", "11:00")
	require.NoError(t, err)
	assert.Equal(t, EstadoReagendada, re1.Estado.NombreEstado)
	assert.True(t, re1.EsReagendada)
	require.NotNil(t, re1.IDCitaOriginal)
	assert.Equal(t, primera, *re1.IDCitaOriginal)

	// La cadena conserva la cita original tras un segundo reagendamiento.
	re2, err := e.citas.Reagendar(primera, "2030-05-12", "14:00", "15:00")
	require.NoError(t, err)
	require.NotNil(t, re2.IDCitaOriginal)
	assert.Equal(t, primera, *re2.IDCitaOriginal)
	assert.Equal(t, "2030-05-12", re2.FechaCita)
}

func TestReagendarConflicto(t *testing.T) {
	e := nuevoEntorno(t)
	d1, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)

	sol := e.solicitud()
	sol.HoraInicio = "11:00"
	sol.HoraFin = "12:00"
	d2, err := e.citas.Crear(sol)
	require.NoError(t, err)

	// Moverse encima de la otra cita: conflicto.
	_, err = e.citas.Reagendar(d2.ID, "2030-05-10", "09:30", "10:30")
	assert.ErrorIs(t, err, ErrHorarioNoDisponible)

	// Reagendar al propio horario no choca consigo misma.
	_, err = e.citas.Reagendar(d1.ID, "2030-05-10", "09:00", "10:00")
	assert.NoError(t, err)
}

func TestActualizarParcial(t *testing.T) {
	e := nuevoEntorno(t)
	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)

	obs := "Llevar documentos del inmueble"
	actualizada, err := e.citas.Actualizar(detalle.ID, CamposCita{Observaciones: &obs})
	require.NoError(t, err)
	require.NotNil(t, actualizada.Observaciones)
	assert.Equal(t, obs, *actualizada.Observaciones)
	// El estado no cambia por la vía parcial.
	assert.Equal(t, EstadoSolicitada, actualizada.Estado.NombreEstado)

	// Cambiar el horario revalida el conflicto.
	sol := e.solicitud()
	sol.HoraInicio = "11:00"
	sol.HoraFin = "12:00"
	otra, err := e.citas.Crear(sol)
	require.NoError(t, err)

	inicio, fin := "09:30", "10:30"
	_, err = e.citas.Actualizar(otra.ID, CamposCita{HoraInicio: &inicio, HoraFin: &fin})
	assert.ErrorIs(t, err, ErrHorarioNoDisponible)

	// Tras cancelar, la cita no admite actualizaciones.
	_, err = e.citas.Cancelar(detalle.ID, "El cliente no puede asistir esta semana")
	require.NoError(t, err)
	_, err = e.citas.Actualizar(detalle.ID, CamposCita{Observaciones: &obs})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEliminarDesvinculaNotificaciones(t *testing.T) {
	e := nuevoEntorno(t)
	detalle, err := e.citas.Crear(e.solicitud())
	require.NoError(t, err)

	require.NoError(t, e.citas.Eliminar(detalle.ID))

	_, err = e.citas.ObtenerPorID(detalle.ID)
	assert.ErrorIs(t, err, ErrNoEncontrado)

	// La notificación de la solicitud sobrevive sin referencia a la cita.
	rolAgente, err := e.store.ObtenerRolPorNombre(e.store.DB(), RolAgente)
	require.NoError(t, err)
	notas, err := e.store.ListarNoLeidas(e.store.DB(), FiltroNotificaciones{IDRol: &rolAgente.ID})
	require.NoError(t, err)
	require.Len(t, notas, 1)
	assert.Nil(t, notas[0].IDCita)
	assert.Nil(t, notas[0].Cita)
}

func TestObtenerCitaInexistente(t *testing.T) {
	e := nuevoEntorno(t)
	_, err := e.citas.ObtenerPorID(424242)
	assert.ErrorIs(t, err, ErrNoEncontrado)

	_, err = e.citas.BuscarPersona(DocumentoCC, "0000000")
	assert.ErrorIs(t, err, ErrNoEncontrado)
}
