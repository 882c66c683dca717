// services.go
package inmotechcitas

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ====================
// Cache de estados
// ====================

// EstadoCache resuelve nombres de estado a filas de Estados_cita. El catálogo
// se siembra en la migración y no cambia en caliente, así que se carga una
// sola vez al arrancar.
type EstadoCache struct {
	mu        sync.RWMutex
	porNombre map[string]EstadoCita
	porID     map[int64]EstadoCita
}

func NewEstadoCache(store Store) (*EstadoCache, error) {
	c := &EstadoCache{}
	if err := c.Recargar(store); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *EstadoCache) Recargar(store Store) error {
	estados, err := store.ListarEstados(store.DB())
	if err != nil {
		return err
	}
	porNombre := make(map[string]EstadoCita, len(estados))
	porID := make(map[int64]EstadoCita, len(estados))
	for _, e := range estados {
		porNombre[e.NombreEstado] = e
		porID[e.ID] = e
	}
	c.mu.Lock()
	c.porNombre = porNombre
	c.porID = porID
	c.mu.Unlock()
	return nil
}

// ID devuelve el id del estado con ese nombre.
func (c *EstadoCache) ID(nombre string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.porNombre[nombre]
	if !ok {
		return 0, fmt.Errorf("estado de cita desconocido: %s", nombre)
	}
	return e.ID, nil
}

// ActivosIDs devuelve los ids de los estados que bloquean horario.
func (c *EstadoCache) ActivosIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(EstadosActivos))
	for _, nombre := range EstadosActivos {
		if e, ok := c.porNombre[nombre]; ok {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// EsFinal reporta si el estado no admite más transiciones.
func (c *EstadoCache) EsFinal(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.porID[id]
	return ok && e.EsEstadoFinal
}

func (c *EstadoCache) Nombre(id int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.porID[id]; ok {
		return e.NombreEstado
	}
	return ""
}

// ====================
// Servicio de citas
// ====================

type citaService struct {
	store    Store
	estados  *EstadoCache
	notifier Notifier
	log      *slog.Logger
}

var _ CitaService = (*citaService)(nil)

func NewCitaService(store Store, estados *EstadoCache, notifier Notifier, log *slog.Logger) CitaService {
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &citaService{store: store, estados: estados, notifier: notifier, log: log}
}

// Crear registra la solicitud completa en una sola transacción: upsert de la
// persona, chequeo de conflicto y creación de cita y notificación. El chequeo
// vive dentro de la misma transacción de escritura para que dos solicitudes
// simultáneas del mismo horario no pasen ambas.
func (s *citaService) Crear(sol SolicitudCita) (*CitaDetalle, error) {
	var detalle *CitaDetalle
	var pendientes []*Notificacion

	err := s.store.WithTx(func(tx *sql.Tx) error {
		persona, err := s.store.CrearOActualizarPersona(tx, sol.DatosPersona)
		if err != nil {
			return err
		}

		inmueble, err := s.store.ObtenerInmueblePorID(tx, sol.IDInmueble)
		if err != nil {
			return err
		}
		if inmueble == nil {
			return NoEncontrado("el inmueble especificado no existe")
		}
		servicio, err := s.store.ObtenerServicioPorID(tx, sol.IDServicio)
		if err != nil {
			return err
		}
		if servicio == nil {
			return NoEncontrado("el servicio especificado no existe")
		}

		idSolicitada, err := s.estados.ID(EstadoSolicitada)
		if err != nil {
			return err
		}
		idEstado := idSolicitada
		if sol.IDEstadoCita != nil {
			estado, err := s.store.ObtenerEstadoPorID(tx, *sol.IDEstadoCita)
			if err != nil {
				return err
			}
			if estado == nil {
				return fmt.Errorf("%w: el estado especificado no existe", ErrInvalidInput)
			}
			idEstado = estado.ID
		}

		conflicto, err := s.store.ExisteConflicto(tx, sol.IDInmueble, sol.FechaCita,
			sol.HoraInicio, sol.HoraFin, s.estados.ActivosIDs(), 0)
		if err != nil {
			return err
		}
		if conflicto {
			return ErrHorarioNoDisponible
		}

		cita := &Cita{
			IDPersona:     persona.ID,
			IDInmueble:    sol.IDInmueble,
			IDServicio:    sol.IDServicio,
			FechaCita:     sol.FechaCita,
			HoraInicio:    sol.HoraInicio,
			HoraFin:       sol.HoraFin,
			IDEstadoCita:  idEstado,
			Observaciones: sol.Observaciones,
		}
		if err := s.store.CrearCita(tx, cita); err != nil {
			return err
		}

		// Solo una solicitud entrante avisa a los agentes; una cita creada
		// directamente en otro estado no genera notificación.
		if idEstado == idSolicitada {
			rolAgente, err := s.store.ObtenerRolPorNombre(tx, RolAgente)
			if err != nil {
				return err
			}
			if rolAgente != nil {
				n := &Notificacion{
					TipoNotificacion: NotifCitaSolicitada,
					Titulo:           "Nueva Cita Solicitada",
					Mensaje:          fmt.Sprintf("%s ha solicitado una cita para el %s", persona.NombreCompleto(), cita.FechaCita),
					IDCita:           &cita.ID,
					IDRolDestino:     &rolAgente.ID,
				}
				if err := s.store.CrearNotificacion(tx, n); err != nil {
					return err
				}
				pendientes = append(pendientes, n)
			}
		}

		detalle, err = s.store.ObtenerCitaDetalle(tx, cita.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.empujar(pendientes)
	s.log.Info("cita_creada", "id_cita", detalle.ID, "id_inmueble", detalle.IDInmueble,
		"fecha", detalle.FechaCita, "hora_inicio", detalle.HoraInicio)
	return detalle, nil
}

func (s *citaService) ObtenerPorID(id int64) (*CitaDetalle, error) {
	d, err := s.store.ObtenerCitaDetalle(s.store.DB(), id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, NoEncontrado("cita no encontrada")
	}
	return d, nil
}

func (s *citaService) Listar(filtro FiltroCitas) ([]CitaDetalle, error) {
	return s.store.ListarCitas(s.store.DB(), filtro)
}

func (s *citaService) BuscarPersona(tipo TipoDocumento, numero string) (*Persona, error) {
	p, err := s.store.BuscarPersonaPorDocumento(s.store.DB(), tipo, numero)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NoEncontrado("persona no encontrada")
	}
	return p, nil
}

// Confirmar asigna agente y pasa la cita a Confirmada.
func (s *citaService) Confirmar(id, idAgente int64) (*CitaDetalle, error) {
	var detalle *CitaDetalle
	var pendientes []*Notificacion

	err := s.store.WithTx(func(tx *sql.Tx) error {
		cita, err := s.cargarCita(tx, id)
		if err != nil {
			return err
		}

		agente, err := s.store.ObtenerPersonaPorID(tx, idAgente)
		if err != nil {
			return err
		}
		if agente == nil {
			return fmt.Errorf("%w: el agente especificado no existe", ErrInvalidInput)
		}

		idConfirmada, err := s.estados.ID(EstadoConfirmada)
		if err != nil {
			return err
		}
		now := time.Now()
		cita.IDEstadoCita = idConfirmada
		cita.IDAgenteAsignado = &idAgente
		cita.FechaConfirmacion = &now
		if err := s.store.ActualizarCita(tx, cita); err != nil {
			return err
		}

		n := &Notificacion{
			TipoNotificacion: NotifCitaConfirmada,
			Titulo:           "Cita Confirmada",
			Mensaje:          fmt.Sprintf("Tu cita para el %s ha sido confirmada", cita.FechaCita),
			IDCita:           &cita.ID,
			IDPersonaDestino: &cita.IDPersona,
		}
		if err := s.store.CrearNotificacion(tx, n); err != nil {
			return err
		}
		pendientes = append(pendientes, n)

		detalle, err = s.store.ObtenerCitaDetalle(tx, cita.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.empujar(pendientes)
	s.log.Info("cita_confirmada", "id_cita", id, "id_agente", idAgente)
	return detalle, nil
}

// Cancelar pasa la cita a Cancelada con su motivo. Los estados finales no
// se pueden cancelar.
func (s *citaService) Cancelar(id int64, motivo string) (*CitaDetalle, error) {
	var detalle *CitaDetalle
	var pendientes []*Notificacion

	err := s.store.WithTx(func(tx *sql.Tx) error {
		cita, err := s.cargarCita(tx, id)
		if err != nil {
			return err
		}
		if s.estados.EsFinal(cita.IDEstadoCita) {
			return fmt.Errorf("%w: la cita ya está en un estado final", ErrInvalidInput)
		}

		idCancelada, err := s.estados.ID(EstadoCancelada)
		if err != nil {
			return err
		}
		now := time.Now()
		cita.IDEstadoCita = idCancelada
		cita.MotivoCancelacion = &motivo
		cita.FechaCancelacion = &now
		if err := s.store.ActualizarCita(tx, cita); err != nil {
			return err
		}

		n := &Notificacion{
			TipoNotificacion: NotifCitaCancelada,
			Titulo:           "Cita Cancelada",
			Mensaje:          fmt.Sprintf("La cita para el %s ha sido cancelada. Motivo: %s", cita.FechaCita, motivo),
			IDCita:           &cita.ID,
			IDPersonaDestino: &cita.IDPersona,
		}
		if err := s.store.CrearNotificacion(tx, n); err != nil {
			return err
		}
		pendientes = append(pendientes, n)

		detalle, err = s.store.ObtenerCitaDetalle(tx, cita.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.empujar(pendientes)
	s.log.Info("cita_cancelada", "id_cita", id)
	return detalle, nil
}

// Reagendar mueve la cita a otro horario. Revalida el conflicto en la misma
// transacción, excluyendo la propia cita. id_cita_original conserva la
// primera cita de la cadena de reagendamientos.
func (s *citaService) Reagendar(id int64, fecha, horaInicio, horaFin string) (*CitaDetalle, error) {
	var detalle *CitaDetalle
	var pendientes []*Notificacion

	err := s.store.WithTx(func(tx *sql.Tx) error {
		cita, err := s.cargarCita(tx, id)
		if err != nil {
			return err
		}
		if s.estados.EsFinal(cita.IDEstadoCita) {
			return fmt.Errorf("%w: la cita ya está en un estado final", ErrInvalidInput)
		}

		conflicto, err := s.store.ExisteConflicto(tx, cita.IDInmueble, fecha,
			horaInicio, horaFin, s.estados.ActivosIDs(), cita.ID)
		if err != nil {
			return err
		}
		if conflicto {
			return ErrHorarioNoDisponible
		}

		idReagendada, err := s.estados.ID(EstadoReagendada)
		if err != nil {
			return err
		}
		if cita.IDCitaOriginal == nil {
			original := cita.ID
			cita.IDCitaOriginal = &original
		}
		cita.FechaCita = fecha
		cita.HoraInicio = horaInicio
		cita.HoraFin = horaFin
		cita.IDEstadoCita = idReagendada
		cita.EsReagendada = true
		if err := s.store.ActualizarCita(tx, cita); err != nil {
			return err
		}

		n := &Notificacion{
			TipoNotificacion: NotifCitaReagendada,
			Titulo:           "Cita Reagendada",
			Mensaje:          fmt.Sprintf("Tu cita ha sido reagendada para el %s a las %s", fecha, horaInicio),
			IDCita:           &cita.ID,
			IDPersonaDestino: &cita.IDPersona,
		}
		if err := s.store.CrearNotificacion(tx, n); err != nil {
			return err
		}
		pendientes = append(pendientes, n)

		detalle, err = s.store.ObtenerCitaDetalle(tx, cita.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.empujar(pendientes)
	s.log.Info("cita_reagendada", "id_cita", id, "fecha", fecha, "hora_inicio", horaInicio)
	return detalle, nil
}

// Completar cierra la cita.
func (s *citaService) Completar(id int64) (*CitaDetalle, error) {
	var detalle *CitaDetalle
	var pendientes []*Notificacion

	err := s.store.WithTx(func(tx *sql.Tx) error {
		cita, err := s.cargarCita(tx, id)
		if err != nil {
			return err
		}

		idCompletada, err := s.estados.ID(EstadoCompletada)
		if err != nil {
			return err
		}
		now := time.Now()
		cita.IDEstadoCita = idCompletada
		cita.FechaCompletada = &now
		if err := s.store.ActualizarCita(tx, cita); err != nil {
			return err
		}

		n := &Notificacion{
			TipoNotificacion: NotifCitaCompletada,
			Titulo:           "Cita Completada",
			Mensaje:          fmt.Sprintf("La cita del %s ha sido completada exitosamente", cita.FechaCita),
			IDCita:           &cita.ID,
			IDPersonaDestino: &cita.IDPersona,
		}
		if err := s.store.CrearNotificacion(tx, n); err != nil {
			return err
		}
		pendientes = append(pendientes, n)

		detalle, err = s.store.ObtenerCitaDetalle(tx, cita.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.empujar(pendientes)
	s.log.Info("cita_completada", "id_cita", id)
	return detalle, nil
}

// Actualizar aplica una actualización parcial de campos secundarios. Si el
// horario cambia se revalida el conflicto con el rango efectivo resultante.
func (s *citaService) Actualizar(id int64, campos CamposCita) (*CitaDetalle, error) {
	var detalle *CitaDetalle

	err := s.store.WithTx(func(tx *sql.Tx) error {
		cita, err := s.cargarCita(tx, id)
		if err != nil {
			return err
		}
		if s.estados.EsFinal(cita.IDEstadoCita) {
			return fmt.Errorf("%w: la cita ya está en un estado final", ErrInvalidInput)
		}

		cambiaHorario := false
		if campos.FechaCita != nil {
			cita.FechaCita = *campos.FechaCita
			cambiaHorario = true
		}
		if campos.HoraInicio != nil {
			cita.HoraInicio = *campos.HoraInicio
			cambiaHorario = true
		}
		if campos.HoraFin != nil {
			cita.HoraFin = *campos.HoraFin
			cambiaHorario = true
		}
		if cita.HoraFin <= cita.HoraInicio {
			return &ValidacionError{Campos: []CampoError{
				{Campo: "hora_fin", Mensaje: "la hora de fin debe ser posterior a la hora de inicio"},
			}}
		}
		if campos.Observaciones != nil {
			cita.Observaciones = campos.Observaciones
		}
		if campos.MotivoCancelacion != nil {
			cita.MotivoCancelacion = campos.MotivoCancelacion
		}
		if campos.IDAgenteAsignado != nil {
			agente, err := s.store.ObtenerPersonaPorID(tx, *campos.IDAgenteAsignado)
			if err != nil {
				return err
			}
			if agente == nil {
				return fmt.Errorf("%w: el agente especificado no existe", ErrInvalidInput)
			}
			cita.IDAgenteAsignado = campos.IDAgenteAsignado
		}

		if cambiaHorario {
			conflicto, err := s.store.ExisteConflicto(tx, cita.IDInmueble, cita.FechaCita,
				cita.HoraInicio, cita.HoraFin, s.estados.ActivosIDs(), cita.ID)
			if err != nil {
				return err
			}
			if conflicto {
				return ErrHorarioNoDisponible
			}
		}

		if err := s.store.ActualizarCita(tx, cita); err != nil {
			return err
		}
		detalle, err = s.store.ObtenerCitaDetalle(tx, cita.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("cita_actualizada", "id_cita", id)
	return detalle, nil
}

// Eliminar borra la cita y desvincula sus notificaciones para que el feed
// no quede con referencias colgantes.
func (s *citaService) Eliminar(id int64) error {
	err := s.store.WithTx(func(tx *sql.Tx) error {
		cita, err := s.cargarCita(tx, id)
		if err != nil {
			return err
		}
		if err := s.store.DesvincularCita(tx, cita.ID); err != nil {
			return err
		}
		return s.store.EliminarCita(tx, cita.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info("cita_eliminada", "id_cita", id)
	return nil
}

func (s *citaService) cargarCita(q DBTX, id int64) (*Cita, error) {
	cita, err := s.store.ObtenerCitaPorID(q, id)
	if err != nil {
		return nil, err
	}
	if cita == nil {
		return nil, NoEncontrado("cita no encontrada")
	}
	return cita, nil
}

// empujar envía las notificaciones ya confirmadas en base de datos. Se llama
// después del commit: un rollback no debe producir pushes fantasma.
func (s *citaService) empujar(notas []*Notificacion) {
	for _, n := range notas {
		if n.IDPersonaDestino != nil {
			s.notifier.PushPersona(*n.IDPersonaDestino, n)
		}
		if n.IDRolDestino != nil {
			s.notifier.PushRol(*n.IDRolDestino, n)
		}
	}
}

// ====================
// Servicio de notificaciones
// ====================

type notificacionService struct {
	store    Store
	notifier Notifier
	log      *slog.Logger
}

var _ NotificacionService = (*notificacionService)(nil)

func NewNotificacionService(store Store, notifier Notifier, log *slog.Logger) NotificacionService {
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &notificacionService{store: store, notifier: notifier, log: log}
}

func (s *notificacionService) Crear(n *Notificacion) error {
	if n.IDRolDestino == nil && n.IDPersonaDestino == nil {
		return &ValidacionError{Campos: []CampoError{
			{Campo: "destino", Mensaje: ErrSinDestino.Error()},
		}}
	}
	if err := s.store.CrearNotificacion(s.store.DB(), n); err != nil {
		return err
	}
	if n.IDPersonaDestino != nil {
		s.notifier.PushPersona(*n.IDPersonaDestino, n)
	}
	if n.IDRolDestino != nil {
		s.notifier.PushRol(*n.IDRolDestino, n)
	}
	s.log.Info("notificacion_creada", "id_notificacion", n.ID, "tipo", n.TipoNotificacion)
	return nil
}

func (s *notificacionService) ListarNoLeidas(filtro FiltroNotificaciones) ([]NotificacionDetalle, error) {
	return s.store.ListarNoLeidas(s.store.DB(), filtro)
}

func (s *notificacionService) MarcarLeida(id int64) (*Notificacion, error) {
	n, err := s.store.ObtenerNotificacionPorID(s.store.DB(), id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, NoEncontrado("notificación no encontrada")
	}
	if err := s.store.MarcarLeida(s.store.DB(), id); err != nil {
		return nil, err
	}
	return s.store.ObtenerNotificacionPorID(s.store.DB(), id)
}

func (s *notificacionService) MarcarVariasLeidas(ids []int64) error {
	return s.store.MarcarVariasLeidas(s.store.DB(), ids)
}
