// handlers.go
package inmotechcitas

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// ====================
// Sobre de respuesta
// ====================

// respuesta es el sobre uniforme de toda la API:
// {success, message, data?, total?, errors?}.
type respuesta struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	Total   *int         `json:"total,omitempty"`
	Errors  []CampoError `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, resp respuesta) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func respondOK(w http.ResponseWriter, status int, message string, data any) {
	respondJSON(w, status, respuesta{Success: true, Message: message, Data: data})
}

func respondLista(w http.ResponseWriter, message string, data any, total int) {
	respondJSON(w, http.StatusOK, respuesta{Success: true, Message: message, Data: data, Total: &total})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, status, respuesta{Success: false, Message: message})
}

// ====================
// API
// ====================

type API struct {
	citas  CitaService
	notifs NotificacionService
	auth   AuthService
	store  Store
	ws     *WSManager
	cfg    *Config
	logger *slog.Logger
}

func NewAPI(cfg *Config, store Store, citas CitaService, notifs NotificacionService, auth AuthService, ws *WSManager) *API {
	return &API{
		citas:  citas,
		notifs: notifs,
		auth:   auth,
		store:  store,
		ws:     ws,
		cfg:    cfg,
		logger: Logger(),
	}
}

func (a *API) log(r *http.Request) *slog.Logger {
	return a.logger.With("request_id", RequestIDFromContext(r.Context()))
}

// manejarError traduce los errores de dominio al código HTTP del contrato:
// validación 400, no encontrado 404, conflicto de horario 409, resto 500.
func (a *API) manejarError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidacionError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, respuesta{
			Success: false,
			Message: "errores de validación en la solicitud",
			Errors:  verr.Campos,
		})
	case errors.Is(err, ErrNoEncontrado):
		respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrHorarioNoDisponible):
		respondError(w, r, http.StatusConflict, ErrHorarioNoDisponible.Error())
	case errors.Is(err, ErrInvalidInput):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		respondError(w, r, http.StatusUnauthorized, "credenciales inválidas")
	default:
		a.log(r).Error("internal_error", "err", err, "path", r.URL.Path)
		msg := "error interno del servidor"
		if !a.cfg.IsProduction() {
			msg = err.Error()
		}
		respondError(w, r, http.StatusInternalServerError, msg)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidacionError{Campos: []CampoError{
			{Campo: "body", Mensaje: "cuerpo de la petición inválido"},
		}}
	}
	return nil
}

func parseID(r *http.Request, nombre string) (int64, error) {
	raw := mux.Vars(r)[nombre]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidacionError{Campos: []CampoError{
			{Campo: nombre, Mensaje: "debe ser un identificador numérico positivo"},
		}}
	}
	return id, nil
}

// ====================
// Rutas
// ====================

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.requestIDMiddleware)
	r.Use(a.loggingMiddleware)
	r.Use(SecurityHeadersMiddleware)

	r.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", ServeWS(a.store, a.auth, a.ws)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(RateLimitMiddleware(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst))

	// Límite estricto para escrituras y autenticación.
	strict := RateLimitMiddleware(a.cfg.StrictRateLimitRPS, a.cfg.StrictRateLimitBurst)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Use(strict)
	auth.HandleFunc("/registro", a.handleRegistro).Methods(http.MethodPost)
	auth.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)

	api.Handle("/citas", strict(http.HandlerFunc(a.handleCrearCita))).Methods(http.MethodPost)
	api.HandleFunc("/citas", a.handleListarCitas).Methods(http.MethodGet)
	api.HandleFunc("/citas/buscar-persona", a.handleBuscarPersona).Methods(http.MethodGet)
	api.HandleFunc("/citas/{id}", a.handleObtenerCita).Methods(http.MethodGet)
	api.Handle("/citas/{id}/confirmar", strict(http.HandlerFunc(a.handleConfirmarCita))).Methods(http.MethodPost)
	api.Handle("/citas/{id}/cancelar", strict(http.HandlerFunc(a.handleCancelarCita))).Methods(http.MethodPost)
	api.Handle("/citas/{id}/reagendar", strict(http.HandlerFunc(a.handleReagendarCita))).Methods(http.MethodPost)
	api.Handle("/citas/{id}/completar", strict(http.HandlerFunc(a.handleCompletarCita))).Methods(http.MethodPost)
	api.Handle("/citas/{id}", strict(http.HandlerFunc(a.handleActualizarCita))).Methods(http.MethodPatch)
	api.Handle("/citas/{id}", strict(RequireAuth(a.auth, a.handleEliminarCita))).Methods(http.MethodDelete)

	api.HandleFunc("/estados-cita", a.handleListarEstados).Methods(http.MethodGet)

	api.HandleFunc("/notificaciones", a.handleNotificacionesNoLeidas).Methods(http.MethodGet)
	api.HandleFunc("/notificaciones/leer-multiples", a.handleMarcarVariasLeidas).Methods(http.MethodPost)
	api.HandleFunc("/notificaciones/{id}/leer", a.handleMarcarLeida).Methods(http.MethodPatch)

	return r
}

// ====================
// Middleware HTTP
// ====================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := WithRequestID(r.Context())
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log(r).Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// ====================
// Handlers: citas
// ====================

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, "Inmotech - Módulo de Citas", map[string]string{
		"service": "inmotech-citas",
		"version": "1.0.0",
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}

func (a *API) handleCrearCita(w http.ResponseWriter, r *http.Request) {
	var req CrearCitaRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}

	sol := SolicitudCita{
		DatosPersona:  req.Datos(),
		IDInmueble:    req.IDInmueble,
		IDServicio:    req.IDServicio,
		FechaCita:     req.FechaCita,
		HoraInicio:    req.HoraInicio,
		HoraFin:       req.HoraFin,
		Observaciones: req.Observaciones,
		IDEstadoCita:  req.IDEstadoCita,
	}
	detalle, err := a.citas.Crear(sol)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelInfo, "citas", "crear", "cita creada",
		map[string]any{"id_cita": detalle.ID, "id_inmueble": detalle.IDInmueble})
	respondOK(w, http.StatusCreated, "Cita creada exitosamente", detalle)
}

func (a *API) handleListarCitas(w http.ResponseWriter, r *http.Request) {
	var filtro FiltroCitas
	q := r.URL.Query()
	if raw := q.Get("estado"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.manejarError(w, r, &ValidacionError{Campos: []CampoError{
				{Campo: "estado", Mensaje: "debe ser un identificador numérico"},
			}})
			return
		}
		filtro.IDEstadoCita = &id
	}
	if raw := q.Get("fecha"); raw != "" {
		if !reFechaISO.MatchString(raw) {
			a.manejarError(w, r, &ValidacionError{Campos: []CampoError{
				{Campo: "fecha", Mensaje: "debe tener formato YYYY-MM-DD"},
			}})
			return
		}
		filtro.FechaCita = &raw
	}
	if raw := q.Get("agente"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.manejarError(w, r, &ValidacionError{Campos: []CampoError{
				{Campo: "agente", Mensaje: "debe ser un identificador numérico"},
			}})
			return
		}
		filtro.IDAgenteAsignado = &id
	}

	citas, err := a.citas.Listar(filtro)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondLista(w, "Citas obtenidas exitosamente", citas, len(citas))
}

func (a *API) handleObtenerCita(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	detalle, err := a.citas.ObtenerPorID(id)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Cita obtenida exitosamente", detalle)
}

func (a *API) handleBuscarPersona(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tipo := TipoDocumento(q.Get("tipo_documento"))
	numero := q.Get("numero_documento")

	valido := false
	for _, t := range TiposDocumento {
		if t == tipo {
			valido = true
			break
		}
	}
	if !valido {
		a.manejarError(w, r, &ValidacionError{Campos: []CampoError{
			{Campo: "tipo_documento", Mensaje: "tipo de documento inválido"},
		}})
		return
	}
	if numero == "" {
		a.manejarError(w, r, &ValidacionError{Campos: []CampoError{
			{Campo: "numero_documento", Mensaje: "el campo numero_documento es obligatorio"},
		}})
		return
	}
	persona, err := a.citas.BuscarPersona(tipo, numero)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Persona encontrada", persona)
}

func (a *API) handleConfirmarCita(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	var req ConfirmarCitaRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}
	detalle, err := a.citas.Confirmar(id, req.IDAgenteAsignado)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelInfo, "citas", "confirmar", "cita confirmada",
		map[string]any{"id_cita": id, "id_agente": req.IDAgenteAsignado})
	respondOK(w, http.StatusOK, "Cita confirmada exitosamente", detalle)
}

func (a *API) handleCancelarCita(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	var req CancelarCitaRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}
	detalle, err := a.citas.Cancelar(id, req.MotivoCancelacion)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelInfo, "citas", "cancelar", "cita cancelada",
		map[string]any{"id_cita": id})
	respondOK(w, http.StatusOK, "Cita cancelada exitosamente", detalle)
}

func (a *API) handleReagendarCita(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	var req ReagendarCitaRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}
	detalle, err := a.citas.Reagendar(id, req.FechaCita, req.HoraInicio, req.HoraFin)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelInfo, "citas", "reagendar", "cita reagendada",
		map[string]any{"id_cita": id, "fecha": req.FechaCita})
	respondOK(w, http.StatusOK, "Cita reagendada exitosamente", detalle)
}

func (a *API) handleCompletarCita(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	detalle, err := a.citas.Completar(id)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelInfo, "citas", "completar", "cita completada",
		map[string]any{"id_cita": id})
	respondOK(w, http.StatusOK, "Cita completada exitosamente", detalle)
}

func (a *API) handleActualizarCita(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	var req ActualizarCitaRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}
	detalle, err := a.citas.Actualizar(id, req.Campos())
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelInfo, "citas", "actualizar", "cita actualizada",
		map[string]any{"id_cita": id})
	respondOK(w, http.StatusOK, "Cita actualizada exitosamente", detalle)
}

func (a *API) handleEliminarCita(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := a.citas.Eliminar(id); err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelWarn, "citas", "eliminar", "cita eliminada",
		map[string]any{"id_cita": id})
	respondOK(w, http.StatusOK, "Cita eliminada exitosamente", nil)
}

// ====================
// Handlers: catálogo y notificaciones
// ====================

func (a *API) handleListarEstados(w http.ResponseWriter, r *http.Request) {
	estados, err := a.store.ListarEstados(a.store.DB())
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondLista(w, "Estados obtenidos exitosamente", estados, len(estados))
}

func (a *API) handleNotificacionesNoLeidas(w http.ResponseWriter, r *http.Request) {
	var filtro FiltroNotificaciones
	q := r.URL.Query()
	if raw := q.Get("id_rol"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.manejarError(w, r, &ValidacionError{Campos: []CampoError{
				{Campo: "id_rol", Mensaje: "debe ser un identificador numérico"},
			}})
			return
		}
		filtro.IDRol = &id
	}
	if raw := q.Get("id_persona"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.manejarError(w, r, &ValidacionError{Campos: []CampoError{
				{Campo: "id_persona", Mensaje: "debe ser un identificador numérico"},
			}})
			return
		}
		filtro.IDPersona = &id
	}

	notas, err := a.notifs.ListarNoLeidas(filtro)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondLista(w, "Notificaciones obtenidas exitosamente", notas, len(notas))
}

func (a *API) handleMarcarLeida(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	n, err := a.notifs.MarcarLeida(id)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Notificación marcada como leída", n)
}

func (a *API) handleMarcarVariasLeidas(w http.ResponseWriter, r *http.Request) {
	var req MarcarLeidasRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := a.notifs.MarcarVariasLeidas(req.IDs); err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Notificaciones marcadas como leídas", nil)
}

// ====================
// Handlers: auth
// ====================

func (a *API) handleRegistro(w http.ResponseWriter, r *http.Request) {
	var req RegistroRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}
	persona, token, err := a.auth.Registrar(RegistroCuenta{
		DatosPersona: req.Datos(),
		Password:     req.Password,
		Rol:          req.Rol,
	})
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	RecordAudit(r.Context(), AuditLevelInfo, "auth", "registro", "cuenta registrada",
		map[string]any{"id_persona": persona.ID})
	respondOK(w, http.StatusCreated, "Cuenta registrada exitosamente", map[string]any{
		"persona": persona,
		"token":   token,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.manejarError(w, r, err)
		return
	}
	if err := req.Validar(); err != nil {
		a.manejarError(w, r, err)
		return
	}
	persona, token, err := a.auth.Login(TipoDocumento(req.TipoDocumento), req.NumeroDocumento, req.Password)
	if err != nil {
		a.manejarError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Inicio de sesión exitoso", map[string]any{
		"persona": persona,
		"token":   token,
	})
}
