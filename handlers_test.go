package inmotechcitas

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

type sobre struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Total   *int            `json:"total"`
	Errors  []CampoError    `json:"errors"`
}

type entornoAPI struct {
	srv        *httptest.Server
	store      *Storage
	idInmueble int64
	idServicio int64
}

func nuevaAPI(t *testing.T) *entornoAPI {
	t.Helper()
	s := newTestStorage(t)
	estados, err := NewEstadoCache(s)
	require.NoError(t, err)
	SetAuditRepository(s)
	t.Cleanup(func() { SetAuditRepository(nil) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ws := NewWSManager()
	authSvc := NewAuthService(s, "secreto-de-pruebas", time.Hour, log)
	citaSvc := NewCitaService(s, estados, ws, log)
	notifSvc := NewNotificacionService(s, ws, log)

	cfg := &Config{Env: "test", RateLimitRPS: 1000, RateLimitBurst: 1000, StrictRateLimitRPS: 1000, StrictRateLimitBurst: 1000}
	api := NewAPI(cfg, s, citaSvc, notifSvc, authSvc, ws)

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	return &entornoAPI{
		srv:        srv,
		store:      s,
		idInmueble: seedInmueble(t, s),
		idServicio: seedServicio(t, s),
	}
}

func (e *entornoAPI) hacer(t *testing.T, method, path string, body any, token string) (int, sobre) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var s sobre
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return resp.StatusCode, s
}

func (e *entornoAPI) cuerpoCita(fecha, inicio, fin string) map[string]any {
	return map[string]any{
		"tipo_documento":   "CC",
		"numero_documento": "1234567",
		"primer_nombre":    "Juan",
		"primer_apellido":  "Pérez",
		"correo":           "juan@example.com",
		"telefono":         "+573001234567",
		"id_inmueble":      e.idInmueble,
		"id_servicio":      e.idServicio,
		"fecha_cita":       fecha,
		"hora_inicio":      inicio,
		"hora_fin":         fin,
	}
}

func decodeCita(t *testing.T, data json.RawMessage) CitaDetalle {
	t.Helper()
	var d CitaDetalle
	require.NoError(t, json.Unmarshal(data, &d))
	return d
}

func TestFlujoCompletoDeCitas(t *testing.T) {
	e := nuevaAPI(t)
	fecha := fechaFutura()

	// Crear.
	status, resp := e.hacer(t, http.MethodPost, "/api/v1/citas", e.cuerpoCita(fecha, "09:00", "10:00"), "")
	require.Equal(t, http.StatusCreated, status)
	require.True(t, resp.Success)
	assert.Equal(t, "Cita creada exitosamente", resp.Message)
	cita := decodeCita(t, resp.Data)
	require.NotZero(t, cita.ID)
	require.NotNil(t, cita.Estado)
	assert.Equal(t, EstadoSolicitada, cita.Estado.NombreEstado)

	// Solapada: 409.
	status, resp = e.hacer(t, http.MethodPost, "/api/v1/citas", e.cuerpoCita(fecha, "09:30", "10:30"), "")
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, resp.Success)

	// Espalda con espalda: entra.
	status, _ = e.hacer(t, http.MethodPost, "/api/v1/citas", e.cuerpoCita(fecha, "10:00", "11:00"), "")
	assert.Equal(t, http.StatusCreated, status)

	// Listado con filtro por fecha.
	status, resp = e.hacer(t, http.MethodGet, "/api/v1/citas?fecha="+fecha, nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Total)
	assert.Equal(t, 2, *resp.Total)

	status, resp = e.hacer(t, http.MethodGet, "/api/v1/citas?estado=no-numerico", nil, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "estado", resp.Errors[0].Campo)

	// Confirmar con agente.
	agente := crearAgente(t, e.store)
	status, resp = e.hacer(t, http.MethodPost, "/api/v1/citas/"+itoa(cita.ID)+"/confirmar",
		map[string]any{"id_agente_asignado": agente.ID}, "")
	require.Equal(t, http.StatusOK, status)
	confirmada := decodeCita(t, resp.Data)
	assert.Equal(t, EstadoConfirmada, confirmada.Estado.NombreEstado)

	// Filtros por estado y por agente sobre ids reales.
	solicitada, err := e.store.ObtenerEstadoPorNombre(e.store.DB(), EstadoSolicitada)
	require.NoError(t, err)
	status, resp = e.hacer(t, http.MethodGet, "/api/v1/citas?estado="+itoa(solicitada.ID), nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Total)
	assert.Equal(t, 1, *resp.Total)

	status, resp = e.hacer(t, http.MethodGet, "/api/v1/citas?agente="+itoa(agente.ID), nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Total)
	assert.Equal(t, 1, *resp.Total)

	// Cancelar con motivo corto: validación.
	status, resp = e.hacer(t, http.MethodPost, "/api/v1/citas/"+itoa(cita.ID)+"/cancelar",
		map[string]any{"motivo_cancelacion": "corto"}, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "motivo_cancelacion", resp.Errors[0].Campo)

	// Cancelar bien.
	status, resp = e.hacer(t, http.MethodPost, "/api/v1/citas/"+itoa(cita.ID)+"/cancelar",
		map[string]any{"motivo_cancelacion": "El cliente no puede asistir esta semana"}, "")
	require.Equal(t, http.StatusOK, status)
	cancelada := decodeCita(t, resp.Data)
	assert.Equal(t, EstadoCancelada, cancelada.Estado.NombreEstado)
}

func TestCrearCitaConReferenciaRotaHTTP(t *testing.T) {
	e := nuevaAPI(t)

	cuerpo := e.cuerpoCita(fechaFutura(), "09:00", "10:00")
	cuerpo["id_inmueble"] = 9999
	status, resp := e.hacer(t, http.MethodPost, "/api/v1/citas", cuerpo, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, resp.Success)
}

func TestBuscarPersonaYEstados(t *testing.T) {
	e := nuevaAPI(t)

	status, _ := e.hacer(t, http.MethodPost, "/api/v1/citas", e.cuerpoCita(fechaFutura(), "09:00", "10:00"), "")
	require.Equal(t, http.StatusCreated, status)

	status, resp := e.hacer(t, http.MethodGet, "/api/v1/citas/buscar-persona?tipo_documento=CC&numero_documento=1234567", nil, "")
	require.Equal(t, http.StatusOK, status)
	var p Persona
	require.NoError(t, json.Unmarshal(resp.Data, &p))
	assert.Equal(t, "Juan", p.PrimerNombre)

	status, _ = e.hacer(t, http.MethodGet, "/api/v1/citas/buscar-persona?tipo_documento=CC&numero_documento=0000000", nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.hacer(t, http.MethodGet, "/api/v1/citas/buscar-persona?tipo_documento=DNI&numero_documento=1234567", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = e.hacer(t, http.MethodGet, "/api/v1/estados-cita", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Total)
	assert.Equal(t, 6, *resp.Total)
}

func TestNotificacionesHTTP(t *testing.T) {
	e := nuevaAPI(t)

	status, _ := e.hacer(t, http.MethodPost, "/api/v1/citas", e.cuerpoCita(fechaFutura(), "09:00", "10:00"), "")
	require.Equal(t, http.StatusCreated, status)

	rolAgente, err := e.store.ObtenerRolPorNombre(e.store.DB(), RolAgente)
	require.NoError(t, err)

	status, resp := e.hacer(t, http.MethodGet, "/api/v1/notificaciones?id_rol="+itoa(rolAgente.ID), nil, "")
	require.Equal(t, http.StatusOK, status)
	var notas []NotificacionDetalle
	require.NoError(t, json.Unmarshal(resp.Data, &notas))
	require.Len(t, notas, 1)
	assert.Equal(t, NotifCitaSolicitada, notas[0].TipoNotificacion)

	status, _ = e.hacer(t, http.MethodPatch, "/api/v1/notificaciones/"+itoa(notas[0].ID)+"/leer", nil, "")
	require.Equal(t, http.StatusOK, status)

	status, resp = e.hacer(t, http.MethodGet, "/api/v1/notificaciones?id_rol="+itoa(rolAgente.ID), nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Total)
	assert.Equal(t, 0, *resp.Total)

	status, _ = e.hacer(t, http.MethodPatch, "/api/v1/notificaciones/999999/leer", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEliminarRequiereToken(t *testing.T) {
	e := nuevaAPI(t)

	status, resp := e.hacer(t, http.MethodPost, "/api/v1/citas", e.cuerpoCita(fechaFutura(), "09:00", "10:00"), "")
	require.Equal(t, http.StatusCreated, status)
	cita := decodeCita(t, resp.Data)

	// Sin token: 401.
	status, _ = e.hacer(t, http.MethodDelete, "/api/v1/citas/"+itoa(cita.ID), nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	// Registrar una cuenta y repetir con Bearer.
	status, resp = e.hacer(t, http.MethodPost, "/api/v1/auth/registro", map[string]any{
		"tipo_documento":   "CC",
		"numero_documento": "7654321",
		"primer_nombre":    "Laura",
		"primer_apellido":  "Gómez",
		"correo":           "laura@example.com",
		"telefono":         "+573009876543",
		"password":         "contraseña-segura",
		"rol":              RolAdministrador,
	}, "")
	require.Equal(t, http.StatusCreated, status)
	var cuenta struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &cuenta))
	require.NotEmpty(t, cuenta.Token)

	status, _ = e.hacer(t, http.MethodDelete, "/api/v1/citas/"+itoa(cita.ID), nil, cuenta.Token)
	require.Equal(t, http.StatusOK, status)

	status, _ = e.hacer(t, http.MethodGet, "/api/v1/citas/"+itoa(cita.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLoginHTTP(t *testing.T) {
	e := nuevaAPI(t)

	status, _ := e.hacer(t, http.MethodPost, "/api/v1/auth/registro", map[string]any{
		"tipo_documento":   "CC",
		"numero_documento": "1234567",
		"primer_nombre":    "Juan",
		"primer_apellido":  "Pérez",
		"correo":           "juan@example.com",
		"telefono":         "+573001234567",
		"password":         "contraseña-segura",
	}, "")
	require.Equal(t, http.StatusCreated, status)

	status, resp := e.hacer(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"tipo_documento":   "CC",
		"numero_documento": "1234567",
		"password":         "contraseña-segura",
	}, "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)

	status, _ = e.hacer(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"tipo_documento":   "CC",
		"numero_documento": "1234567",
		"password":         "incorrecta",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestActualizarParcialHTTP(t *testing.T) {
	e := nuevaAPI(t)

	status, resp := e.hacer(t, http.MethodPost, "/api/v1/citas", e.cuerpoCita(fechaFutura(), "09:00", "10:00"), "")
	require.Equal(t, http.StatusCreated, status)
	cita := decodeCita(t, resp.Data)

	// Campo fuera de la lista permitida: cuerpo inválido.
	status, _ = e.hacer(t, http.MethodPatch, "/api/v1/citas/"+itoa(cita.ID),
		map[string]any{"id_estado_cita": 6}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	// Cuerpo vacío: al menos un campo.
	status, resp = e.hacer(t, http.MethodPatch, "/api/v1/citas/"+itoa(cita.ID), map[string]any{}, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, resp.Errors)

	status, resp = e.hacer(t, http.MethodPatch, "/api/v1/citas/"+itoa(cita.ID),
		map[string]any{"observaciones": "Llevar documentos del inmueble"}, "")
	require.Equal(t, http.StatusOK, status)
	actualizada := decodeCita(t, resp.Data)
	require.NotNil(t, actualizada.Observaciones)
	assert.Equal(t, "Llevar documentos del inmueble", *actualizada.Observaciones)
	assert.Equal(t, EstadoSolicitada, actualizada.Estado.NombreEstado)
}
