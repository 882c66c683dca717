// websocket.go
package inmotechcitas

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// =====================
// Configuración WS
// =====================

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// En producción: restringir orígenes
	CheckOrigin: func(r *http.Request) bool { return true },
}

// =====================
// WS Manager & Client
// =====================

// WSClient representa una conexión WebSocket activa de una persona con cuenta.
type WSClient struct {
	manager   *WSManager
	conn      *websocket.Conn
	send      chan []byte
	idPersona int64
	idRol     *int64
}

// WSManager mantiene las conexiones activas agrupadas por persona y por rol,
// para poder empujar tanto notificaciones personales como las dirigidas a un
// rol completo (p.ej. todos los agentes).
type WSManager struct {
	porPersona map[int64]map[*WSClient]bool
	porRol     map[int64]map[*WSClient]bool
	mux        sync.RWMutex
	register   chan *WSClient
	unregister chan *WSClient
	closed     chan struct{}
}

var _ Notifier = (*WSManager)(nil)

func NewWSManager() *WSManager {
	return &WSManager{
		porPersona: make(map[int64]map[*WSClient]bool),
		porRol:     make(map[int64]map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		closed:     make(chan struct{}),
	}
}

func (m *WSManager) Run() {
	for {
		select {
		case c := <-m.register:
			m.mux.Lock()
			if _, ok := m.porPersona[c.idPersona]; !ok {
				m.porPersona[c.idPersona] = make(map[*WSClient]bool)
			}
			m.porPersona[c.idPersona][c] = true
			if c.idRol != nil {
				if _, ok := m.porRol[*c.idRol]; !ok {
					m.porRol[*c.idRol] = make(map[*WSClient]bool)
				}
				m.porRol[*c.idRol][c] = true
			}
			m.mux.Unlock()
			Logger().Debug("ws_conectado", "id_persona", c.idPersona)
		case c := <-m.unregister:
			m.mux.Lock()
			if set, ok := m.porPersona[c.idPersona]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(m.porPersona, c.idPersona)
					}
				}
			}
			if c.idRol != nil {
				if set, ok := m.porRol[*c.idRol]; ok {
					delete(set, c)
					if len(set) == 0 {
						delete(m.porRol, *c.idRol)
					}
				}
			}
			m.mux.Unlock()
			Logger().Debug("ws_desconectado", "id_persona", c.idPersona)
		case <-m.closed:
			m.mux.Lock()
			for _, set := range m.porPersona {
				for cl := range set {
					cl.conn.Close()
					close(cl.send)
				}
			}
			m.porPersona = make(map[int64]map[*WSClient]bool)
			m.porRol = make(map[int64]map[*WSClient]bool)
			m.mux.Unlock()
			return
		}
	}
}

func (m *WSManager) Stop() { close(m.closed) }

// =====================
// Push helpers
// =====================

func (m *WSManager) enviar(set map[*WSClient]bool, data []byte) {
	for c := range set {
		select {
		case c.send <- data:
		default:
			// canal lleno -> desconectar
			go func(cl *WSClient) {
				m.unregister <- cl
				cl.conn.Close()
			}(c)
		}
	}
}

// PushPersona entrega el payload a todas las conexiones de una persona.
func (m *WSManager) PushPersona(idPersona int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		Logger().Warn("ws_marshal_failed", "err", err)
		return
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	if set, ok := m.porPersona[idPersona]; ok {
		m.enviar(set, data)
	}
}

// PushRol entrega el payload a todas las conexiones cuyo rol coincide.
func (m *WSManager) PushRol(idRol int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		Logger().Warn("ws_marshal_failed", "err", err)
		return
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	if set, ok := m.porRol[idRol]; ok {
		m.enviar(set, data)
	}
}

// =====================
// Pumps
// =====================

func (c *WSClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break // close on error or disconnect
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(msg)

			// agrupar mensajes pendientes
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// =====================
// ServeWS
// =====================

// extrae token de Authorization o query param
func extractTokenFromRequest(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1], nil
		}
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q, nil
	}
	return "", errors.New("no token provided")
}

// ServeWS valida el token, registra la conexión y envía al conectar las
// notificaciones no leídas de la persona y de su rol.
func ServeWS(store Store, auth AuthService, manager *WSManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := extractTokenFromRequest(r)
		if err != nil {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ParseToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		persona, err := store.ObtenerPersonaPorID(store.DB(), claims.IDPersona)
		if err != nil || persona == nil {
			http.Error(w, "persona not found", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger().Warn("ws_upgrade_failed", "err", err)
			return
		}

		client := &WSClient{
			manager:   manager,
			conn:      conn,
			send:      make(chan []byte, 256),
			idPersona: persona.ID,
			idRol:     persona.IDRol,
		}
		manager.register <- client

		go client.writePump()
		go client.readPump()

		// Notificaciones pendientes al conectar
		pendientes, err := store.ListarNoLeidas(store.DB(), FiltroNotificaciones{IDPersona: &persona.ID})
		if err == nil {
			for i := range pendientes {
				manager.PushPersona(persona.ID, pendientes[i].Notificacion)
			}
		}
		if persona.IDRol != nil {
			porRol, err := store.ListarNoLeidas(store.DB(), FiltroNotificaciones{IDRol: persona.IDRol})
			if err == nil {
				for i := range porRol {
					manager.PushPersona(persona.ID, porRol[i].Notificacion)
				}
			}
		}
	}
}
