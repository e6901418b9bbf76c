package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/logcarga/armazem/internal/metrics"
	"github.com/logcarga/armazem/internal/monitor"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendBuf  = 32
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// A política de Origin é aplicada pelo middleware de CORS/auth upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Session é a identidade presa à conexão. Check falha quando o cadastro
// por trás do token deixa de valer (desativado, removido).
type Session interface {
	Check(ctx context.Context) error
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	session Session
}

// Hub distribui avisos de mudança e notificações para as views conectadas.
// Cliente lento é desconectado em vez de represar o broadcast.
type Hub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Broadcast serializa v e envia para todos os clientes.
func (h *Hub) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn().Err(err).Msg("realtime: broadcast não serializável")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Buffer cheio: derruba o cliente para não travar os demais.
			delete(h.clients, c)
			close(c.send)
			metrics.RealtimeClients.Dec()
		}
	}
}

// Notify implementa monitor.Notifier: o toast do painel viaja pelo mesmo canal.
func (h *Hub) Notify(ctx context.Context, notice monitor.Notice) error {
	h.Broadcast(struct {
		Kind string `json:"kind"`
		monitor.Notice
	}{Kind: "notice", Notice: notice})
	return nil
}

// ClientCount informa quantas views estão conectadas.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeSession valida a sessão antes do upgrade e a revalida a cada ping:
// quem perde a identidade no meio do caminho é desconectado.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, session Session) {
	if session != nil {
		if err := session.Check(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("realtime: sessão recusada na conexão")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"data":null,"error":{"code":"AUTH","message":"sessão inválida"}}`))
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("realtime: upgrade websocket falhou")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuf), session: session}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeClients.Inc()

	go h.writePump(c)
	go h.readPump(c)
}

// Close derruba todas as conexões abertas.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		metrics.RealtimeClients.Dec()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.RealtimeClients.Dec()
	}
}

// readPump só consome pongs e detecta desconexão; o canal é unidirecional.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if c.session != nil {
				if err := c.session.Check(context.Background()); err != nil {
					h.logger.Info().Err(err).Msg("realtime: sessão expirou, desconectando")
					return
				}
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
