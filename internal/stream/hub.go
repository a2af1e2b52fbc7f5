// Package stream рассылает события мира клиентам инспекции по WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/sandblox/internal/eventbus"
	"github.com/annel0/sandblox/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// TypeSubscribed ответ клиенту на смену фильтра
const TypeSubscribed = "Subscribed"

// Message событие в том виде, в каком оно уходит клиенту
type Message struct {
	Type          string          `json:"type"`
	ID            string          `json:"id,omitempty"`
	Source        string          `json:"source,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Subscribe запрос клиента: получать только перечисленные типы (пусто - все)
type Subscribe struct {
	Types []string `json:"types"`
}

// Client подключенный клиент
type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string

	mu    sync.RWMutex
	types map[string]struct{}
}

func (c *Client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.types) == 0 {
		return true
	}
	_, ok := c.types[eventType]
	return ok
}

func (c *Client) setTypes(types []string) {
	c.mu.Lock()
	c.types = make(map[string]struct{}, len(types))
	for _, t := range types {
		c.types[t] = struct{}{}
	}
	c.mu.Unlock()
}

type outbound struct {
	eventType string
	data      []byte
}

// Hub держит клиентов и рассылает им события
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logging.Logger
}

// NewHub создаёт хаб. Цикл рассылки запускается Run.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Клиенты инспекции открываются с любых страниц
			},
		},
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, sendBuffer),
		done:       make(chan struct{}),
		logger:     logging.GetComponentLogger("stream"),
	}
}

// Run обрабатывает регистрацию, отключение и рассылку до отмены ctx.
// При выходе все соединения закрываются.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Debug("Клиент подключён: %s", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				close(client.send)
				delete(h.clients, client.id)
				h.logger.Debug("Клиент отключён: %s", client.id)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(message.eventType) {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					// Медленный клиент отключается
					close(client.send)
					delete(h.clients, id)
					h.logger.Warn("Клиент %s не успевает читать, отключён", id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent обработчик шины событий: ставит событие в очередь рассылки
func (h *Hub) HandleEvent(ctx context.Context, ev *eventbus.Envelope) {
	data, err := json.Marshal(Message{
		Type:          ev.EventType,
		ID:            ev.ID,
		Source:        ev.Source,
		CorrelationID: ev.CorrelationID,
		Timestamp:     ev.Timestamp,
		Payload:       json.RawMessage(ev.Payload),
	})
	if err != nil {
		h.logger.Error("Событие %s: %v", ev.ID, err)
		return
	}

	select {
	case h.broadcast <- outbound{eventType: ev.EventType, data: data}:
	case <-h.done:
	case <-ctx.Done():
	}
}

// HandleConnection обрабатывает новое WebSocket подключение
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Ошибка перехода на WebSocket: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// readPump читает запросы подписки клиента
func (h *Hub) readPump(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Ошибка чтения сообщения: %v", err)
			}
			return
		}

		var req Subscribe
		if err := json.Unmarshal(message, &req); err != nil {
			h.logger.Debug("Ошибка разбора сообщения от %s: %v", client.id, err)
			continue
		}
		client.setTypes(req.Types)

		ack, _ := json.Marshal(Message{Type: TypeSubscribed, Timestamp: time.Now().UTC()})
		h.mu.RLock()
		if _, ok := h.clients[client.id]; ok {
			select {
			case client.send <- ack:
			default:
			}
		}
		h.mu.RUnlock()
	}
}

// writePump отправляет сообщения клиенту и пингует его
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрыт
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler возвращает HandleConnection как http.Handler
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.HandleConnection)
}
