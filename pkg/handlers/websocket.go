package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"support-chat-dispatcher/pkg/chat"
	"support-chat-dispatcher/pkg/config"
	"support-chat-dispatcher/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Inbound event names
const (
	inboundMessage       = "message"
	inboundCancelMessage = "cancel_message"
	inboundCancelAll     = "cancel_all_messages"
	inboundTyping        = "typing"
	inboundPing          = "ping"
)

// ChatService is what a chat connection needs from the processor
type ChatService interface {
	Connect(ctx context.Context, connID, requestedSessionID string) (string, error)
	Disconnect(ctx context.Context, connID string)
	HandleMessage(ctx context.Context, connID string, in chat.InboundMessage)
	CancelMessage(connID, messageID string)
	CancelAll(connID string)
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub tracks open connections and delivers events to them. It implements
// chat.Emitter.
type Hub struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	clients map[string]chan models.Event
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]chan models.Event),
	}
}

// Emit queues event for connID. Events for unknown connections, or for a
// connection whose buffer is full, are dropped.
func (h *Hub) Emit(connID string, event models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send, ok := h.clients[connID]
	if !ok {
		return
	}
	select {
	case send <- event:
	default:
		h.logger.WithFields(logrus.Fields{
			"connection_id": connID,
			"event":         event.Name,
		}).Warn("Dropping event for slow connection")
	}
}

func (h *Hub) register(connID string) chan models.Event {
	send := make(chan models.Event, sendBuffer)
	h.mu.Lock()
	h.clients[connID] = send
	h.mu.Unlock()
	return send
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if send, ok := h.clients[connID]; ok {
		delete(h.clients, connID)
		close(send)
	}
}

// ChatSocket serves one chat session per websocket connection
type ChatSocket struct {
	hub      *Hub
	chat     ChatService
	config   *config.Config
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewChatSocket(hub *Hub, chat ChatService, config *config.Config, logger *logrus.Logger) *ChatSocket {
	return &ChatSocket{
		hub:    hub,
		chat:   chat,
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: writeWait,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (s *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.New().String()
	logger := s.logger.WithField("connection_id", connID)

	send := s.hub.register(connID)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, send)
	}()

	// The request context is done once the handler returns; the session
	// must outlive it for the final save.
	ctx := context.WithoutCancel(r.Context())

	if _, err := s.chat.Connect(ctx, connID, r.URL.Query().Get("session_id")); err != nil {
		logger.WithError(err).Error("Failed to open chat session")
		s.hub.Emit(connID, models.NewEvent(models.EventError, models.ErrorPayload{
			Code:    models.CodeSystemError,
			Message: "Failed to open session",
		}))
		s.hub.unregister(connID)
		<-writerDone
		return
	}

	s.readPump(ctx, conn, connID, logger)

	s.chat.Disconnect(ctx, connID)
	s.hub.unregister(connID)
	<-writerDone
}

func (s *ChatSocket) readPump(ctx context.Context, conn *websocket.Conn, connID string, logger *logrus.Entry) {
	limit := rate.Limit(s.config.ConnectionRatePerSecond)
	if s.config.ConnectionRatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := s.config.ConnectionRateBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var envelope inboundEnvelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("Websocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			s.emitError(connID, models.CodeRateLimited, "Too many messages, slow down")
			continue
		}

		s.dispatch(ctx, connID, envelope, logger)
	}
}

func (s *ChatSocket) dispatch(ctx context.Context, connID string, envelope inboundEnvelope, logger *logrus.Entry) {
	switch envelope.Event {
	case inboundMessage:
		var in chat.InboundMessage
		if err := decodeData(envelope.Data, &in); err != nil {
			s.emitError(connID, models.CodeInvalidRequest, "Invalid message payload")
			return
		}
		s.chat.HandleMessage(ctx, connID, in)

	case inboundCancelMessage:
		var req struct {
			MessageID string `json:"message_id"`
		}
		if err := decodeData(envelope.Data, &req); err != nil {
			s.emitError(connID, models.CodeInvalidRequest, "Invalid cancel payload")
			return
		}
		s.chat.CancelMessage(connID, req.MessageID)

	case inboundCancelAll:
		s.chat.CancelAll(connID)

	case inboundTyping:
		logger.Debug("Client typing")

	case inboundPing:
		s.hub.Emit(connID, models.NewEvent(models.EventPong, nil))

	default:
		s.emitError(connID, models.CodeUnsupportedEvent, "Unsupported event: "+envelope.Event)
	}
}

func (s *ChatSocket) writePump(conn *websocket.Conn, send <-chan models.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				s.logger.WithError(err).Debug("Websocket write failed")
				conn.Close()
				// Keep draining until the hub closes the channel.
				for range send {
				}
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				for range send {
				}
				return
			}
		}
	}
}

func (s *ChatSocket) emitError(connID, code, message string) {
	s.hub.Emit(connID, models.NewEvent(models.EventError, models.ErrorPayload{
		Code:    code,
		Message: message,
	}))
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
