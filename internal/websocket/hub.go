package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"random-chat-be/internal/dto"
	"random-chat-be/internal/entity"
	"random-chat-be/internal/pkg/logger"
	"random-chat-be/internal/service"

	"github.com/redis/go-redis/v9"
)

const (
	// Hash of user id -> open connection count across all instances.
	presenceKey = "chat:presence"
	// Deliveries for users connected to another instance.
	deliveryChannel = "chat:deliveries"
)

var _ service.Transport = (*Hub)(nil)

type delivery struct {
	TargetUserID int64           `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

// Hub keeps the open connections of this instance and delivers outbound frames to them.
// With redis configured, users connected elsewhere are reached through a pub/sub channel.
type Hub struct {
	// UserID -> open connections (a user may have several tabs)
	clients map[int64][]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex

	rdb    *redis.Client
	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[int64][]*Client),
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.trackPresence(client.UserID, 1)
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.done:
			h.mu.Lock()
			for id, clients := range h.clients {
				for _, c := range clients {
					c.closeSend()
					h.trackPresence(id, -1)
				}
			}
			h.clients = make(map[int64][]*Client)
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every local connection and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
			client.closeSend()
			h.trackPresence(client.UserID, -1)
			break
		}
	}
	if len(h.clients[client.UserID]) == 0 {
		delete(h.clients, client.UserID)
		h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
	}
}

// dropAsync hands a slow or dead client to Run without blocking the caller, which may
// hold the read lock.
func (h *Hub) dropAsync(client *Client) {
	go func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()
}

// ConnectedCount reports the local connections of a user.
func (h *Hub) ConnectedCount(userId int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userId])
}

func (h *Hub) SendText(ctx context.Context, userId int64, text string) error {
	return h.deliver(ctx, userId, dto.TextFrame(text))
}

func (h *Hub) SendTypingIndicator(ctx context.Context, userId int64) error {
	return h.deliver(ctx, userId, dto.TypingFrame())
}

// RelayPayload forwards a partner's message. The sender stays anonymous to the recipient.
func (h *Hub) RelayPayload(ctx context.Context, fromUserId, toUserId int64, payload entity.Payload) error {
	if payload.Text == "" && len(payload.Attachment) == 0 {
		return fmt.Errorf("%w: empty payload from user %d", service.ErrBadRequest, fromUserId)
	}
	return h.deliver(ctx, toUserId, dto.RelayFrame(payload))
}

func (h *Hub) deliver(ctx context.Context, userId int64, frame dto.OutboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", service.ErrBadRequest, err)
	}

	if h.sendLocal(userId, data) {
		return nil
	}

	if h.rdb == nil {
		return fmt.Errorf("%w: user %d has no open connection", service.ErrUnreachable, userId)
	}

	count, err := h.rdb.HGet(ctx, presenceKey, strconv.FormatInt(userId, 10)).Int64()
	if err != nil || count <= 0 {
		return fmt.Errorf("%w: user %d is not connected to any instance", service.ErrUnreachable, userId)
	}

	payload, _ := json.Marshal(delivery{TargetUserID: userId, Message: data})
	if err := h.rdb.Publish(ctx, deliveryChannel, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", service.ErrUnreachable, err)
	}
	return nil
}

// sendLocal queues data on every local connection of the user. It reports whether at
// least one connection accepted it.
func (h *Hub) sendLocal(userId int64, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for _, client := range h.clients[userId] {
		select {
		case client.Send <- data:
			delivered = true
		default:
			h.logger.Warn("Hub", "Client Send buffer full, dropping connection", map[string]interface{}{"user_id": userId})
			h.dropAsync(client)
		}
	}
	return delivered
}

func (h *Hub) trackPresence(userId int64, delta int64) {
	if h.rdb == nil {
		return
	}
	if err := h.rdb.HIncrBy(context.Background(), presenceKey, strconv.FormatInt(userId, 10), delta).Err(); err != nil {
		h.logger.Warn("Hub", "Failed to update presence", map[string]interface{}{
			"user_id": userId,
			"error":   err.Error(),
		})
	}
}

func (h *Hub) subscribeToRedis() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-h.done
		cancel()
	}()

	pubsub := h.rdb.Subscribe(ctx, deliveryChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload delivery
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis delivery parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			h.sendLocal(payload.TargetUserID, payload.Message)
		}
	}
}
