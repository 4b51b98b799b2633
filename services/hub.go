package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"planewars/models"
	"planewars/repository"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message is the wire envelope for both directions.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// inboundMessage defers payload decoding to the intent handler.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound event types.
const (
	EventAuthenticated   = "authenticated"
	EventRoomJoined      = "room_joined"
	EventRoomUpdated     = "room_updated"
	EventRoomLeft        = "room_left"
	EventPlayerJoined    = "player_joined"
	EventPlayerLeft      = "player_left"
	EventPlayerReady     = "player_ready"
	EventRoomDissolved   = "room_dissolved"
	EventPlayerKicked    = "player_kicked"
	EventHostTransferred = "host_transferred"
	EventGameStarted     = "game_started"
	EventBattleStarted   = "battle_started"
	EventAirplanePlaced  = "airplane_placed"
	EventAttackResult    = "attack_result"
	EventGameEnded       = "game_ended"
	EventError           = "error"
	EventPong            = "pong"
)

// HubConfig is the gateway's realtime tuning.
type HubConfig struct {
	AuthDeadline    time.Duration
	HeartbeatWindow time.Duration
	DisconnectGrace time.Duration
}

// Hub is the session gateway: the sole entry point for realtime intents.
// It authenticates connections, routes intents to the aggregates through
// the services, and fans resulting events out to room members. Each
// connection's intents are processed one at a time in arrival order by its
// read pump; cross-connection conflicts serialize at the services.
type Hub struct {
	registry *ConnectionRegistry
	auth     *AuthService
	rooms    *RoomService
	games    *GameService
	resolver *ReconnectionResolver
	sessions repository.SessionStore
	cfg      HubConfig

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex

	graceMu     sync.Mutex
	graceTimers map[uint]*time.Timer
}

func NewHub(
	registry *ConnectionRegistry,
	auth *AuthService,
	rooms *RoomService,
	games *GameService,
	resolver *ReconnectionResolver,
	sessions repository.SessionStore,
	cfg HubConfig,
) *Hub {
	return &Hub{
		registry:    registry,
		auth:        auth,
		rooms:       rooms,
		games:       games,
		resolver:    resolver,
		sessions:    sessions,
		cfg:         cfg,
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		graceTimers: make(map[uint]*time.Timer),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.socketID] = client
			h.mutex.Unlock()
			logrus.WithField("socket_id", client.socketID).
				Debugf("Client registered, %d connected", len(h.clients))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.socketID]; ok {
				delete(h.clients, client.socketID)
				close(client.send)
			}
			h.mutex.Unlock()
			h.handleDisconnect(client)
		}
	}
}

// RegisterClient wires a fresh websocket connection into the gateway. The
// connection must authenticate within the configured deadline or it is
// closed.
func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:      h,
		socketID: uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, 256),
	}
	h.registry.Register(client.socketID)
	h.register <- client

	go client.writePump()
	go client.readPump()

	time.AfterFunc(h.cfg.AuthDeadline, func() {
		c := h.registry.Get(client.socketID)
		if c != nil && c.Identity == nil {
			logrus.WithField("socket_id", client.socketID).Info("Closing unauthenticated connection")
			client.sendError(models.NewAuthRequiredError("authentication deadline exceeded"))
			client.conn.Close()
		}
	})

	return client
}

// BroadcastToRoom fans an event out to every connection bound to roomID,
// optionally excluding one socket (e.g. the joiner, who already received a
// direct reply).
func (h *Hub) BroadcastToRoom(roomID uint, eventType string, payload interface{}, excludeSocket string) {
	var skip map[string]struct{}
	if excludeSocket != "" {
		skip = map[string]struct{}{excludeSocket: {}}
	}
	h.broadcast(roomID, eventType, payload, skip)
}

// BroadcastToRoomExcludingUser fans an event out to the room skipping every
// connection the identity holds. REST mutations use this: the actor already
// has the HTTP reply, and may have any number of sockets open.
func (h *Hub) BroadcastToRoomExcludingUser(roomID uint, eventType string, payload interface{}, excludeUserID uint) {
	sockets := h.registry.SocketsForUser(excludeUserID)
	skip := make(map[string]struct{}, len(sockets))
	for _, socketID := range sockets {
		skip[socketID] = struct{}{}
	}
	h.broadcast(roomID, eventType, payload, skip)
}

func (h *Hub) broadcast(roomID uint, eventType string, payload interface{}, skip map[string]struct{}) {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		logrus.WithError(err).WithField("event", eventType).Error("Failed to marshal broadcast")
		return
	}

	sockets := h.registry.SocketsInRoom(roomID)

	// Slow clients are collected under the read lock and dropped after it
	// is released; dropClient re-checks membership under the write lock so
	// concurrent broadcasts cannot close the same channel twice.
	var slow []string
	h.mutex.RLock()
	for _, socketID := range sockets {
		if _, excluded := skip[socketID]; excluded {
			continue
		}
		client, ok := h.clients[socketID]
		if !ok {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, socketID)
		}
	}
	h.mutex.RUnlock()

	for _, socketID := range slow {
		h.dropClient(socketID)
	}
}

// dropClient removes a client whose send buffer overflowed. Its pumps
// observe the closed channel and tear the connection down.
func (h *Hub) dropClient(socketID string) {
	h.mutex.Lock()
	client, ok := h.clients[socketID]
	if ok {
		delete(h.clients, socketID)
		close(client.send)
	}
	h.mutex.Unlock()
	if ok {
		logrus.WithField("socket_id", socketID).Warn("Send buffer full, dropping connection")
	}
}

// SendToUser delivers an event to every connection the identity holds.
func (h *Hub) SendToUser(userID uint, eventType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		logrus.WithError(err).WithField("event", eventType).Error("Failed to marshal event")
		return
	}

	sockets := h.registry.SocketsForUser(userID)

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for _, socketID := range sockets {
		if client, ok := h.clients[socketID]; ok {
			select {
			case client.send <- data:
			default:
			}
		}
	}
}

// BindUserToRoom points all of the identity's connections at roomID (0 to
// unbind). REST joins go through here so an already-open websocket starts
// receiving the room's events.
func (h *Hub) BindUserToRoom(userID, roomID uint) {
	for _, socketID := range h.registry.SocketsForUser(userID) {
		h.registry.SetRoom(socketID, roomID)
	}
}

// handleDisconnect runs after a connection leaves the client map. If it was
// the identity's last connection the session record expires and, when the
// identity sits in a room, a grace timer starts; a member that has not
// reconnected when it fires is removed through the normal leave path.
func (h *Hub) handleDisconnect(client *Client) {
	conn, wasLast := h.registry.Unregister(client.socketID)
	if conn == nil || conn.Identity == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"socket_id": client.socketID, "user_id": conn.Identity.UserID,
	})
	if !wasLast {
		logCtx.Debug("Connection closed, identity still online")
		return
	}

	ctx := context.Background()
	if err := h.sessions.MarkOffline(ctx, conn.Identity.UserID); err != nil {
		logCtx.WithError(err).Warn("Failed to expire session record")
	}
	logCtx.Info("Identity offline")

	if conn.RoomID != 0 {
		h.scheduleReap(conn.Identity.UserID, conn.RoomID)
	}
}

func (h *Hub) scheduleReap(userID, roomID uint) {
	h.graceMu.Lock()
	defer h.graceMu.Unlock()

	if t, ok := h.graceTimers[userID]; ok {
		t.Stop()
	}
	h.graceTimers[userID] = time.AfterFunc(h.cfg.DisconnectGrace, func() {
		h.reapMember(userID, roomID)
	})
	logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}).
		Infof("Disconnect grace timer started (%s)", h.cfg.DisconnectGrace)
}

func (h *Hub) cancelReap(userID uint) {
	h.graceMu.Lock()
	defer h.graceMu.Unlock()
	if t, ok := h.graceTimers[userID]; ok {
		t.Stop()
		delete(h.graceTimers, userID)
	}
}

func (h *Hub) reapMember(userID, roomID uint) {
	h.graceMu.Lock()
	delete(h.graceTimers, userID)
	h.graceMu.Unlock()

	if h.registry.IsOnline(userID) {
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})
	logCtx.Info("Reaping disconnected member")

	result, err := h.rooms.LeaveRoom(context.Background(), userID, roomID)
	if err != nil {
		if models.AsGameError(err).Code != models.ErrCodeNotFound &&
			models.AsGameError(err).Code != models.ErrCodeConflict {
			logCtx.WithError(err).Error("Failed to reap disconnected member")
		}
		return
	}
	h.FanOutDeparture(roomID, userID, result, "")
}

// FanOutDeparture broadcasts the events a departure produces.
func (h *Hub) FanOutDeparture(roomID, userID uint, result *LeaveResult, excludeSocket string) {
	h.BroadcastToRoom(roomID, EventPlayerLeft, map[string]interface{}{"user_id": userID}, excludeSocket)
	if result.HostChanged {
		h.BroadcastToRoom(roomID, EventHostTransferred, map[string]interface{}{"new_host_id": result.NewHostID}, excludeSocket)
	}
	if result.GameEnded {
		h.BroadcastToRoom(roomID, EventGameEnded, map[string]interface{}{
			"winner_id": result.WinnerID,
			"reason":    "forfeit",
		}, excludeSocket)
	}
	if !result.Dissolved {
		h.BroadcastToRoom(roomID, EventRoomUpdated, result.Room, excludeSocket)
	}
}
