package services

import (
	"context"
	"encoding/json"
	"time"

	"planewars/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Client is one realtime connection inside the gateway. Its read pump
// processes intents strictly one at a time in arrival order.
type Client struct {
	hub      *Hub
	socketID string
	conn     *websocket.Conn
	send     chan []byte
	identity *Identity // set once, by the read pump, on successful auth
}

type joinRoomIntent struct {
	RoomID   uint   `json:"room_id"`
	Password string `json:"password"`
}

type setReadyIntent struct {
	Ready bool `json:"ready"`
}

type authenticateIntent struct {
	Token string `json:"token"`
}

type placeAirplaneIntent struct {
	Airplane models.Airplane `json:"airplane"`
}

type attackIntent struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	pongWait := c.hub.cfg.HeartbeatWindow
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("socket_id", c.socketID).Warn("WebSocket read error")
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(models.NewValidationError("malformed message"))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	pingPeriod := c.hub.cfg.HeartbeatWindow * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleMessage routes one intent. Everything except authenticate is gated
// behind the credential check; rejections go to this connection only.
func (c *Client) handleMessage(msg inboundMessage) {
	if msg.Type == "authenticate" {
		c.handleAuthenticate(msg.Payload)
		return
	}

	if c.identity == nil {
		c.sendError(models.NewAuthRequiredError("authenticate before sending intents"))
		return
	}

	switch msg.Type {
	case "heartbeat":
		c.handleHeartbeat()
	case "join_room":
		c.handleJoinRoom(msg.Payload)
	case "leave_room":
		c.handleLeaveRoom()
	case "set_ready":
		c.handleSetReady(msg.Payload)
	case "place_airplane":
		c.handlePlaceAirplane(msg.Payload)
	case "attack":
		c.handleAttack(msg.Payload)
	case "surrender":
		c.handleSurrender()
	default:
		c.sendError(models.NewValidationError("unknown intent %q", msg.Type))
	}
}

func (c *Client) handleAuthenticate(payload json.RawMessage) {
	var intent authenticateIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		c.sendError(models.NewValidationError("malformed authenticate payload"))
		return
	}

	identity, err := c.hub.auth.VerifyToken(intent.Token)
	if err != nil {
		c.sendError(models.AsGameError(err))
		return
	}

	c.identity = identity
	c.hub.registry.Authenticate(c.socketID, identity)
	c.hub.cancelReap(identity.UserID)

	ctx := context.Background()
	if err := c.hub.sessions.MarkOnline(ctx, identity.UserID); err != nil {
		logrus.WithError(err).WithField("user_id", identity.UserID).Warn("Failed to mark identity online")
	}

	rehydration, err := c.hub.resolver.Resolve(ctx, identity.UserID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", identity.UserID).Warn("Rehydration failed")
		rehydration = nil
	}
	if rehydration != nil {
		c.hub.registry.SetRoom(c.socketID, rehydration.Room.ID)
	}

	logrus.WithFields(logrus.Fields{
		"socket_id": c.socketID, "user_id": identity.UserID,
		"rehydrated": rehydration != nil,
	}).Info("Connection authenticated")

	c.sendEvent(EventAuthenticated, map[string]interface{}{
		"identity":    identity,
		"rehydration": rehydration,
	})
}

func (c *Client) handleHeartbeat() {
	ctx := context.Background()
	if err := c.hub.sessions.MarkOnline(ctx, c.identity.UserID); err != nil {
		logrus.WithError(err).WithField("user_id", c.identity.UserID).Warn("Failed to refresh session record")
	}
	c.sendEvent(EventPong, nil)
}

func (c *Client) handleJoinRoom(payload json.RawMessage) {
	var intent joinRoomIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		c.sendError(models.NewValidationError("malformed join_room payload"))
		return
	}

	view, err := c.hub.rooms.JoinRoom(context.Background(), c.identity.UserID, intent.RoomID, intent.Password)
	if err != nil {
		c.sendError(models.AsGameError(err))
		return
	}

	c.hub.BindUserToRoom(c.identity.UserID, view.ID)

	c.sendEvent(EventRoomJoined, view)

	var slot int
	for i := range view.Members {
		if view.Members[i].UserID == c.identity.UserID {
			slot = view.Members[i].Slot
		}
	}
	c.hub.BroadcastToRoom(view.ID, EventPlayerJoined, map[string]interface{}{
		"user_id":  c.identity.UserID,
		"username": c.identity.Username,
		"slot":     slot,
	}, c.socketID)
	c.hub.BroadcastToRoom(view.ID, EventRoomUpdated, view, c.socketID)
}

func (c *Client) handleLeaveRoom() {
	roomID := c.currentRoomID()
	if roomID == 0 {
		c.sendError(models.NewConflictError("not in a room"))
		return
	}

	result, err := c.hub.rooms.LeaveRoom(context.Background(), c.identity.UserID, roomID)
	if err != nil {
		c.sendError(models.AsGameError(err))
		return
	}

	c.hub.BindUserToRoom(c.identity.UserID, 0)
	c.sendEvent(EventRoomLeft, map[string]interface{}{"room_id": roomID})
	c.hub.FanOutDeparture(roomID, c.identity.UserID, result, c.socketID)
}

func (c *Client) handleSetReady(payload json.RawMessage) {
	var intent setReadyIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		c.sendError(models.NewValidationError("malformed set_ready payload"))
		return
	}

	roomID := c.currentRoomID()
	if roomID == 0 {
		c.sendError(models.NewConflictError("not in a room"))
		return
	}

	ctx := context.Background()
	view, started, err := c.hub.rooms.SetReady(ctx, c.identity.UserID, roomID, intent.Ready)
	if err != nil {
		c.sendError(models.AsGameError(err))
		return
	}

	c.hub.BroadcastToRoom(roomID, EventPlayerReady, map[string]interface{}{
		"user_id": c.identity.UserID,
		"ready":   intent.Ready,
	}, "")
	c.hub.BroadcastToRoom(roomID, EventRoomUpdated, view, "")

	if started {
		game, err := c.hub.games.StartForRoom(ctx, roomID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to create game for ready room")
			c.sendError(models.AsGameError(err))
			return
		}
		c.hub.BroadcastToRoom(roomID, EventGameStarted, game, "")
	}
}

func (c *Client) handlePlaceAirplane(payload json.RawMessage) {
	var intent placeAirplaneIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		c.sendError(models.NewValidationError("malformed place_airplane payload"))
		return
	}

	roomID := c.currentRoomID()
	if roomID == 0 {
		c.sendError(models.NewConflictError("not in a room"))
		return
	}

	game, battleStarted, err := c.hub.games.PlaceAirplane(context.Background(), c.identity.UserID, roomID, intent.Airplane)
	if err != nil {
		c.sendError(models.AsGameError(err))
		return
	}

	c.sendEvent(EventAirplanePlaced, game.RedactFor(c.identity.UserID))
	if battleStarted {
		c.hub.BroadcastToRoom(roomID, EventBattleStarted, map[string]interface{}{
			"current_player": game.CurrentPlayer,
		}, "")
	}
}

func (c *Client) handleAttack(payload json.RawMessage) {
	var intent attackIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		c.sendError(models.NewValidationError("malformed attack payload"))
		return
	}

	roomID := c.currentRoomID()
	if roomID == 0 {
		c.sendError(models.NewConflictError("not in a room"))
		return
	}

	result, _, err := c.hub.games.Attack(context.Background(), c.identity.UserID, roomID,
		models.Cell{X: intent.X, Y: intent.Y})
	if err != nil {
		c.sendError(models.AsGameError(err))
		return
	}

	c.hub.BroadcastToRoom(roomID, EventAttackResult, result, "")
}

func (c *Client) handleSurrender() {
	roomID := c.currentRoomID()
	if roomID == 0 {
		c.sendError(models.NewConflictError("not in a room"))
		return
	}

	game, err := c.hub.games.Surrender(context.Background(), c.identity.UserID, roomID)
	if err != nil {
		c.sendError(models.AsGameError(err))
		return
	}

	c.hub.BroadcastToRoom(roomID, EventGameEnded, map[string]interface{}{
		"winner_id": game.WinnerID,
		"reason":    "surrender",
	}, "")
}

func (c *Client) currentRoomID() uint {
	conn := c.hub.registry.Get(c.socketID)
	if conn == nil {
		return 0
	}
	return conn.RoomID
}

func (c *Client) sendEvent(eventType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		logrus.WithError(err).WithField("event", eventType).Error("Failed to marshal event")
		return
	}
	select {
	case c.send <- data:
	default:
		logrus.WithField("socket_id", c.socketID).Warn("Send buffer full, dropping event")
	}
}

func (c *Client) sendError(gameErr *models.GameError) {
	c.sendEvent(EventError, gameErr)
}
