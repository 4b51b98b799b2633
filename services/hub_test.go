package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planewars/models"
)

// The intent handlers never touch the websocket directly, only the send
// channel, so the gateway is tested conn-free: clients are built by hand
// and messages pushed straight into handleMessage.

type hubFixture struct {
	*roomFixture
	auth *AuthService
	hub  *Hub
}

func newHubFixture(cfg HubConfig) *hubFixture {
	f := newRoomFixture()
	auth := NewAuthService(newFakeUserRepo(), "hub-secret", time.Hour)
	resolver := NewReconnectionResolver(f.sessions, f.svc, f.gameSvc)
	hub := NewHub(NewConnectionRegistry(), auth, f.svc, f.gameSvc, resolver, f.sessions, cfg)
	return &hubFixture{roomFixture: f, auth: auth, hub: hub}
}

func defaultHubConfig() HubConfig {
	return HubConfig{
		AuthDeadline:    time.Second,
		HeartbeatWindow: time.Minute,
		DisconnectGrace: 25 * time.Millisecond,
	}
}

func (hf *hubFixture) addClient(socketID string, buffer int) *Client {
	c := &Client{hub: hf.hub, socketID: socketID, send: make(chan []byte, buffer)}
	hf.hub.registry.Register(socketID)
	hf.hub.mutex.Lock()
	hf.hub.clients[socketID] = c
	hf.hub.mutex.Unlock()
	return c
}

func (hf *hubFixture) token(t *testing.T, userID uint, username string) string {
	t.Helper()
	token, err := hf.auth.IssueToken(&models.User{ID: userID, Username: username})
	require.NoError(t, err)
	return token
}

func (hf *hubFixture) authenticate(t *testing.T, c *Client, userID uint, username string) {
	t.Helper()
	payload, err := json.Marshal(authenticateIntent{Token: hf.token(t, userID, username)})
	require.NoError(t, err)
	c.handleMessage(inboundMessage{Type: "authenticate", Payload: payload})

	ev := recvEvent(t, c)
	require.Equal(t, EventAuthenticated, ev.Type)
}

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func recvEvent(t *testing.T, c *Client) wireEvent {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var ev wireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event, got none")
		return wireEvent{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected event: %s", data)
	default:
	}
}

func requireErrorEvent(t *testing.T, c *Client, code string) {
	t.Helper()
	ev := recvEvent(t, c)
	require.Equal(t, EventError, ev.Type)
	var ge models.GameError
	require.NoError(t, json.Unmarshal(ev.Payload, &ge))
	assert.Equal(t, code, ge.Code)
}

func TestGatewayRejectsIntentsBeforeAuthenticate(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	actor := hf.addClient("sock-actor", 16)
	bystander := hf.addClient("sock-bystander", 16)

	for _, intent := range []string{"join_room", "leave_room", "set_ready", "place_airplane", "attack", "surrender", "heartbeat"} {
		actor.handleMessage(inboundMessage{Type: intent, Payload: json.RawMessage(`{}`)})
		requireErrorEvent(t, actor, models.ErrCodeAuthRequired)
	}

	// Rejections go to the originating connection only.
	assertNoEvent(t, bystander)
}

func TestGatewayAuthenticateInvalidToken(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	c := hf.addClient("sock-1", 16)

	c.handleMessage(inboundMessage{Type: "authenticate", Payload: json.RawMessage(`{"token":"garbage"}`)})
	requireErrorEvent(t, c, models.ErrCodeAuthFailed)
	assert.Nil(t, c.identity)
	assert.False(t, hf.hub.registry.IsOnline(10))
}

func TestGatewayAuthenticateRehydratesCurrentRoom(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	view := hf.createRoom(t, 10)

	c := hf.addClient("sock-1", 16)
	payload, err := json.Marshal(authenticateIntent{Token: hf.token(t, 10, "alice")})
	require.NoError(t, err)
	c.handleMessage(inboundMessage{Type: "authenticate", Payload: payload})

	ev := recvEvent(t, c)
	require.Equal(t, EventAuthenticated, ev.Type)
	var body struct {
		Identity    Identity            `json:"identity"`
		Rehydration *RehydrationPayload `json:"rehydration"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &body))
	assert.Equal(t, uint(10), body.Identity.UserID)
	require.NotNil(t, body.Rehydration)
	assert.Equal(t, view.ID, body.Rehydration.Room.ID)

	// The socket is bound to the rehydrated room and starts receiving its
	// events.
	conn := hf.hub.registry.Get("sock-1")
	require.NotNil(t, conn)
	assert.Equal(t, view.ID, conn.RoomID)
	assert.True(t, hf.hub.registry.IsOnline(10))
}

func TestGatewayHeartbeatRefreshesSession(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	c := hf.addClient("sock-1", 16)
	hf.authenticate(t, c, 10, "alice")

	before := hf.sessions.markCount()
	c.handleMessage(inboundMessage{Type: "heartbeat", Payload: nil})

	ev := recvEvent(t, c)
	assert.Equal(t, EventPong, ev.Type)
	assert.Equal(t, before+1, hf.sessions.markCount())
}

func TestGatewayReapsDisconnectedMemberAfterGrace(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	ctx := context.Background()
	view := hf.createRoom(t, 10)
	_, err := hf.svc.JoinRoom(ctx, 20, view.ID, "")
	require.NoError(t, err)

	hf.hub.scheduleReap(20, view.ID)
	time.Sleep(4 * hf.hub.cfg.DisconnectGrace)

	member, err := hf.svc.IsMember(ctx, 20, view.ID)
	require.NoError(t, err)
	assert.False(t, member, "disconnected member should be reaped after the grace window")
}

func TestGatewayReapDuringBattleForfeits(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	ctx := context.Background()
	roomID := hf.startedRoom(t, 10, 20)
	_, err := hf.gameSvc.StartForRoom(ctx, roomID)
	require.NoError(t, err)

	hf.hub.scheduleReap(20, roomID)
	time.Sleep(4 * hf.hub.cfg.DisconnectGrace)

	game, err := hf.games.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, game.Phase)
	require.NotNil(t, game.WinnerID)
	assert.Equal(t, uint(10), *game.WinnerID)
}

func TestGatewayReconnectCancelsReap(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	ctx := context.Background()
	view := hf.createRoom(t, 10)
	_, err := hf.svc.JoinRoom(ctx, 20, view.ID, "")
	require.NoError(t, err)

	hf.hub.scheduleReap(20, view.ID)

	// The identity reconnects and authenticates inside the grace window.
	c := hf.addClient("sock-back", 16)
	hf.authenticate(t, c, 20, "bob")

	time.Sleep(4 * hf.hub.cfg.DisconnectGrace)

	member, err := hf.svc.IsMember(ctx, 20, view.ID)
	require.NoError(t, err)
	assert.True(t, member, "reconnected member must not be reaped")
}

func TestBroadcastToRoomExcludingUserSkipsAllTheirSockets(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	actor1 := hf.addClient("sock-a1", 16)
	actor2 := hf.addClient("sock-a2", 16)
	other := hf.addClient("sock-b", 16)

	require.True(t, hf.hub.registry.Authenticate("sock-a1", &Identity{UserID: 10}))
	require.True(t, hf.hub.registry.Authenticate("sock-a2", &Identity{UserID: 10}))
	require.True(t, hf.hub.registry.Authenticate("sock-b", &Identity{UserID: 20}))
	for _, socketID := range []string{"sock-a1", "sock-a2", "sock-b"} {
		hf.hub.registry.SetRoom(socketID, 42)
	}

	hf.hub.BroadcastToRoomExcludingUser(42, EventPlayerJoined, map[string]interface{}{"user_id": 10}, 10)

	ev := recvEvent(t, other)
	assert.Equal(t, EventPlayerJoined, ev.Type)
	assertNoEvent(t, actor1)
	assertNoEvent(t, actor2)
}

func TestBroadcastDropsSlowClientExactlyOnce(t *testing.T) {
	hf := newHubFixture(defaultHubConfig())
	slow := hf.addClient("sock-slow", 1)
	healthy := hf.addClient("sock-healthy", 16)
	hf.hub.registry.SetRoom("sock-slow", 42)
	hf.hub.registry.SetRoom("sock-healthy", 42)

	// Fill the slow client's buffer so every broadcast overflows it.
	slow.send <- []byte("backlog")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hf.hub.BroadcastToRoom(42, EventRoomUpdated, nil, "")
		}()
	}
	wg.Wait()

	hf.hub.mutex.RLock()
	_, stillThere := hf.hub.clients["sock-slow"]
	hf.hub.mutex.RUnlock()
	assert.False(t, stillThere, "slow client should be dropped")

	// The channel was closed exactly once: the backlog drains, then the
	// closed channel reports no more values.
	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)

	ev := recvEvent(t, healthy)
	assert.Equal(t, EventRoomUpdated, ev.Type)
}
