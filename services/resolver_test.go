package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planewars/models"
)

func newResolver(f *roomFixture) *ReconnectionResolver {
	return NewReconnectionResolver(f.sessions, f.svc, f.gameSvc)
}

func TestResolveNothingToRehydrate(t *testing.T) {
	f := newRoomFixture()

	payload, err := newResolver(f).Resolve(context.Background(), 10)
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestResolveWaitingRoom(t *testing.T) {
	f := newRoomFixture()
	view := f.createRoom(t, 10)

	payload, err := newResolver(f).Resolve(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, view.ID, payload.Room.ID)
	assert.Nil(t, payload.Game)
}

func TestResolveClearsPointerWhenRoomGone(t *testing.T) {
	f := newRoomFixture()
	ctx := context.Background()
	view := f.createRoom(t, 10)

	// The room vanished but the pointer survived.
	require.NoError(t, f.rooms.Delete(ctx, view.ID))

	payload, err := newResolver(f).Resolve(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, payload)

	roomID, err := f.sessions.CurrentRoom(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, roomID)
}

func TestResolveClearsPointerWhenMembershipLost(t *testing.T) {
	f := newRoomFixture()
	ctx := context.Background()
	view := f.createRoom(t, 10)
	_, err := f.svc.JoinRoom(ctx, 20, view.ID, "")
	require.NoError(t, err)

	// Kicked while offline: the pointer was cleared, but simulate a stale
	// one being written back.
	_, err = f.svc.KickMember(ctx, 10, view.ID, 20)
	require.NoError(t, err)
	require.NoError(t, f.sessions.SetCurrentRoom(ctx, 20, view.ID))

	payload, err := newResolver(f).Resolve(ctx, 20)
	require.NoError(t, err)
	assert.Nil(t, payload)

	roomID, err := f.sessions.CurrentRoom(ctx, 20)
	require.NoError(t, err)
	assert.Zero(t, roomID)
}

func TestResolveBattleRedactsOpponentPlane(t *testing.T) {
	f, roomID, _ := battleFixture(t)
	ctx := context.Background()

	payload, err := newResolver(f).Resolve(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, payload)
	require.NotNil(t, payload.Game)
	assert.Equal(t, roomID, payload.Room.ID)
	assert.Equal(t, models.PhaseBattle, payload.Game.Phase)
	assert.NotNil(t, payload.Game.Player1Plane)
	assert.Nil(t, payload.Game.Player2Plane)

	payload, err = newResolver(f).Resolve(ctx, 20)
	require.NoError(t, err)
	require.NotNil(t, payload.Game)
	assert.Nil(t, payload.Game.Player1Plane)
	assert.NotNil(t, payload.Game.Player2Plane)
}
