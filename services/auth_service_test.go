package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planewars/models"
	"planewars/repository"
)

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID uint
	users  map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[user.Username]; exists {
		return repository.ErrDuplicateEntry
	}
	f.nextID++
	user.ID = f.nextID
	stored := *user
	f.users[user.Username] = &stored
	return nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == id {
			out := *user
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *user
	return &out, nil
}

func newAuthService(expiry time.Duration) (*AuthService, *fakeUserRepo) {
	users := newFakeUserRepo()
	return NewAuthService(users, "test-secret", expiry), users
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newAuthService(time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "secret123", user.Password, "password must be stored hashed")

	token, logged, err := svc.Login(ctx, &LoginRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, logged.ID)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _ := newAuthService(time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "other456"})
	assert.Equal(t, models.ErrCodeConflict, errCode(t, err))
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthService(time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, &LoginRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, models.ErrCodeAuthFailed, errCode(t, err))

	_, _, err = svc.Login(ctx, &LoginRequest{Username: "nobody", Password: "secret123"})
	assert.Equal(t, models.ErrCodeAuthFailed, errCode(t, err))
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	svc, _ := newAuthService(time.Hour)

	user := &models.User{ID: 7, Username: "alice"}
	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	identity, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), identity.UserID)
	assert.Equal(t, "alice", identity.Username)
}

func TestVerifyTokenEmpty(t *testing.T) {
	svc, _ := newAuthService(time.Hour)

	_, err := svc.VerifyToken("")
	assert.Equal(t, models.ErrCodeAuthRequired, errCode(t, err))
}

func TestVerifyTokenExpired(t *testing.T) {
	svc, _ := newAuthService(-time.Minute)

	token, err := svc.IssueToken(&models.User{ID: 7, Username: "alice"})
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Equal(t, models.ErrCodeAuthFailed, errCode(t, err))
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	svc, _ := newAuthService(time.Hour)
	other := NewAuthService(newFakeUserRepo(), "other-secret", time.Hour)

	token, err := other.IssueToken(&models.User{ID: 7, Username: "alice"})
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Equal(t, models.ErrCodeAuthFailed, errCode(t, err))
}

func TestGetProfile(t *testing.T) {
	svc, _ := newAuthService(time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)

	profile, err := svc.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)

	_, err = svc.GetProfile(ctx, 999)
	assert.Equal(t, models.ErrCodeNotFound, errCode(t, err))
}
