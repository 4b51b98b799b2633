package services

import (
	"context"
	"errors"
	"time"

	"planewars/models"
	"planewars/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Identity is the verified subject of a credential. The gateway checks
// signature and expiry only and treats everything else as opaque.
type Identity struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

type AuthService struct {
	users     repository.UserRepository
	jwtSecret []byte
	jwtExpiry time.Duration
}

func NewAuthService(users repository.UserRepository, jwtSecret string, jwtExpiry time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		jwtExpiry: jwtExpiry,
	}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logrus.WithError(err).Error("Failed to hash password during registration")
		return nil, models.NewTransientError("registration failed")
	}

	user := &models.User{Username: req.Username, Password: string(hash)}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, models.NewConflictError("username %q is already taken", req.Username)
		}
		logrus.WithError(err).WithField("username", req.Username).Error("Failed to create user")
		return nil, models.NewTransientError("registration failed")
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("User registered")
	return user, nil
}

// Login verifies credentials and issues a signed, time-bounded token.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (string, *models.User, error) {
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, models.NewAuthFailedError("invalid username or password")
		}
		logrus.WithError(err).WithField("username", req.Username).Error("Failed to look up user")
		return "", nil, models.NewTransientError("login failed")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		return "", nil, models.NewAuthFailedError("invalid username or password")
	}

	token, err := s.IssueToken(user)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("Failed to sign token")
		return "", nil, models.NewTransientError("login failed")
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("User logged in")
	return token, user, nil
}

func (s *AuthService) GetProfile(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("user %d not found", userID)
		}
		return nil, models.NewTransientError("failed to load profile")
	}
	return user, nil
}

func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      now.Add(s.jwtExpiry).Unix(),
		"iat":      now.Unix(),
	})
	return token.SignedString(s.jwtSecret)
}

// VerifyToken is the gateway's credential check: signature and expiry.
func (s *AuthService) VerifyToken(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, models.NewAuthRequiredError("credential required")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.NewAuthFailedError("credential expired")
		}
		return nil, models.NewAuthFailedError("invalid credential")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, models.NewAuthFailedError("invalid credential claims")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return nil, models.NewAuthFailedError("invalid credential claims")
	}
	username, _ := claims["username"].(string)

	return &Identity{UserID: uint(userID), Username: username}, nil
}
