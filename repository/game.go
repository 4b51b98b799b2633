package repository

import (
	"context"
	"errors"

	"planewars/models"

	"gorm.io/gorm"
)

type GameRepository interface {
	Create(ctx context.Context, game *models.Game) error
	FindByID(ctx context.Context, id uint) (*models.Game, error)
	// FindActiveByRoom returns the room's unfinished game, if any.
	FindActiveByRoom(ctx context.Context, roomID uint) (*models.Game, error)
	// Update persists the game row (phase, turn, planes, winner, times).
	Update(ctx context.Context, game *models.Game) error
	AppendAttack(ctx context.Context, record *models.AttackRecord) error
}

type gormGameRepository struct {
	db *gorm.DB
}

func NewGameRepository(db *gorm.DB) GameRepository {
	return &gormGameRepository{db: db}
}

func (r *gormGameRepository) Create(ctx context.Context, game *models.Game) error {
	return r.db.WithContext(ctx).Create(game).Error
}

func (r *gormGameRepository) FindByID(ctx context.Context, id uint) (*models.Game, error) {
	var game models.Game
	err := r.db.WithContext(ctx).
		Preload("Attacks", func(db *gorm.DB) *gorm.DB {
			return db.Order("attack_records.created_at")
		}).
		First(&game, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &game, nil
}

func (r *gormGameRepository) FindActiveByRoom(ctx context.Context, roomID uint) (*models.Game, error) {
	var game models.Game
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND phase <> ?", roomID, models.PhaseFinished).
		Preload("Attacks", func(db *gorm.DB) *gorm.DB {
			return db.Order("attack_records.created_at")
		}).
		Order("created_at DESC").
		First(&game).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &game, nil
}

func (r *gormGameRepository) Update(ctx context.Context, game *models.Game) error {
	return r.db.WithContext(ctx).Model(game).
		Select("phase", "current_player", "turn_count", "winner_id",
			"player1_plane", "player2_plane", "started_at", "finished_at", "duration").
		Updates(game).Error
}

func (r *gormGameRepository) AppendAttack(ctx context.Context, record *models.AttackRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}
