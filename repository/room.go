package repository

import (
	"context"
	"errors"

	"planewars/models"

	"gorm.io/gorm"
)

// RoomRepository is the document-store access path for rooms. All
// cross-process shared room state goes through here; the aggregate itself
// never touches the database.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	FindByID(ctx context.Context, id uint) (*models.Room, error)
	// FindWaiting lists joinable rooms, newest first, 1-based page.
	FindWaiting(ctx context.Context, page, limit int) ([]models.Room, int64, error)
	// Update persists the room's scalar fields (status, host, updated_at).
	Update(ctx context.Context, room *models.Room) error
	// AddMember inserts the membership row and re-checks capacity inside
	// the same transaction, rolling back with ErrRoomFull if a concurrent
	// join got there first.
	AddMember(ctx context.Context, room *models.Room, member *models.RoomMember) error
	RemoveMember(ctx context.Context, roomID, userID uint) error
	UpdateMember(ctx context.Context, member *models.RoomMember) error
	Delete(ctx context.Context, roomID uint) error
}

type gormRoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &gormRoomRepository{db: db}
}

func (r *gormRoomRepository) Create(ctx context.Context, room *models.Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

func (r *gormRoomRepository) FindByID(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("room_members.joined_at")
		}).
		First(&room, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (r *gormRoomRepository) FindWaiting(ctx context.Context, page, limit int) ([]models.Room, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&models.Room{}).Where("status = ?", models.RoomWaiting)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rooms []models.Room
	err := q.Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order("room_members.joined_at")
	}).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, 0, err
	}
	return rooms, total, nil
}

func (r *gormRoomRepository) Update(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Model(room).
		Select("name", "type", "status", "host_id", "updated_at").
		Updates(room).Error
}

func (r *gormRoomRepository) AddMember(ctx context.Context, room *models.Room, member *models.RoomMember) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member.RoomID = room.ID
		if err := tx.Create(member).Error; err != nil {
			return err
		}

		// Post-write capacity re-check: two near-simultaneous joins can
		// both observe "not full" before either commits; the loser's
		// insert is rolled back here.
		var count int64
		if err := tx.Model(&models.RoomMember{}).
			Where("room_id = ?", room.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > int64(room.MaxPlayers) {
			return ErrRoomFull
		}

		return tx.Model(room).Select("updated_at").Updates(room).Error
	})
}

func (r *gormRoomRepository) RemoveMember(ctx context.Context, roomID, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.RoomMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRoomRepository) UpdateMember(ctx context.Context, member *models.RoomMember) error {
	return r.db.WithContext(ctx).
		Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", member.RoomID, member.UserID).
		Update("ready", member.Ready).Error
}

func (r *gormRoomRepository) Delete(ctx context.Context, roomID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Room{}, roomID).Error
	})
}
