package repository

import (
	"context"

	"MatchAlert/internal/model"

	"gorm.io/gorm"
)

// UserRepository 用户与设备只读
type UserRepository interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	HasActiveDevice(ctx context.Context, userID uint64) (bool, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建 UserRepository 实例
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) HasActiveDevice(ctx context.Context, userID uint64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DeviceToken{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&n).Error
	return n > 0, err
}
