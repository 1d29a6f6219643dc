package repository

import (
	"context"

	"MatchAlert/internal/model"

	"gorm.io/gorm"
)

// SubscriptionRepository 订阅只读（CRUD 由外部应用负责）
type SubscriptionRepository interface {
	GetByID(ctx context.Context, id uint64) (*model.NotificationSubscription, error)
	// ListActiveForTeams 关注 teams 中任一队伍、且归属范围与 scope 一致的启用订阅
	ListActiveForTeams(ctx context.Context, teams []int, scope *int) ([]*model.NotificationSubscription, error)
}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建 SubscriptionRepository 实例
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uint64) (*model.NotificationSubscription, error) {
	var sub model.NotificationSubscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListActiveForTeams(ctx context.Context, teams []int, scope *int) ([]*model.NotificationSubscription, error) {
	if len(teams) == 0 {
		return nil, nil
	}
	var subs []*model.NotificationSubscription
	db := r.db.WithContext(ctx).
		Where("is_active = ? AND target_team_number IN ?", true, teams)
	if scope == nil {
		db = db.Where("scouting_team_number IS NULL")
	} else {
		db = db.Where("scouting_team_number = ?", *scope)
	}
	err := db.Order("id ASC").Find(&subs).Error
	return subs, err
}
