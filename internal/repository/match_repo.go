package repository

import (
	"context"
	"fmt"
	"time"

	"MatchAlert/internal/model"

	"gorm.io/gorm"
)

// MatchRepository 比赛读写
type MatchRepository interface {
	GetByID(ctx context.Context, id uint64) (*model.Match, error)
	// ListScheduledByEvent 赛事下有计划时间的比赛，按类型、编号排序；scope 非空时只取该侦察队伍的数据
	ListScheduledByEvent(ctx context.Context, eventID uint64, scope *int) ([]*model.Match, error)
	// ListFutureByEvent 计划时间严格晚于 now 的比赛
	ListFutureByEvent(ctx context.Context, eventID uint64, now time.Time) ([]*model.Match, error)
	// ListUpcoming 有效时间（预测优先）落在 [from, to] 的比赛
	ListUpcoming(ctx context.Context, from, to time.Time) ([]*model.Match, error)
	// UpdateScheduledTimes 上游计划时间变动后回写
	UpdateScheduledTimes(ctx context.Context, updates map[uint64]time.Time) (int, error)
}

type matchRepository struct {
	db *gorm.DB
}

// NewMatchRepository 创建 MatchRepository 实例
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) GetByID(ctx context.Context, id uint64) (*model.Match, error) {
	var m model.Match
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *matchRepository) ListScheduledByEvent(ctx context.Context, eventID uint64, scope *int) ([]*model.Match, error) {
	var matches []*model.Match
	db := r.db.WithContext(ctx).
		Where("event_id = ? AND scheduled_time IS NOT NULL", eventID)
	if scope != nil {
		db = db.Where("scouting_team_number = ?", *scope)
	}
	err := db.Order("match_type ASC").Order("match_number ASC").Find(&matches).Error
	return matches, err
}

func (r *matchRepository) ListFutureByEvent(ctx context.Context, eventID uint64, now time.Time) ([]*model.Match, error) {
	var matches []*model.Match
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND scheduled_time > ?", eventID, now.UTC()).
		Order("scheduled_time ASC").
		Find(&matches).Error
	return matches, err
}

func (r *matchRepository) ListUpcoming(ctx context.Context, from, to time.Time) ([]*model.Match, error) {
	var matches []*model.Match
	err := r.db.WithContext(ctx).
		Where("COALESCE(predicted_time, scheduled_time) BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Order("COALESCE(predicted_time, scheduled_time) ASC").
		Find(&matches).Error
	return matches, err
}

func (r *matchRepository) UpdateScheduledTimes(ctx context.Context, updates map[uint64]time.Time) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	updated := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, scheduled := range updates {
			res := tx.Model(&model.Match{}).
				Where("id = ?", id).
				Updates(map[string]interface{}{
					"scheduled_time": scheduled.UTC(),
					"updated_at":     time.Now().UTC(),
				})
			if res.Error != nil {
				return fmt.Errorf("更新计划时间失败: %w, match_id: %d", res.Error, id)
			}
			updated += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
