package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MatchAlert/internal/model"

	"gorm.io/gorm"
)

// EventRepository 赛事读写
type EventRepository interface {
	// GetByID 不存在返回 gorm.ErrRecordNotFound
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	// ListActive 在 [from, to] 内有比赛的赛事
	ListActive(ctx context.Context, from, to time.Time) ([]*model.Event, error)
	// ListDrifted |schedule_offset| >= minAbs 的赛事
	ListDrifted(ctx context.Context, minAbs int) ([]*model.Event, error)
	// ApplyDrift 同一事务内写入未来比赛的预测时间与赛事偏移
	ApplyDrift(ctx context.Context, eventID uint64, predictions map[uint64]time.Time, offset int) error
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建 EventRepository 实例
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	var ev model.Event
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *eventRepository) ListActive(ctx context.Context, from, to time.Time) ([]*model.Event, error) {
	var events []*model.Event
	sub := r.db.Model(&model.Match{}).
		Select("event_id").
		Where("scheduled_time BETWEEN ? AND ?", from.UTC(), to.UTC())
	err := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

func (r *eventRepository) ListDrifted(ctx context.Context, minAbs int) ([]*model.Event, error) {
	var events []*model.Event
	err := r.db.WithContext(ctx).
		Where("schedule_offset IS NOT NULL AND ABS(schedule_offset) >= ?", minAbs).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

func (r *eventRepository) ApplyDrift(ctx context.Context, eventID uint64, predictions map[uint64]time.Time, offset int) error {
	// 开启事务
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("开启事务失败: %w", tx.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	// 1. 未来比赛的预测时间
	for matchID, predicted := range predictions {
		if err := tx.Model(&model.Match{}).
			Where("id = ? AND event_id = ?", matchID, eventID).
			Updates(map[string]interface{}{
				"predicted_time": predicted.UTC(),
				"updated_at":     time.Now().UTC(),
			}).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("更新预测时间失败: %w, match_id: %d", err, matchID)
		}
	}

	// 2. 赛事偏移
	res := tx.Model(&model.Event{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"schedule_offset": offset,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		tx.Rollback()
		return fmt.Errorf("更新赛事偏移失败: %w, event_id: %d", res.Error, eventID)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return fmt.Errorf("赛事不存在: %w, event_id: %d", gorm.ErrRecordNotFound, eventID)
	}

	// 提交事务
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// IsNotFound gorm 未找到记录
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
