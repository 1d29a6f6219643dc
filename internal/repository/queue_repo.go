package repository

import (
	"context"
	"fmt"
	"time"

	"MatchAlert/internal/model"

	"gorm.io/gorm"
)

// QueueOutcome 一条队列条目本轮处理后的最终状态
type QueueOutcome struct {
	ID           uint64
	Status       model.QueueStatus
	Attempts     int
	LastAttempt  *time.Time
	ErrorMessage *string
}

// QueueRepository 通知队列读写
type QueueRepository interface {
	// FindPending 该 (订阅, 比赛) 的 pending 条目，没有返回 nil, nil
	FindPending(ctx context.Context, subscriptionID, matchID uint64) (*model.NotificationQueue, error)
	Create(ctx context.Context, item *model.NotificationQueue) error
	UpdateScheduledFor(ctx context.Context, id uint64, scheduledFor time.Time) error
	// ListDue 已到发送时间、仍有重试额度且未被他人有效认领的 pending 条目，最早的优先
	ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.NotificationQueue, error)
	// Claim 原子认领；返回 false 表示已被其他 worker 认领或状态已变
	Claim(ctx context.Context, id uint64, owner string, now, until time.Time) (bool, error)
	// ReleaseClaims 放弃认领但不改变状态
	ReleaseClaims(ctx context.Context, owner string, ids []uint64) error
	// ApplyOutcomes 同一事务内写入状态变更与投递日志，并清除认领；返回实际生效条数
	ApplyOutcomes(ctx context.Context, owner string, outcomes []QueueOutcome, logs []*model.NotificationLog) (int, error)
	// DeletePendingForMatches 删除这些比赛的 pending 条目
	DeletePendingForMatches(ctx context.Context, matchIDs []uint64) (int64, error)
	// DeleteTerminalBefore 删除 created_at 早于 cutoff 的终态条目，从不删除 pending
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[model.QueueStatus]int64, error)
	GetByID(ctx context.Context, id uint64) (*model.NotificationQueue, error)
}

type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository 创建 QueueRepository 实例
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) FindPending(ctx context.Context, subscriptionID, matchID uint64) (*model.NotificationQueue, error) {
	var items []*model.NotificationQueue
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND match_id = ? AND status = ?", subscriptionID, matchID, model.QueueStatusPending).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *queueRepository) Create(ctx context.Context, item *model.NotificationQueue) error {
	item.ScheduledFor = item.ScheduledFor.UTC()
	if item.Status == "" {
		item.Status = model.QueueStatusPending
	}
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *queueRepository) UpdateScheduledFor(ctx context.Context, id uint64, scheduledFor time.Time) error {
	return r.db.WithContext(ctx).Model(&model.NotificationQueue{}).
		Where("id = ? AND status = ?", id, model.QueueStatusPending).
		Updates(map[string]interface{}{
			"scheduled_for": scheduledFor.UTC(),
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *queueRepository) ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.NotificationQueue, error) {
	if limit <= 0 {
		limit = 200
	}
	now = now.UTC()
	var items []*model.NotificationQueue
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ? AND attempts < ?", model.QueueStatusPending, now, maxAttempts).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now).
		Order("scheduled_for ASC").Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *queueRepository) Claim(ctx context.Context, id uint64, owner string, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.NotificationQueue{}).
		Where("id = ? AND status = ?", id, model.QueueStatusPending).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now.UTC()).
		Updates(map[string]interface{}{
			"claimed_by":    owner,
			"claimed_until": until.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *queueRepository) ReleaseClaims(ctx context.Context, owner string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.NotificationQueue{}).
		Where("id IN ? AND claimed_by = ?", ids, owner).
		Updates(map[string]interface{}{
			"claimed_by":    gorm.Expr("NULL"),
			"claimed_until": gorm.Expr("NULL"),
		}).Error
}

func (r *queueRepository) ApplyOutcomes(ctx context.Context, owner string, outcomes []QueueOutcome, logs []*model.NotificationLog) (int, error) {
	if len(outcomes) == 0 && len(logs) == 0 {
		return 0, nil
	}
	// 开启事务
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, fmt.Errorf("开启事务失败: %w", tx.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	// 1. 投递日志
	if len(logs) > 0 {
		if err := tx.Create(&logs).Error; err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("保存投递日志失败: %w", err)
		}
	}

	// 2. 状态变更，只改自己认领的条目
	applied := 0
	now := time.Now().UTC()
	for _, o := range outcomes {
		res := tx.Model(&model.NotificationQueue{}).
			Where("id = ? AND status = ? AND claimed_by = ?", o.ID, model.QueueStatusPending, owner).
			Updates(map[string]interface{}{
				"status":        o.Status,
				"attempts":      o.Attempts,
				"last_attempt":  nullableTime(o.LastAttempt),
				"error_message": nullableString(o.ErrorMessage),
				"claimed_by":    gorm.Expr("NULL"),
				"claimed_until": gorm.Expr("NULL"),
				"updated_at":    now,
			})
		if res.Error != nil {
			tx.Rollback()
			return 0, fmt.Errorf("更新队列状态失败: %w, queue_id: %d", res.Error, o.ID)
		}
		applied += int(res.RowsAffected)
	}

	// 提交事务
	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("提交事务失败: %w", err)
	}
	return applied, nil
}

func (r *queueRepository) DeletePendingForMatches(ctx context.Context, matchIDs []uint64) (int64, error) {
	if len(matchIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("match_id IN ? AND status = ?", matchIDs, model.QueueStatusPending).
		Delete(&model.NotificationQueue{})
	return res.RowsAffected, res.Error
}

func (r *queueRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", model.TerminalStatuses, cutoff.UTC()).
		Delete(&model.NotificationQueue{})
	return res.RowsAffected, res.Error
}

func (r *queueRepository) CountByStatus(ctx context.Context) (map[model.QueueStatus]int64, error) {
	var rows []struct {
		Status model.QueueStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&model.NotificationQueue{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.QueueStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *queueRepository) GetByID(ctx context.Context, id uint64) (*model.NotificationQueue, error) {
	var item model.NotificationQueue
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return gorm.Expr("NULL")
	}
	return t.UTC()
}

func nullableString(s *string) interface{} {
	if s == nil {
		return gorm.Expr("NULL")
	}
	return *s
}
