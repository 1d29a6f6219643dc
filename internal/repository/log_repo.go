package repository

import (
	"context"
	"time"

	"MatchAlert/internal/model"

	"gorm.io/gorm"
)

// LogRepository 投递日志只读；写入随 QueueRepository.ApplyOutcomes 一起提交
type LogRepository interface {
	ListByQueueID(ctx context.Context, queueID uint64) ([]*model.NotificationLog, error)
	// CountSince since 之后各状态的日志条数
	CountSince(ctx context.Context, since time.Time) (map[model.QueueStatus]int64, error)
}

type logRepository struct {
	db *gorm.DB
}

// NewLogRepository 创建 LogRepository 实例
func NewLogRepository(db *gorm.DB) LogRepository {
	return &logRepository{db: db}
}

func (r *logRepository) ListByQueueID(ctx context.Context, queueID uint64) ([]*model.NotificationLog, error) {
	var logs []*model.NotificationLog
	err := r.db.WithContext(ctx).
		Where("queue_id = ?", queueID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

func (r *logRepository) CountSince(ctx context.Context, since time.Time) (map[model.QueueStatus]int64, error) {
	var rows []struct {
		Status model.QueueStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&model.NotificationLog{}).
		Select("status, COUNT(*) AS total").
		Where("created_at >= ?", since.UTC()).
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
