package service

import (
	"context"
	"fmt"
	"time"

	"MatchAlert/internal/repository"

	"github.com/sirupsen/logrus"
)

// QueueCleaner 清理过期的终态队列条目
type QueueCleaner struct {
	queueRepo repository.QueueRepository
	logger    *logrus.Logger
	now       func() time.Time
}

func NewQueueCleaner(queueRepo repository.QueueRepository, logger *logrus.Logger) *QueueCleaner {
	return &QueueCleaner{queueRepo: queueRepo, logger: logger, now: time.Now}
}

// SetClock 测试用
func (c *QueueCleaner) SetClock(now func() time.Time) {
	c.now = now
}

// CleanupOldQueueEntries 删除 created_at 早于 days 天前的 sent/failed/cancelled 条目，pending 永不删除
func (c *QueueCleaner) CleanupOldQueueEntries(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := c.now().UTC().AddDate(0, 0, -days)
	n, err := c.queueRepo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理队列失败: %w", err)
	}
	if n > 0 {
		c.logger.WithFields(logrus.Fields{
			"deleted": n,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("Cleanup: 已清理过期队列条目")
	}
	return n, nil
}
