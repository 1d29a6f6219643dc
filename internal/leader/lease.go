package leader

import (
	"context"
	"fmt"
	"time"

	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeaseElection 以 worker_leases 表中一行作为租约，CAS 更新 owner/heartbeat_at；适合多主机部署
type LeaseElection struct {
	db     *gorm.DB
	name   string
	owner  string
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Logger
}

var _ interfaces.LeaderElection = (*LeaseElection)(nil)

func NewLeaseElection(db *gorm.DB, name string, ttl time.Duration, logger *logrus.Logger) *LeaseElection {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &LeaseElection{
		db:     db,
		name:   name,
		owner:  uuid.NewString(),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// WithIdentity 测试中模拟不同进程与时钟
func (l *LeaseElection) WithIdentity(owner string, now func() time.Time) *LeaseElection {
	l.owner = owner
	l.now = now
	return l
}

func (l *LeaseElection) TryAcquire(ctx context.Context) (bool, error) {
	now := l.now().UTC()
	// 租约行不存在先插入空行
	if err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.WorkerLease{Name: l.name, Owner: "", HeartbeatAt: time.Unix(0, 0).UTC()}).Error; err != nil {
		return false, fmt.Errorf("初始化租约失败: %w", err)
	}

	res := l.db.WithContext(ctx).Model(&model.WorkerLease{}).
		Where("name = ?", l.name).
		Where("(owner = ? OR owner = '' OR heartbeat_at < ?)", l.owner, now.Add(-l.ttl)).
		Updates(map[string]interface{}{
			"owner":        l.owner,
			"heartbeat_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("抢占租约失败: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (l *LeaseElection) Heartbeat(ctx context.Context) error {
	res := l.db.WithContext(ctx).Model(&model.WorkerLease{}).
		Where("name = ? AND owner = ?", l.name, l.owner).
		Update("heartbeat_at", l.now().UTC())
	if res.Error != nil {
		return fmt.Errorf("续约失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return interfaces.ErrLeadershipLost
	}
	return nil
}

func (l *LeaseElection) Release(ctx context.Context) error {
	return l.db.WithContext(ctx).Model(&model.WorkerLease{}).
		Where("name = ? AND owner = ?", l.name, l.owner).
		Update("owner", "").Error
}

func (l *LeaseElection) IsStale(ctx context.Context, ttl time.Duration) (bool, error) {
	var leases []model.WorkerLease
	if err := l.db.WithContext(ctx).Where("name = ?", l.name).Limit(1).Find(&leases).Error; err != nil {
		return false, err
	}
	if len(leases) == 0 || leases[0].Owner == "" {
		return true, nil
	}
	return l.now().UTC().Sub(leases[0].HeartbeatAt) > ttl, nil
}
