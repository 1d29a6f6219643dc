package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockContention 领导权被其他进程持有，调用方应空转而不是报错
	ErrLockContention = errors.New("leadership held by another worker")
	// ErrLeadershipLost 心跳时发现领导权已被接管
	ErrLeadershipLost = errors.New("leadership lost")
)

// LeaderElection 保证同一时刻只有一个 worker 执行排程与投递
type LeaderElection interface {
	// TryAcquire 尝试获取领导权；被占用时返回 false, nil
	TryAcquire(ctx context.Context) (bool, error)
	// Heartbeat 持有期间刷新时间戳；已被接管返回 ErrLeadershipLost
	Heartbeat(ctx context.Context) error
	// Release 只释放自己持有的领导权
	Release(ctx context.Context) error
	// IsStale 当前记录是否超过 ttl 未刷新（无记录视为失效）
	IsStale(ctx context.Context, ttl time.Duration) (bool, error)
}
