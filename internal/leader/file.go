// Package leader 单活 worker 选主：本机锁文件（默认）或数据库租约
package leader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"MatchAlert/internal/interfaces"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// lockRecord 锁文件内容
type lockRecord struct {
	PID int       `json:"pid"`
	TS  time.Time `json:"ts"`
}

// FileElection O_EXCL 创建锁文件；已存在且超过 stale 未刷新时删除并重试一次（接管）
type FileElection struct {
	path   string
	stale  time.Duration
	pid    int
	now    func() time.Time
	logger *logrus.Logger
}

var _ interfaces.LeaderElection = (*FileElection)(nil)

func NewFileElection(path string, stale time.Duration, logger *logrus.Logger) *FileElection {
	if stale <= 0 {
		stale = 600 * time.Second
	}
	return &FileElection{
		path:   path,
		stale:  stale,
		pid:    os.Getpid(),
		now:    time.Now,
		logger: logger,
	}
}

// WithIdentity 测试中模拟不同进程与时钟
func (e *FileElection) WithIdentity(pid int, now func() time.Time) *FileElection {
	e.pid = pid
	e.now = now
	return e
}

func (e *FileElection) TryAcquire(ctx context.Context) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return false, fmt.Errorf("创建锁目录失败: %w", err)
	}
	ok, err := e.create()
	if err != nil || ok {
		return ok, err
	}

	rec, readErr := e.read()
	if readErr == nil && rec.PID == e.pid {
		// 自己持有：刷新时间戳即可
		return true, e.write()
	}
	if readErr == nil && e.now().Sub(rec.TS) <= e.stale {
		return false, nil
	}
	if readErr != nil && !errors.Is(readErr, os.ErrNotExist) {
		// 内容不完整可能是对方刚创建还没写完，以修改时间判断
		if info, err := os.Stat(e.path); err == nil && e.now().Sub(info.ModTime()) <= e.stale {
			return false, nil
		}
	}

	// 记录过期或损坏：接管
	e.logger.WithFields(logrus.Fields{
		"path":     e.path,
		"old_pid":  rec.PID,
		"read_err": readErr,
	}).Warn("Leader: 锁文件已过期，尝试接管")
	return e.takeover()
}

// takeover 先把锁文件改名挪开再核对内容：两个进程同时看到同一份过期记录时，
// 后到者挪走的会是先到者刚创建的新锁，此时原样放回并放弃。
// 挪开到放回之间若有第三方创建成功，先到者会在下次 Heartbeat 时得到 ErrLeadershipLost。
func (e *FileElection) takeover() (bool, error) {
	tomb := fmt.Sprintf("%s.%d.stale", e.path, e.pid)
	if err := os.Rename(e.path, tomb); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return e.create()
		}
		return false, fmt.Errorf("移除过期锁文件失败: %w", err)
	}
	if e.isFresh(tomb) {
		if err := os.Link(tomb, e.path); err != nil && !errors.Is(err, os.ErrExist) {
			e.logger.WithError(err).Warn("Leader: 放回他人锁文件失败")
		}
		_ = os.Remove(tomb)
		return false, nil
	}
	_ = os.Remove(tomb)
	return e.create()
}

// isFresh 记录在 stale 内刷新过；内容不完整时以修改时间判断
func (e *FileElection) isFresh(path string) bool {
	rec, err := readRecord(path)
	if err == nil {
		return e.now().Sub(rec.TS) <= e.stale
	}
	if info, statErr := os.Stat(path); statErr == nil {
		return e.now().Sub(info.ModTime()) <= e.stale
	}
	return false
}

// create 原子创建；文件已存在返回 false, nil
func (e *FileElection) create() (bool, error) {
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("创建锁文件失败: %w", err)
	}
	data, err := json.Marshal(lockRecord{PID: e.pid, TS: e.now().UTC()})
	if err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(e.path)
		return false, fmt.Errorf("写入锁文件失败: %w", err)
	}
	return true, nil
}

func (e *FileElection) read() (lockRecord, error) {
	return readRecord(e.path)
}

func readRecord(path string) (lockRecord, error) {
	var rec lockRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("锁文件内容损坏: %w", err)
	}
	return rec, nil
}

// write 先写临时文件再 rename，读者不会看到半截内容
func (e *FileElection) write() error {
	data, err := json.Marshal(lockRecord{PID: e.pid, TS: e.now().UTC()})
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", e.path, e.pid)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入锁文件失败: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("替换锁文件失败: %w", err)
	}
	return nil
}

func (e *FileElection) Heartbeat(ctx context.Context) error {
	rec, err := e.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return interfaces.ErrLeadershipLost
		}
		return err
	}
	if rec.PID != e.pid {
		return interfaces.ErrLeadershipLost
	}
	return e.write()
}

// Release 只删除仍属于本进程的锁文件
func (e *FileElection) Release(ctx context.Context) error {
	rec, err := e.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if rec.PID != e.pid {
		return nil
	}
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除锁文件失败: %w", err)
	}
	return nil
}

func (e *FileElection) IsStale(ctx context.Context, ttl time.Duration) (bool, error) {
	rec, err := e.read()
	if err != nil {
		// 不存在或内容损坏都视为失效
		return true, nil
	}
	return e.now().Sub(rec.TS) > ttl, nil
}
