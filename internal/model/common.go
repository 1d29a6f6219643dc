package model

import (
	"time"
)

// QueueStatus 通知队列状态
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusSent      QueueStatus = "sent"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusCancelled QueueStatus = "cancelled"
)

// TerminalStatuses 终态：不会再发生任何迁移
var TerminalStatuses = []QueueStatus{QueueStatusSent, QueueStatusFailed, QueueStatusCancelled}

// IsTerminal 是否为终态
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusFailed || s == QueueStatusCancelled
}

// 比赛类型（与上游数据 join 时使用的名称）
const (
	MatchTypeQualification = "Qualification"
	MatchTypePlayoff       = "Playoff"
	MatchTypeFinal         = "Final"
)

// MatchKey (match_type, match_number) 自然键，编号按字符串比较
type MatchKey struct {
	Type   string
	Number string
}

// TimePair 上游返回的一场比赛的计划/实际开赛时间（UTC）
type TimePair struct {
	Scheduled time.Time
	Actual    *time.Time
}

// MatchTimes 单个赛事所有比赛的时间对
type MatchTimes map[MatchKey]TimePair

// UsableCount 同时有计划时间和实际时间的条目数
func (t MatchTimes) UsableCount() int {
	n := 0
	for _, p := range t {
		if !p.Scheduled.IsZero() && p.Actual != nil {
			n++
		}
	}
	return n
}

// Merge 补充 other 中本地没有的条目，已存在的不覆盖；返回新增条数
func (t MatchTimes) Merge(other MatchTimes) int {
	added := 0
	for k, p := range other {
		if _, ok := t[k]; ok {
			continue
		}
		t[k] = p
		added++
	}
	return added
}
