package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MatchAlert/internal/metrics"
	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"

	"github.com/sirupsen/logrus"
)

// NotificationScheduler 把 订阅 × 比赛 物化为队列条目，可重复调用
type NotificationScheduler struct {
	eventRepo repository.EventRepository
	matchRepo repository.MatchRepository
	subRepo   repository.SubscriptionRepository
	queueRepo repository.QueueRepository
	logger    *logrus.Logger
	lookahead time.Duration
	now       func() time.Time
}

func NewNotificationScheduler(
	eventRepo repository.EventRepository,
	matchRepo repository.MatchRepository,
	subRepo repository.SubscriptionRepository,
	queueRepo repository.QueueRepository,
	lookahead time.Duration,
	logger *logrus.Logger,
) *NotificationScheduler {
	return &NotificationScheduler{
		eventRepo: eventRepo,
		matchRepo: matchRepo,
		subRepo:   subRepo,
		queueRepo: queueRepo,
		logger:    logger,
		lookahead: orDefault(lookahead, 48*time.Hour),
		now:       time.Now,
	}
}

// SetClock 测试用
func (s *NotificationScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// ScheduleNotificationsForMatch 返回新建条目数；已有 pending 条目只在发送时间变化时原地更新，不计数
func (s *NotificationScheduler) ScheduleNotificationsForMatch(ctx context.Context, match *model.Match) (int, error) {
	matchTime := match.EffectiveTime()
	if matchTime == nil {
		return 0, nil
	}
	teams := match.Participants()
	if len(teams) == 0 {
		return 0, nil
	}

	subs, err := s.subRepo.ListActiveForTeams(ctx, teams, match.ScoutingTeamNumber)
	if err != nil {
		return 0, fmt.Errorf("查询订阅失败: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	var eventCode string
	if needsEventCode(subs) {
		ev, err := s.eventRepo.GetByID(ctx, match.EventID)
		if err != nil && !repository.IsNotFound(err) {
			return 0, fmt.Errorf("查询赛事失败: %w", err)
		}
		if ev != nil {
			eventCode = ev.Code
		}
	}

	now := s.now().UTC()
	created := 0
	for _, sub := range subs {
		if sub.EventCode != nil && *sub.EventCode != "" && !strings.EqualFold(*sub.EventCode, eventCode) {
			continue
		}
		sendAt := matchTime.UTC().Add(-time.Duration(sub.MinutesBefore) * time.Minute)
		if sendAt.Before(now) {
			continue
		}

		existing, err := s.queueRepo.FindPending(ctx, sub.ID, match.ID)
		if err != nil {
			return created, fmt.Errorf("查询待发送条目失败: %w", err)
		}
		if existing != nil {
			if !existing.ScheduledFor.Equal(sendAt) {
				if err := s.queueRepo.UpdateScheduledFor(ctx, existing.ID, sendAt); err != nil {
					return created, fmt.Errorf("更新发送时间失败: %w, queue_id: %d", err, existing.ID)
				}
				metrics.NotificationsRescheduled.Inc()
			}
			continue
		}

		if err := s.queueRepo.Create(ctx, &model.NotificationQueue{
			SubscriptionID: sub.ID,
			MatchID:        match.ID,
			ScheduledFor:   sendAt,
			Status:         model.QueueStatusPending,
			Attempts:       0,
		}); err != nil {
			return created, fmt.Errorf("创建队列条目失败: %w, subscription_id: %d", err, sub.ID)
		}
		created++
		metrics.NotificationsScheduled.Inc()
	}
	return created, nil
}

func needsEventCode(subs []*model.NotificationSubscription) bool {
	for _, sub := range subs {
		if sub.EventCode != nil && *sub.EventCode != "" {
			return true
		}
	}
	return false
}

// PassReport 一次排程扫描的统计
type PassReport struct {
	Matches int
	Created int
	Failed  int
}

// RunPass 扫描有效时间落在 [now, now+lookahead] 的比赛；单场失败记录后继续
func (s *NotificationScheduler) RunPass(ctx context.Context) (PassReport, error) {
	var report PassReport
	now := s.now().UTC()
	matches, err := s.matchRepo.ListUpcoming(ctx, now, now.Add(s.lookahead))
	if err != nil {
		return report, fmt.Errorf("查询即将开始的比赛失败: %w", err)
	}
	report.Matches = len(matches)
	for _, m := range matches {
		n, err := s.ScheduleNotificationsForMatch(ctx, m)
		report.Created += n
		if err != nil {
			report.Failed++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"match_id": m.ID,
				"event_id": m.EventID,
			}).Warn("Scheduler: 排程失败，跳过")
		}
	}
	if report.Created > 0 {
		s.logger.Infof("Scheduler: 扫描 %d 场比赛，新建 %d 条通知", report.Matches, report.Created)
	}
	return report, nil
}
