package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"MatchAlert/internal/config"
	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/metrics"
	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// DeliveryReport 一轮投递的统计
type DeliveryReport struct {
	Sent      int // 至少一个渠道成功
	Failed    int // 本轮进入 failed 终态
	Cancelled int // 订阅已停用
	Retried   int // 失败但仍有重试额度
	Skipped   int // 被其他 worker 认领或尚在退避期
}

// DeliveryProcessor 认领到期条目并投递，本轮所有状态变更与日志在结束时一次性提交
type DeliveryProcessor struct {
	queueRepo repository.QueueRepository
	subRepo   repository.SubscriptionRepository
	matchRepo repository.MatchRepository
	eventRepo repository.EventRepository
	userRepo  repository.UserRepository
	channels  interfaces.DeliveryChannels
	builder   interfaces.MessageBuilder
	cfg       config.DeliveryConfig
	workerID  string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewDeliveryProcessor(
	queueRepo repository.QueueRepository,
	subRepo repository.SubscriptionRepository,
	matchRepo repository.MatchRepository,
	eventRepo repository.EventRepository,
	userRepo repository.UserRepository,
	channels interfaces.DeliveryChannels,
	builder interfaces.MessageBuilder,
	cfg config.DeliveryConfig,
	workerID string,
	logger *logrus.Logger,
) *DeliveryProcessor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	if builder == nil {
		builder = DefaultMessageBuilder{}
	}
	if workerID == "" {
		workerID = uuid.NewString()
	}
	return &DeliveryProcessor{
		queueRepo: queueRepo,
		subRepo:   subRepo,
		matchRepo: matchRepo,
		eventRepo: eventRepo,
		userRepo:  userRepo,
		channels:  channels,
		builder:   builder,
		cfg:       cfg,
		workerID:  workerID,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock 测试用
func (p *DeliveryProcessor) SetClock(now func() time.Time) {
	p.now = now
}

// ProcessPendingNotifications 认领 → 逐条处理（互相隔离）→ 单事务提交
func (p *DeliveryProcessor) ProcessPendingNotifications(ctx context.Context) (DeliveryReport, error) {
	var report DeliveryReport
	now := p.now().UTC()

	due, err := p.queueRepo.ListDue(ctx, now, p.cfg.MaxAttempts, p.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("查询到期条目失败: %w", err)
	}
	if len(due) == 0 {
		return report, nil
	}

	// 1. 认领
	claimed := make([]*model.NotificationQueue, 0, len(due))
	for _, item := range due {
		if p.inBackoff(item, now) {
			report.Skipped++
			continue
		}
		ok, err := p.queueRepo.Claim(ctx, item.ID, p.workerID, now, now.Add(p.cfg.ClaimTTL))
		if err != nil {
			p.logger.WithError(err).WithField("queue_id", item.ID).Warn("Delivery: 认领失败，跳过")
			report.Skipped++
			continue
		}
		if !ok {
			report.Skipped++
			continue
		}
		claimed = append(claimed, item)
	}

	// 2. 逐条处理
	outcomes := make([]repository.QueueOutcome, 0, len(claimed))
	var logs []*model.NotificationLog
	for _, item := range claimed {
		outcome, logRow := p.processOne(ctx, item, now)
		outcomes = append(outcomes, outcome)
		if logRow != nil {
			logs = append(logs, logRow)
		}
		switch {
		case outcome.Status == model.QueueStatusSent:
			report.Sent++
		case outcome.Status == model.QueueStatusCancelled:
			report.Cancelled++
		case outcome.Status == model.QueueStatusFailed:
			report.Failed++
		default:
			report.Retried++
		}
	}

	// 3. 一次性提交
	if _, err := p.queueRepo.ApplyOutcomes(ctx, p.workerID, outcomes, logs); err != nil {
		// 认领到期后条目会重新变为可处理
		return report, fmt.Errorf("提交投递结果失败: %w", err)
	}

	metrics.DeliveryOutcomes.WithLabelValues("sent").Add(float64(report.Sent))
	metrics.DeliveryOutcomes.WithLabelValues("failed").Add(float64(report.Failed))
	metrics.DeliveryOutcomes.WithLabelValues("cancelled").Add(float64(report.Cancelled))
	metrics.DeliveryOutcomes.WithLabelValues("retry").Add(float64(report.Retried))
	if len(claimed) > 0 {
		p.logger.WithFields(logrus.Fields{
			"sent":      report.Sent,
			"failed":    report.Failed,
			"cancelled": report.Cancelled,
			"retried":   report.Retried,
			"skipped":   report.Skipped,
		}).Info("Delivery: 本轮投递完成")
	}
	return report, nil
}

// inBackoff retry_backoff > 0 时，第 n 次失败后等待 backoff·2^(n-1)
func (p *DeliveryProcessor) inBackoff(item *model.NotificationQueue, now time.Time) bool {
	if p.cfg.RetryBackoff <= 0 || item.Attempts == 0 || item.LastAttempt == nil {
		return false
	}
	wait := time.Duration(float64(p.cfg.RetryBackoff) * math.Pow(2, float64(item.Attempts-1)))
	return item.LastAttempt.Add(wait).After(now)
}

// processOne 单条处理；panic 与意外错误按一次失败尝试计，保证重试有界
func (p *DeliveryProcessor) processOne(ctx context.Context, item *model.NotificationQueue, now time.Time) (outcome repository.QueueOutcome, logRow *model.NotificationLog) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"queue_id": item.ID,
				"panic":    r,
			}).Error("Delivery: 处理条目时 panic")
			outcome = p.failedAttempt(item, now, fmt.Sprintf("panic: %v", r))
			logRow = nil
		}
	}()

	sub, match, err := p.loadReferences(ctx, item)
	if err != nil {
		if errors.Is(err, ErrReferenceMissing) {
			p.logger.WithError(err).WithField("queue_id", item.ID).Warn("Delivery: 引用已不存在，直接失败")
			msg := err.Error()
			return repository.QueueOutcome{
				ID:           item.ID,
				Status:       model.QueueStatusFailed,
				Attempts:     item.Attempts,
				LastAttempt:  item.LastAttempt,
				ErrorMessage: &msg,
			}, nil
		}
		return p.failedAttempt(item, now, err.Error()), nil
	}
	if !sub.IsActive {
		msg := ErrSubscriptionInactive.Error()
		return repository.QueueOutcome{
			ID:           item.ID,
			Status:       model.QueueStatusCancelled,
			Attempts:     item.Attempts,
			LastAttempt:  item.LastAttempt,
			ErrorMessage: &msg,
		}, nil
	}

	user, err := p.userRepo.GetByID(ctx, sub.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			msg := fmt.Sprintf("%v: user %d", ErrReferenceMissing, sub.UserID)
			return repository.QueueOutcome{
				ID:           item.ID,
				Status:       model.QueueStatusFailed,
				Attempts:     item.Attempts,
				LastAttempt:  item.LastAttempt,
				ErrorMessage: &msg,
			}, nil
		}
		return p.failedAttempt(item, now, err.Error()), nil
	}

	var event *model.Event
	if ev, err := p.eventRepo.GetByID(ctx, match.EventID); err == nil {
		event = ev
	}
	msg := p.builder.Build(sub, match, event)

	logRow = &model.NotificationLog{
		LogUUID:          uuid.NewString(),
		QueueID:          item.ID,
		SubscriptionID:   sub.ID,
		UserID:           user.ID,
		MatchID:          match.ID,
		NotificationType: sub.NotificationType,
		Title:            msg.Title,
		Message:          msg.Body,
		CreatedAt:        now,
	}
	var channelErrors []string

	if sub.EmailEnabled && user.Email != nil && strings.TrimSpace(*user.Email) != "" {
		if err := p.channels.SendEmail(ctx, *user.Email, msg.Title, msg.Body); err != nil {
			e := err.Error()
			logRow.EmailError = &e
			channelErrors = append(channelErrors, "email: "+e)
			metrics.ChannelSends.WithLabelValues("email", "error").Inc()
		} else {
			logRow.EmailSent = true
			metrics.ChannelSends.WithLabelValues("email", "ok").Inc()
		}
	}

	if sub.PushEnabled {
		hasDevice, err := p.userRepo.HasActiveDevice(ctx, user.ID)
		if err != nil {
			channelErrors = append(channelErrors, "push: "+err.Error())
		} else if hasDevice {
			res := p.channels.SendPush(ctx, user.ID, msg.Title, msg.Body, msg.Data)
			logRow.PushSentCount = res.SuccessCount
			logRow.PushFailedCount = res.FailedCount
			for _, e := range res.Errors {
				channelErrors = append(channelErrors, "push: "+e)
			}
			if res.SuccessCount > 0 {
				metrics.ChannelSends.WithLabelValues("push", "ok").Inc()
			} else {
				metrics.ChannelSends.WithLabelValues("push", "error").Inc()
			}
		}
	}

	if logRow.EmailSent || logRow.PushSentCount > 0 {
		logRow.Status = model.QueueStatusSent
		logRow.Errors = encodeErrors(channelErrors)
		return repository.QueueOutcome{
			ID:          item.ID,
			Status:      model.QueueStatusSent,
			Attempts:    item.Attempts,
			LastAttempt: &now,
		}, logRow
	}

	if len(channelErrors) == 0 {
		channelErrors = append(channelErrors, "no deliverable channel")
	}
	reason := strings.Join(channelErrors, "; ")
	outcome = p.failedAttempt(item, now, reason)
	logRow.Status = outcome.Status
	logRow.Errors = encodeErrors(channelErrors)
	p.logger.WithError(fmt.Errorf("%w: %s", ErrTransientDelivery, reason)).WithFields(logrus.Fields{
		"queue_id": item.ID,
		"attempts": outcome.Attempts,
	}).Warn("Delivery: 所有渠道发送失败")
	return outcome, logRow
}

// failedAttempt attempts+1，达到上限进入 failed，否则保持 pending 且 scheduled_for 不变
func (p *DeliveryProcessor) failedAttempt(item *model.NotificationQueue, now time.Time, reason string) repository.QueueOutcome {
	attempts := item.Attempts + 1
	status := model.QueueStatusPending
	if attempts >= p.cfg.MaxAttempts {
		attempts = p.cfg.MaxAttempts
		status = model.QueueStatusFailed
	}
	at := now
	return repository.QueueOutcome{
		ID:           item.ID,
		Status:       status,
		Attempts:     attempts,
		LastAttempt:  &at,
		ErrorMessage: &reason,
	}
}

func (p *DeliveryProcessor) loadReferences(ctx context.Context, item *model.NotificationQueue) (*model.NotificationSubscription, *model.Match, error) {
	sub, err := p.subRepo.GetByID(ctx, item.SubscriptionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, fmt.Errorf("%w: subscription %d", ErrReferenceMissing, item.SubscriptionID)
		}
		return nil, nil, err
	}
	match, err := p.matchRepo.GetByID(ctx, item.MatchID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, fmt.Errorf("%w: match %d", ErrReferenceMissing, item.MatchID)
		}
		return nil, nil, err
	}
	return sub, match, nil
}

func encodeErrors(errs []string) datatypes.JSON {
	if len(errs) == 0 {
		return datatypes.JSON("[]")
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}
