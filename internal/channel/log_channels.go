// Package channel 投递渠道的默认实现；真实的邮件/推送传输在外部注入
package channel

import (
	"context"

	"MatchAlert/internal/interfaces"

	"github.com/sirupsen/logrus"
)

// LogChannels 只写日志不真正发送（dry-run），所有发送都视为成功
type LogChannels struct {
	logger *logrus.Logger
}

func NewLogChannels(logger *logrus.Logger) *LogChannels {
	return &LogChannels{logger: logger}
}

var _ interfaces.DeliveryChannels = (*LogChannels)(nil)

func (c *LogChannels) SendEmail(ctx context.Context, to, subject, body string) error {
	c.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Channel(dry-run): 邮件")
	return nil
}

func (c *LogChannels) SendPush(ctx context.Context, userID uint64, title, message string, data map[string]string) interfaces.PushResult {
	c.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"title":   title,
		"data":    data,
	}).Info("Channel(dry-run): 推送")
	return interfaces.PushResult{SuccessCount: 1}
}
