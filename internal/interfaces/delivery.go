package interfaces

import (
	"context"

	"MatchAlert/internal/model"
)

// PushResult 一次推送在用户所有设备上的结果
type PushResult struct {
	SuccessCount int
	FailedCount  int
	Errors       []string
}

// DeliveryChannels 邮件/推送的具体传输由外部实现
type DeliveryChannels interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendPush(ctx context.Context, userID uint64, title, message string, data map[string]string) PushResult
}

// Message 渲染后的通知内容
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// MessageBuilder 决定通知文案；event 可能为 nil
type MessageBuilder interface {
	Build(sub *model.NotificationSubscription, match *model.Match, event *model.Event) Message
}
