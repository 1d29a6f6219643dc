package service

import "errors"

var (
	// ErrTransientDelivery 渠道发送失败，会在重试额度内再次尝试
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrReferenceMissing 订阅或比赛已不存在，立即失败且不消耗重试额度
	ErrReferenceMissing = errors.New("queue entry references a missing subscription or match")
	// ErrSubscriptionInactive 订阅已停用，条目取消
	ErrSubscriptionInactive = errors.New("subscription inactive")
	// ErrUpstreamFetch 上游比赛时间拉取失败，本轮跳过该赛事
	ErrUpstreamFetch = errors.New("upstream match-time fetch failed")
)
