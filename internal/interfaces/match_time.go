package interfaces

import (
	"context"

	"MatchAlert/internal/config"
	"MatchAlert/internal/model"

	"github.com/sirupsen/logrus"
)

// MatchTimeSource 单个上游比赛数据源必须实现的接口
type MatchTimeSource interface {
	Name() string // 数据源名称，与 providers 配置键一致
	// FetchMatchTimes 拉取赛事全部比赛的 (计划, 实际) 时间对，时间统一转为 UTC
	FetchMatchTimes(ctx context.Context, event *model.Event) (model.MatchTimes, error)
}

// MatchTimeProvider 主备数据源组合后的统一入口
type MatchTimeProvider interface {
	Fetch(ctx context.Context, event *model.Event) (model.MatchTimes, error)
}

// Factory 数据源工厂函数签名
// 入参：数据源配置、日志实例
// 出参：实现MatchTimeSource接口的实例
type Factory func(cfg *config.ProviderConfig, logger *logrus.Logger) MatchTimeSource
