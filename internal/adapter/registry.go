package adapter

import (
	"MatchAlert/internal/config"
	"MatchAlert/internal/interfaces"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// SourceRegistry 按 providers 配置实例化的数据源
type SourceRegistry struct {
	logger  *logrus.Logger
	sources map[string]interfaces.MatchTimeSource
}

// NewSourceRegistry 遍历配置中的数据源，用已注册的工厂函数创建实例；未注册的跳过并记录
func NewSourceRegistry(providers map[string]config.ProviderConfig, logger *logrus.Logger) *SourceRegistry {
	r := &SourceRegistry{
		logger:  logger,
		sources: make(map[string]interfaces.MatchTimeSource),
	}
	logger.WithField("factories", ListFactories()).Debug("已注册的数据源工厂函数")

	for name, providerCfg := range providers {
		factory, ok := GetFactory(name)
		if !ok {
			logger.WithField("provider", name).Error("未找到对应的工厂函数（init未注册？）")
			continue
		}
		pc := providerCfg
		source := factory(&pc, logger)
		if source == nil {
			logger.WithField("provider", name).Error("工厂函数返回nil实例")
			continue
		}
		if source.Name() != name {
			logger.WithFields(logrus.Fields{
				"config_provider": name,
				"source_name":     source.Name(),
			}).Error("数据源名称与配置不匹配")
			continue
		}
		r.sources[name] = source
	}
	logger.WithField("providers", r.Names()).Info("数据源初始化完成")
	return r
}

// Get 获取数据源实例；name 为空返回 nil, nil（表示未配置）
func (r *SourceRegistry) Get(name string) (interfaces.MatchTimeSource, error) {
	if name == "" {
		return nil, nil
	}
	source, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("数据源%s未初始化（已初始化：%v）", name, r.Names())
	}
	return source, nil
}

// Names 已初始化的数据源名称
func (r *SourceRegistry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
