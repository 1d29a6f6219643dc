package tba

import (
	"MatchAlert/internal/adapter"
	"MatchAlert/internal/config"
	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/model"
	"MatchAlert/internal/utils/httpclient"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Name 数据源名称，与 providers 配置键一致
const Name = "tba"

func init() {
	adapter.Register(Name, NewTBAAdapter)
}

// simpleMatch TBA /matches/simple 单条记录，时间为 unix 秒
type simpleMatch struct {
	Key         string `json:"key"`
	CompLevel   string `json:"comp_level"`
	SetNumber   int    `json:"set_number"`
	MatchNumber int    `json:"match_number"`
	Time        *int64 `json:"time"`
	ActualTime  *int64 `json:"actual_time"`
}

// cachedResult 上次完整响应的解析结果及其 ETag
type cachedResult struct {
	etag  string
	times model.MatchTimes
}

// Adapter The Blue Alliance v3；带 If-None-Match 请求，上游返回 304 时复用上次结果
type Adapter struct {
	cfg        *config.ProviderConfig
	httpClient *http.Client
	logger     *logrus.Logger

	mu    sync.Mutex
	cache map[string]cachedResult
}

func NewTBAAdapter(cfg *config.ProviderConfig, logger *logrus.Logger) interfaces.MatchTimeSource {
	return &Adapter{
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
		cache:      make(map[string]cachedResult),
	}
}

func (a *Adapter) Name() string {
	return Name
}

func (a *Adapter) FetchMatchTimes(ctx context.Context, event *model.Event) (model.MatchTimes, error) {
	key := EventKey(event)
	url := fmt.Sprintf("%s/event/%s/matches/simple", strings.TrimRight(a.cfg.BaseURL, "/"), key)

	var raw []simpleMatch
	headers := map[string]string{}
	if a.cfg.AuthKey != "" {
		headers["X-TBA-Auth-Key"] = a.cfg.AuthKey
	}
	a.mu.Lock()
	cached, hasCache := a.cache[key]
	a.mu.Unlock()
	if hasCache && cached.etag != "" {
		headers["If-None-Match"] = cached.etag
	}

	respHeader, fresh, err := httpclient.GetJSON(ctx, a.httpClient, url, headers, &raw, a.logger)
	if err != nil {
		return nil, fmt.Errorf("获取TBA比赛失败: %w", err)
	}
	if !fresh {
		if hasCache {
			a.logger.WithField("event_key", key).Debug("TBA 未变化，复用上次结果")
			// 调用方可能合并写入，返回副本
			out := make(model.MatchTimes, len(cached.times))
			for k, v := range cached.times {
				out[k] = v
			}
			return out, nil
		}
		return model.MatchTimes{}, nil
	}

	times := make(model.MatchTimes, len(raw))
	for _, m := range raw {
		matchKey, ok := mapMatchKey(m)
		if !ok || m.Time == nil {
			continue
		}
		pair := model.TimePair{Scheduled: time.Unix(*m.Time, 0).UTC()}
		if m.ActualTime != nil && *m.ActualTime > 0 {
			actual := time.Unix(*m.ActualTime, 0).UTC()
			pair.Actual = &actual
		}
		times[matchKey] = pair
	}

	a.mu.Lock()
	a.cache[key] = cachedResult{etag: respHeader.Get("ETag"), times: times}
	a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{
		"event_key": key,
		"total":     len(times),
		"usable":    times.UsableCount(),
	}).Debug("TBA 拉取完成")
	return times, nil
}

// EventKey TBA 赛事键：年份 + 小写赛事代码，如 2025cala
func EventKey(event *model.Event) string {
	year := event.Year
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	return strconv.Itoa(year) + strings.ToLower(event.Code)
}

// mapMatchKey qm→Qualification(match_number)，sf→Playoff(set_number)，f→Final(match_number)；其他赛段不参与
func mapMatchKey(m simpleMatch) (model.MatchKey, bool) {
	switch m.CompLevel {
	case "qm":
		return model.MatchKey{Type: model.MatchTypeQualification, Number: strconv.Itoa(m.MatchNumber)}, true
	case "sf":
		return model.MatchKey{Type: model.MatchTypePlayoff, Number: strconv.Itoa(m.SetNumber)}, true
	case "f":
		return model.MatchKey{Type: model.MatchTypeFinal, Number: strconv.Itoa(m.MatchNumber)}, true
	default:
		return model.MatchKey{}, false
	}
}
