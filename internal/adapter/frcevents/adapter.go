package frcevents

import (
	"MatchAlert/internal/adapter"
	"MatchAlert/internal/config"
	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/model"
	"MatchAlert/internal/utils/httpclient"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Name 数据源名称，与 providers 配置键一致
const Name = "frcevents"

func init() {
	adapter.Register(Name, NewFRCEventsAdapter)
}

// 上游赛段参数 → 本地比赛类型
var tournamentLevels = map[string]string{
	"Qualification": model.MatchTypeQualification,
	"Playoff":       model.MatchTypePlayoff,
}

// 上游返回的是赛事当地时间，不带时区
var localLayouts = []string{
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

type scheduleResponse struct {
	Schedule []struct {
		Description     string `json:"description"`
		TournamentLevel string `json:"tournamentLevel"`
		MatchNumber     int    `json:"matchNumber"`
		StartTime       string `json:"startTime"`
	} `json:"Schedule"`
}

type matchesResponse struct {
	Matches []struct {
		TournamentLevel string `json:"tournamentLevel"`
		MatchNumber     int    `json:"matchNumber"`
		ActualStartTime string `json:"actualStartTime"`
	} `json:"Matches"`
}

// Adapter FRC Events API：计划时间取 schedule 接口，实际时间取 matches 接口
type Adapter struct {
	cfg        *config.ProviderConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewFRCEventsAdapter(cfg *config.ProviderConfig, logger *logrus.Logger) interfaces.MatchTimeSource {
	return &Adapter{
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

func (a *Adapter) Name() string {
	return Name
}

// FetchMatchTimes 逐赛段拉取计划与实际时间，按比赛编号合并
func (a *Adapter) FetchMatchTimes(ctx context.Context, event *model.Event) (model.MatchTimes, error) {
	loc := event.Location()
	season := event.Year
	if season == 0 {
		season = time.Now().UTC().Year()
	}

	times := make(model.MatchTimes)
	for level, matchType := range tournamentLevels {
		var sched scheduleResponse
		if _, _, err := httpclient.GetJSON(ctx, a.httpClient, a.buildURL(season, "schedule", event.Code, level), a.headers(), &sched, a.logger); err != nil {
			return nil, fmt.Errorf("获取FRC赛程失败(%s): %w", level, err)
		}
		var matches matchesResponse
		if _, _, err := httpclient.GetJSON(ctx, a.httpClient, a.buildURL(season, "matches", event.Code, level), a.headers(), &matches, a.logger); err != nil {
			return nil, fmt.Errorf("获取FRC比赛结果失败(%s): %w", level, err)
		}

		actuals := make(map[int]time.Time, len(matches.Matches))
		for _, m := range matches.Matches {
			if t, ok := parseLocal(m.ActualStartTime, loc); ok {
				actuals[m.MatchNumber] = t
			}
		}
		for _, s := range sched.Schedule {
			scheduled, ok := parseLocal(s.StartTime, loc)
			if !ok {
				a.logger.WithFields(logrus.Fields{
					"event":      event.Code,
					"match":      s.MatchNumber,
					"start_time": s.StartTime,
				}).Debug("FRC计划时间无法解析，跳过")
				continue
			}
			pair := model.TimePair{Scheduled: scheduled}
			if actual, ok := actuals[s.MatchNumber]; ok {
				actual := actual
				pair.Actual = &actual
			}
			times[model.MatchKey{Type: matchType, Number: strconv.Itoa(s.MatchNumber)}] = pair
		}
	}

	a.logger.WithFields(logrus.Fields{
		"event":  event.Code,
		"total":  len(times),
		"usable": times.UsableCount(),
	}).Debug("FRC Events 拉取完成")
	return times, nil
}

func (a *Adapter) buildURL(season int, resource, eventCode, level string) string {
	q := url.Values{}
	q.Set("tournamentLevel", level)
	return fmt.Sprintf("%s/%d/%s/%s?%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), season, resource, url.PathEscape(strings.ToUpper(eventCode)), q.Encode())
}

// headers Basic 认证：base64(username:token)
func (a *Adapter) headers() map[string]string {
	if a.cfg.AuthToken == "" {
		return nil
	}
	cred := base64.StdEncoding.EncodeToString([]byte(a.cfg.Username + ":" + a.cfg.AuthToken))
	return map[string]string{"Authorization": "Basic " + cred}
}

func parseLocal(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
