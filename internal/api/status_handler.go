package api

import (
	"net/http"
	"strconv"
	"time"

	"MatchAlert/internal/model"
	"MatchAlert/internal/repository"
	"MatchAlert/internal/worker"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StateSource 调度循环的运行期状态
type StateSource interface {
	Snapshot() worker.StateSnapshot
}

// StatusHandler 运维调试接口：队列概况、单条队列详情、循环状态
type StatusHandler struct {
	queueRepo repository.QueueRepository
	logRepo   repository.LogRepository
	state     StateSource
	logger    *logrus.Logger
	now       func() time.Time
}

func NewStatusHandler(queueRepo repository.QueueRepository, logRepo repository.LogRepository, state StateSource, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		queueRepo: queueRepo,
		logRepo:   logRepo,
		state:     state,
		logger:    logger,
		now:       time.Now,
	}
}

// NewRouter 注册调试路由；pprof 与 /metrics 一并挂载
func NewRouter(mode string, h *StatusHandler) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	pprof.Register(r)

	r.GET("/healthz", h.Health)
	r.GET("/status", h.Status)
	r.GET("/api/queue/:id", h.GetQueueEntry)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Health 存活探测
// GET /healthz
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status 队列各状态条数、近 24 小时投递日志统计、循环状态
// GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	queue, err := h.queueRepo.CountByStatus(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Status: 统计队列失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logs, err := h.logRepo.CountSince(ctx, h.now().UTC().Add(-24*time.Hour))
	if err != nil {
		h.logger.WithError(err).Error("Status: 统计投递日志失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"queue":    queue,
		"logs_24h": logs,
	}
	if h.state != nil {
		resp["worker"] = h.state.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// GetQueueEntry 单条队列详情及其投递日志
// GET /api/queue/:id
func (h *StatusHandler) GetQueueEntry(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	item, err := h.queueRepo.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue entry not found"})
			return
		}
		h.logger.WithError(err).WithField("queue_id", id).Error("Status: 查询队列失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logs, err := h.logRepo.ListByQueueID(ctx, id)
	if err != nil {
		h.logger.WithError(err).WithField("queue_id", id).Error("Status: 查询投递日志失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []*model.NotificationLog{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entry": item,
		"logs":  logs,
	})
}
