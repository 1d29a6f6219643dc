package model

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationSubscription 用户订阅：某支队伍的比赛开赛前 N 分钟提醒
type NotificationSubscription struct {
	ID                 uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	UserID             uint64    `gorm:"column:user_id;type:bigint;not null;index;comment:关联用户ID"`
	ScoutingTeamNumber *int      `gorm:"column:scouting_team_number;type:int;comment:所属侦察队伍"`
	NotificationType   string    `gorm:"column:notification_type;type:varchar(32);not null;default:match_upcoming;comment:通知类型"`
	TargetTeamNumber   int       `gorm:"column:target_team_number;type:int;not null;index;comment:关注的队伍号"`
	EventCode          *string   `gorm:"column:event_code;type:varchar(32);comment:可选，只关注某个赛事"`
	EmailEnabled       bool      `gorm:"column:email_enabled;type:boolean;not null;comment:是否发邮件"`
	PushEnabled        bool      `gorm:"column:push_enabled;type:boolean;not null;comment:是否推送"`
	MinutesBefore      int       `gorm:"column:minutes_before;type:int;not null;comment:提前分钟数"`
	IsActive           bool      `gorm:"column:is_active;type:boolean;not null;index;comment:是否启用"`
	CreatedAt          time.Time `gorm:"column:created_at;type:timestamp;comment:创建时间"`
	UpdatedAt          time.Time `gorm:"column:updated_at;type:timestamp;comment:更新时间"`
}

// NotificationQueue 待投递队列；同一 (subscription, match) 最多一条 pending
type NotificationQueue struct {
	ID             uint64      `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	SubscriptionID uint64      `gorm:"column:subscription_id;type:bigint;not null;uniqueIndex:idx_queue_pending_pair,where:status = 'pending';comment:关联订阅ID"`
	MatchID        uint64      `gorm:"column:match_id;type:bigint;not null;index;uniqueIndex:idx_queue_pending_pair,where:status = 'pending';comment:关联比赛ID"`
	ScheduledFor   time.Time   `gorm:"column:scheduled_for;type:timestamp;not null;index;comment:计划发送时间（UTC）"`
	Status         QueueStatus `gorm:"column:status;type:varchar(16);not null;default:pending;index;comment:状态：pending/sent/failed/cancelled"`
	Attempts       int         `gorm:"column:attempts;type:int;not null;default:0;comment:已尝试次数"`
	LastAttempt    *time.Time  `gorm:"column:last_attempt;type:timestamp;comment:最近一次尝试时间"`
	ErrorMessage   *string     `gorm:"column:error_message;type:text;comment:最近一次失败原因"`
	ClaimedBy      *string     `gorm:"column:claimed_by;type:varchar(64);comment:认领该条目的worker"`
	ClaimedUntil   *time.Time  `gorm:"column:claimed_until;type:timestamp;comment:认领过期时间"`
	CreatedAt      time.Time   `gorm:"column:created_at;type:timestamp;index;comment:创建时间"`
	UpdatedAt      time.Time   `gorm:"column:updated_at;type:timestamp;comment:更新时间"`
}

// NotificationLog 每次投递尝试的记录，只追加不修改
type NotificationLog struct {
	ID               uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	LogUUID          string         `gorm:"column:log_uuid;type:varchar(64);uniqueIndex;not null;comment:全局唯一ID"`
	QueueID          uint64         `gorm:"column:queue_id;type:bigint;not null;index;comment:关联队列ID"`
	SubscriptionID   uint64         `gorm:"column:subscription_id;type:bigint;not null;comment:关联订阅ID"`
	UserID           uint64         `gorm:"column:user_id;type:bigint;not null;comment:关联用户ID"`
	MatchID          uint64         `gorm:"column:match_id;type:bigint;not null;comment:关联比赛ID"`
	NotificationType string         `gorm:"column:notification_type;type:varchar(32);comment:通知类型"`
	Title            string         `gorm:"column:title;type:varchar(256);comment:标题"`
	Message          string         `gorm:"column:message;type:text;comment:正文"`
	EmailSent        bool           `gorm:"column:email_sent;type:boolean;not null;comment:邮件是否成功"`
	EmailError       *string        `gorm:"column:email_error;type:text;comment:邮件错误"`
	PushSentCount    int            `gorm:"column:push_sent_count;type:int;default:0;comment:推送成功数"`
	PushFailedCount  int            `gorm:"column:push_failed_count;type:int;default:0;comment:推送失败数"`
	Errors           datatypes.JSON `gorm:"column:errors;comment:各渠道错误列表"`
	Status           QueueStatus    `gorm:"column:status;type:varchar(16);not null;comment:本次尝试后的队列状态"`
	CreatedAt        time.Time      `gorm:"column:created_at;type:timestamp;comment:创建时间"`
}

// WorkerLease 数据库租约，leader.backend=lease 时使用
type WorkerLease struct {
	Name        string    `gorm:"column:name;primaryKey;type:varchar(64);comment:租约名称"`
	Owner       string    `gorm:"column:owner;type:varchar(64);not null;default:'';comment:当前持有者"`
	HeartbeatAt time.Time `gorm:"column:heartbeat_at;type:timestamp;not null;comment:最近一次心跳"`
}

func (NotificationSubscription) TableName() string { return "notification_subscriptions" }
func (NotificationQueue) TableName() string        { return "notification_queue" }
func (NotificationLog) TableName() string          { return "notification_logs" }
func (WorkerLease) TableName() string              { return "worker_leases" }

// AllModels 迁移顺序
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&DeviceToken{},
		&Event{},
		&Match{},
		&NotificationSubscription{},
		&NotificationQueue{},
		&NotificationLog{},
		&WorkerLease{},
	}
}
