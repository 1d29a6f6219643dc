package model

import (
	"strconv"
	"strings"
	"time"
)

// Event 赛事（区域赛/分区赛），schedule_offset 是漂移分析唯一的持久化输出
type Event struct {
	ID                 uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Code               string    `gorm:"column:code;type:varchar(32);not null;index;comment:赛事代码，如CALA"`
	Name               string    `gorm:"column:name;type:varchar(256);comment:赛事名称"`
	Year               int       `gorm:"column:year;type:int;not null;default:0;comment:赛季年份"`
	Timezone           *string   `gorm:"column:timezone;type:varchar(64);comment:IANA时区"`
	ScoutingTeamNumber *int      `gorm:"column:scouting_team_number;type:int;index;comment:所属侦察队伍（数据归属范围）"`
	ScheduleOffset     *int      `gorm:"column:schedule_offset;type:int;comment:赛程漂移（分钟，正数为延后）"`
	CreatedAt          time.Time `gorm:"column:created_at;type:timestamp;comment:创建时间"`
	UpdatedAt          time.Time `gorm:"column:updated_at;type:timestamp;comment:更新时间"`
}

// Match 单场比赛；实际开赛时间从不落库，每次分析时从上游实时拉取
type Match struct {
	ID                 uint64     `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	EventID            uint64     `gorm:"column:event_id;type:bigint;not null;index;comment:关联赛事ID"`
	MatchType          string     `gorm:"column:match_type;type:varchar(32);not null;comment:比赛类型：Qualification/Playoff/Final"`
	MatchNumber        int        `gorm:"column:match_number;type:int;not null;comment:比赛编号"`
	RedAlliance        string     `gorm:"column:red_alliance;type:varchar(64);comment:红方队伍，逗号分隔"`
	BlueAlliance       string     `gorm:"column:blue_alliance;type:varchar(64);comment:蓝方队伍，逗号分隔"`
	ScheduledTime      *time.Time `gorm:"column:scheduled_time;type:timestamp;index;comment:计划开赛时间（UTC）"`
	PredictedTime      *time.Time `gorm:"column:predicted_time;type:timestamp;comment:漂移修正后的预测时间（UTC）"`
	ScoutingTeamNumber *int       `gorm:"column:scouting_team_number;type:int;index;comment:所属侦察队伍"`
	CreatedAt          time.Time  `gorm:"column:created_at;type:timestamp;comment:创建时间"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;type:timestamp;comment:更新时间"`
}

// User 只读：投递时取邮箱
type User struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Username  string    `gorm:"column:username;type:varchar(64);not null;comment:用户名"`
	Email     *string   `gorm:"column:email;type:varchar(256);comment:邮箱"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;comment:创建时间"`
}

// DeviceToken 只读：用于判断用户是否可以接收推送
type DeviceToken struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	UserID    uint64    `gorm:"column:user_id;type:bigint;not null;index;comment:关联用户ID"`
	Token     string    `gorm:"column:token;type:varchar(512);not null;comment:设备推送Token"`
	Platform  string    `gorm:"column:platform;type:varchar(16);comment:ios/android/web"`
	IsActive  bool      `gorm:"column:is_active;type:boolean;not null;comment:是否有效"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;comment:创建时间"`
}

func (Event) TableName() string       { return "events" }
func (Match) TableName() string       { return "matches" }
func (User) TableName() string        { return "users" }
func (DeviceToken) TableName() string { return "device_tokens" }

// Location 赛事时区，未配置或无法解析时回退到 UTC
func (e *Event) Location() *time.Location {
	if e.Timezone == nil || *e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(*e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EffectiveTime 预测时间优先，否则计划时间；两者都没有返回 nil
func (m *Match) EffectiveTime() *time.Time {
	if m.PredictedTime != nil {
		return m.PredictedTime
	}
	return m.ScheduledTime
}

// Key 与上游数据 join 用的自然键
func (m *Match) Key() MatchKey {
	return MatchKey{Type: m.MatchType, Number: strconv.Itoa(m.MatchNumber)}
}

// Participants 红蓝双方全部队伍号，无法解析的片段忽略
func (m *Match) Participants() []int {
	var teams []int
	for _, alliance := range []string{m.RedAlliance, m.BlueAlliance} {
		for _, part := range strings.Split(alliance, ",") {
			part = strings.TrimPrefix(strings.TrimSpace(part), "frc")
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			teams = append(teams, n)
		}
	}
	return teams
}
