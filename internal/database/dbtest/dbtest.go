// Package dbtest 为各包测试提供迁移好的临时 SQLite 库
package dbtest

import (
	"path/filepath"
	"testing"
	"time"

	"MatchAlert/internal/database"
	"MatchAlert/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New 每个测试一个独立库文件，测试结束自动关闭
func New(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Ptr 测试里构造可空字段
func Ptr[T any](v T) *T { return &v }

// SeedEvent 插入一个赛事
func SeedEvent(t *testing.T, db *gorm.DB, code string, offset *int) *model.Event {
	t.Helper()
	ev := &model.Event{Code: code, Name: code, Year: 2025, Timezone: Ptr("America/Los_Angeles"), ScheduleOffset: offset}
	require.NoError(t, db.Create(ev).Error)
	return ev
}

// SeedMatch 插入一场比赛，红方包含 team
func SeedMatch(t *testing.T, db *gorm.DB, eventID uint64, number int, scheduled time.Time, red string) *model.Match {
	t.Helper()
	s := scheduled.UTC()
	m := &model.Match{
		EventID:       eventID,
		MatchType:     model.MatchTypeQualification,
		MatchNumber:   number,
		RedAlliance:   red,
		BlueAlliance:  "9001,9002,9003",
		ScheduledTime: &s,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

// SeedSubscription 插入用户及其对 team 的订阅（邮件+推送均开启，带一个有效设备）
func SeedSubscription(t *testing.T, db *gorm.DB, team, minutesBefore int) *model.NotificationSubscription {
	t.Helper()
	user := &model.User{Username: "scout", Email: Ptr("scout@example.com")}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Create(&model.DeviceToken{UserID: user.ID, Token: "tok", Platform: "ios", IsActive: true}).Error)
	sub := &model.NotificationSubscription{
		UserID:           user.ID,
		NotificationType: "match_upcoming",
		TargetTeamNumber: team,
		EmailEnabled:     true,
		PushEnabled:      true,
		MinutesBefore:    minutesBefore,
		IsActive:         true,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}
