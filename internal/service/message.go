package service

import (
	"fmt"
	"strconv"
	"time"

	"MatchAlert/internal/interfaces"
	"MatchAlert/internal/model"
)

// DefaultMessageBuilder 默认文案；可替换为任意 interfaces.MessageBuilder
type DefaultMessageBuilder struct{}

func (DefaultMessageBuilder) Build(sub *model.NotificationSubscription, match *model.Match, event *model.Event) interfaces.Message {
	loc := time.UTC
	code := ""
	if event != nil {
		loc = event.Location()
		code = event.Code
	}
	when := "TBD"
	if t := match.EffectiveTime(); t != nil {
		when = t.In(loc).Format("15:04 MST")
	}
	label := fmt.Sprintf("%s %d", match.MatchType, match.MatchNumber)
	title := fmt.Sprintf("Team %d: %s in %d min", sub.TargetTeamNumber, label, sub.MinutesBefore)
	if code != "" {
		title = fmt.Sprintf("[%s] %s", code, title)
	}
	body := fmt.Sprintf("%s starts at %s. Red: %s. Blue: %s.", label, when, match.RedAlliance, match.BlueAlliance)
	return interfaces.Message{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":        sub.NotificationType,
			"match_id":    strconv.FormatUint(match.ID, 10),
			"event_code":  code,
			"team_number": strconv.Itoa(sub.TargetTeamNumber),
		},
	}
}
