package session

import (
	"time"
	_ "time/tzdata"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

const day = 24 * time.Hour

// Schedule 描述会话的每日交易时段。
//
// StartTime 与 EndTime 为当天时刻；EndTime 早于 StartTime 表示跨越午夜，
// 两者相等表示 24 小时时段，每天在 StartTime 处滚动到新的时段。
type Schedule struct {
	start   time.Duration
	end     time.Duration
	loc     *time.Location
	nonStop bool
}

// NewSchedule 创建时段，loc 为 nil 时使用 UTC。
func NewSchedule(start, end time.Duration, loc *time.Location) *Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return &Schedule{start: start, end: end, loc: loc}
}

// NonStopSchedule 返回永不结束的时段。
func NonStopSchedule() *Schedule {
	return &Schedule{loc: time.UTC, nonStop: true}
}

// ScheduleFromSettings 从会话配置中读取时段。
func ScheduleFromSettings(d *config.Dictionary) (*Schedule, error) {
	nonStop, err := d.BoolOr(config.NonStopSession, false)
	if err != nil {
		return nil, err
	}
	if nonStop || (!d.Has(config.StartTime) && !d.Has(config.EndTime)) {
		return NonStopSchedule(), nil
	}
	start, err := d.TimeOfDay(config.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := d.TimeOfDay(config.EndTime)
	if err != nil {
		return nil, err
	}
	tz := d.StringOr(config.TimeZone, "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, merr.WrapErrConfigInvalid(config.TimeZone, tz, d.Name())
	}
	return NewSchedule(start, end, loc), nil
}

// IsNonStop 判断是否为不间断时段。
func (s *Schedule) IsNonStop() bool {
	return s == nil || s.nonStop
}

// IsSessionTime 判断 t 是否处于时段内。
func (s *Schedule) IsSessionTime(t time.Time) bool {
	if s.IsNonStop() {
		return true
	}
	_, in := s.period(t)
	return in
}

// IsSameSession 判断 a、b 是否处于同一个时段内。
func (s *Schedule) IsSameSession(a, b time.Time) bool {
	if s.IsNonStop() {
		return true
	}
	beginA, inA := s.period(a)
	beginB, inB := s.period(b)
	return inA && inB && beginA.Equal(beginB)
}

// period 返回 t 之前最近一次时段开始的时间，以及 t 是否仍在该时段内。
func (s *Schedule) period(t time.Time) (time.Time, bool) {
	local := t.In(s.loc)
	y, m, d := local.Date()
	begin := time.Date(y, m, d, 0, 0, 0, 0, s.loc).Add(s.start)
	if begin.After(local) {
		begin = begin.AddDate(0, 0, -1)
	}
	length := (s.end - s.start + day) % day
	if length == 0 {
		length = day
	}
	return begin, local.Before(begin.Add(length))
}
