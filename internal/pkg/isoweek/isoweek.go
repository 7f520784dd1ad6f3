// Package isoweek 提供 ISO 8601 周编号（YYYY-Www）的计算与枚举。
package isoweek

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID 返回 t 所在 ISO 周的编号，例如 2025-W01。
// 周一为一周第一天，跨年周归属按 ISO 规则（可能属于上一年或下一年）。
func ID(t time.Time) string {
	year, week := t.ISOWeek()
	return format(year, week)
}

// Between 按时间顺序返回 start 所在周到 end 所在周（含两端）的全部周编号。
// end 早于 start 时返回 nil。
func Between(start, end time.Time) []string {
	from := mondayOf(start)
	to := mondayOf(end.In(start.Location()))
	if to.Before(from) {
		return nil
	}

	n := int(to.Sub(from).Hours()/24)/7 + 1
	out := make([]string, 0, n)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 7) {
		out = append(out, ID(d))
	}
	return out
}

// Parse 解析 YYYY-Www
func Parse(id string) (year, week int, err error) {
	parts := strings.SplitN(strings.TrimSpace(id), "-W", 2)
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("非法周编号: %q", id)
	}
	year, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("非法周编号: %q", id)
	}
	week, err = strconv.Atoi(parts[1])
	if err != nil || week < 1 || week > weeksInYear(year) {
		return 0, 0, fmt.Errorf("非法周编号: %q", id)
	}
	return year, week, nil
}

// Start 返回该周周一 00:00 (UTC)
func Start(id string) (time.Time, error) {
	year, week, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	// 1 月 4 日必在第 1 周
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	return mondayOf(jan4).AddDate(0, 0, (week-1)*7), nil
}

// Range 返回该周的半开区间 [周一, 下周一)，UTC
func Range(id string) (start, end time.Time, err error) {
	start, err = Start(id)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 7), nil
}

// Valid 判断是否为合法周编号
func Valid(id string) bool {
	_, _, err := Parse(id)
	return err == nil
}

func format(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// mondayOf 返回 t 所在周周一零点（保留 t 的时区日历日期）
func mondayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // 周一=0 ... 周日=6
	return day.AddDate(0, 0, -offset)
}

// weeksInYear ISO 年的周数（52 或 53）
func weeksInYear(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}
