package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration 解析检查间隔：Go duration（"90s"、"1h30m"）之外还接受 "1d"、"2w"。
// 非正数或无法识别时返回 (0, false)。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(interval); err == nil {
		if d <= 0 {
			return 0, false
		}
		return d, true
	}
	day := 24 * time.Hour
	unit, ok := map[byte]time.Duration{'d': day, 'w': 7 * day}[interval[len(interval)-1]]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}
