package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/jessmzp/btcpayserver/internal/logger"
)

var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime 解析配置中的时间字符串（如 "500ms"、"30s"、"5m"、"1d"）
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	for _, entry := range timeUnits {
		num, found := strings.CutSuffix(timeString, entry.suffix)
		if !found {
			continue
		}
		number, err := strconv.Atoi(num)
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * entry.unit
	}
	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}
