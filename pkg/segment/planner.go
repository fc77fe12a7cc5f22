// Package segment 把音频总时长切分为有上限的连续时间窗口
package segment

import (
	"math"

	"github.com/ccp-p/media-transcriber/pkg/models"
)

// 相对 max 的浮点误差容忍度：末尾窗口短于 relTolerance*max 时并入前一个窗口，
// 避免 total 恰好是 max 整数倍时多出一个空窗口
const relTolerance = 1e-10

// Plan 将 [0, totalDuration) 划分为不超过 maxSegmentDuration 的连续窗口
//
// totalDuration <= maxSegmentDuration 时只返回一个窗口；否则返回
// ceil(total/max) 个窗口，最后一个窗口的结束时间精确等于 totalDuration。
func Plan(totalDuration, maxSegmentDuration float64) ([]models.SegmentWindow, error) {
	if !valid(totalDuration) {
		return nil, models.NewInvalidInputError("音频总时长无效: %v", totalDuration)
	}
	if !valid(maxSegmentDuration) {
		return nil, models.NewInvalidInputError("片段最大时长无效: %v", maxSegmentDuration)
	}

	if totalDuration <= maxSegmentDuration {
		return []models.SegmentWindow{{Index: 0, Start: 0, End: totalDuration}}, nil
	}

	count := windowCount(totalDuration, maxSegmentDuration)
	windows := make([]models.SegmentWindow, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * maxSegmentDuration
		end := float64(i+1) * maxSegmentDuration
		if i == count-1 || end > totalDuration {
			end = totalDuration
		}
		windows = append(windows, models.SegmentWindow{Index: i, Start: start, End: end})
	}
	return windows, nil
}

// Count 返回 Plan 会产生的窗口数，不分配内存
func Count(totalDuration, maxSegmentDuration float64) int {
	if !valid(totalDuration) || !valid(maxSegmentDuration) {
		return 0
	}
	if totalDuration <= maxSegmentDuration {
		return 1
	}
	return windowCount(totalDuration, maxSegmentDuration)
}

// windowCount 要求 total > max
func windowCount(total, max float64) int {
	n := int(math.Ceil(total / max))
	if n > 1 && total-float64(n-1)*max <= relTolerance*max {
		n--
	}
	return n
}

func valid(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
