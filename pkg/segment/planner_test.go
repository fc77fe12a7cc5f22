package segment

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/media-transcriber/pkg/models"
)

func TestPlanSplitsLongAudio(t *testing.T) {
	windows, err := Plan(1800, 900)
	require.NoError(t, err)
	assert.Equal(t, []models.SegmentWindow{
		{Index: 0, Start: 0, End: 900},
		{Index: 1, Start: 900, End: 1800},
	}, windows)
}

func TestPlanShortAudioSingleWindow(t *testing.T) {
	windows, err := Plan(100, 1800)
	require.NoError(t, err)
	assert.Equal(t, []models.SegmentWindow{{Index: 0, Start: 0, End: 100}}, windows)

	// 恰好等于上限也只有一个窗口
	windows, err = Plan(1800, 1800)
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}

func TestPlanRemainderWindow(t *testing.T) {
	windows, err := Plan(4000, 1800)
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, 3600.0, windows[2].Start)
	assert.Equal(t, 4000.0, windows[2].End)
}

func TestPlanRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name       string
		total, max float64
	}{
		{"zero total", 0, 900},
		{"negative total", -5, 900},
		{"zero max", 100, 0},
		{"negative max", 100, -1},
		{"nan total", math.NaN(), 900},
		{"inf max", 100, math.Inf(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			windows, err := Plan(tc.total, tc.max)
			assert.Nil(t, windows)
			assert.True(t, models.IsInvalidInputError(err))
		})
	}
}

// 随机输入下窗口应覆盖 [0,total) 且连续、不重叠、不超长
func TestPlanPartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		total := rng.Float64()*20000 + 0.001
		max := rng.Float64()*3000 + 0.5
		switch i % 7 {
		case 0:
			// 整数倍的情况
			max = float64(rng.Intn(50) + 1)
			total = max * float64(rng.Intn(40)+1)
		case 3:
			// 比整数倍略长
			max = float64(rng.Intn(2000) + 1)
			total = max*float64(rng.Intn(10)+1) + 1e-6
		}

		windows, err := Plan(total, max)
		require.NoError(t, err)
		require.NotEmpty(t, windows)

		assert.Equal(t, 0.0, windows[0].Start)
		assert.Equal(t, total, windows[len(windows)-1].End)
		assert.Equal(t, Count(total, max), len(windows))
		if total <= max {
			assert.Len(t, windows, 1)
		} else if n := int(math.Ceil(total / max)); len(windows) != n {
			// 只有末尾不足误差容忍度的窗口可以被合并
			assert.Equal(t, n-1, len(windows))
			assert.LessOrEqual(t, total-float64(n-1)*max, relTolerance*max)
		}

		for j, w := range windows {
			assert.Equal(t, j, w.Index)
			assert.Greater(t, w.End, w.Start, "total=%v max=%v window=%d", total, max, j)
			assert.LessOrEqual(t, w.Duration(), max*(1+relTolerance)+1e-9)
			if j > 0 {
				assert.Equal(t, windows[j-1].End, w.Start)
			}
		}
	}
}

func TestPlanSlightlyOverMax(t *testing.T) {
	windows, err := Plan(1000.0000005, 1000)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 1000.0, windows[0].End)
	assert.Equal(t, 1000.0000005, windows[1].End)
	assert.Equal(t, 2, Count(1000.0000005, 1000))
}

func TestPlanDeterministic(t *testing.T) {
	a, err := Plan(7261.5, 600)
	require.NoError(t, err)
	b, err := Plan(7261.5, 600)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
