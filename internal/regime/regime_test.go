package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		momentum float64
		volRatio float64
		want     string
	}{
		{"extreme vol wins over trend", 0.9, 2.0, Volatile},
		{"strong up trend", 0.8, 1.0, Trending},
		{"strong down trend", -0.7, 1.0, Trending},
		{"quiet", 0.1, 0.4, Quiet},
		{"ranging", 0.2, 1.0, Ranging},
		{"unknown baseline is ranging", 0.1, 0, Ranging},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.momentum, tc.volRatio), tc.name)
	}
}

func TestVolRatio(t *testing.T) {
	assert.InDelta(t, 1.5, VolRatio(15, 10), 1e-9)

	// Missing either input falls back to a neutral ratio so the
	// classifier lands in ranging instead of quiet.
	assert.InDelta(t, 1.0, VolRatio(0, 10), 1e-9)
	assert.InDelta(t, 1.0, VolRatio(15, 0), 1e-9)
}
