package ai

import (
	"math"
	"strings"
	"sync"
)

// UsageMeter accumulates token usage across requests. Adapters embed it to
// provide ResetMetrics and GetMetrics.
type UsageMeter struct {
	mu      sync.Mutex
	metrics ModelMetrics
}

// Record adds the usage of one request.
func (u *UsageMeter) Record(m ModelMetrics) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.metrics.InputTokens += m.InputTokens
	u.metrics.OutputTokens += m.OutputTokens
	u.metrics.TotalTokens += m.TotalTokens
	u.metrics.DurationMs += m.DurationMs
	if u.metrics.DurationMs > 0 {
		tps := float64(u.metrics.TotalTokens) * 1000 / float64(u.metrics.DurationMs)
		u.metrics.TokenPerSecond = float32(math.Round(tps*100) / 100)
	}
}

func (u *UsageMeter) ResetMetrics() {
	u.mu.Lock()
	u.metrics = ModelMetrics{}
	u.mu.Unlock()
}

func (u *UsageMeter) GetMetrics() ModelMetrics {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.metrics
}

// FitDimension truncates or zero-pads vec to dim values.
func FitDimension[T float32 | float64](vec []T, dim int) []float32 {
	out := make([]float32, dim)
	for i := 0; i < dim && i < len(vec); i++ {
		out[i] = float32(vec[i])
	}
	return out
}

// IsBlank reports whether an embedding input has no content.
func IsBlank(input []byte) bool {
	return len(strings.TrimSpace(string(input))) == 0
}
