package human

import (
	"context"
	"fmt"
	"time"
)

// Scroller is the subset of a page a scroll burst drives.
type Scroller interface {
	Scroll(ctx context.Context, dy float64) error
}

// BurstPolicy bounds one call to Bursts.
type BurstPolicy struct {
	Bursts          [2]int
	ScrollsPerBurst [2]int
	ScrollPixels    [2]int
	ReadDelay       Range
	ScrollBackProb  float64
}

// DefaultBurstPolicy scrolls 1–3 times per burst over 3–6 bursts, reading
// 5–15s after each scroll with an even chance of a short scroll back.
var DefaultBurstPolicy = BurstPolicy{
	Bursts:          [2]int{3, 6},
	ScrollsPerBurst: [2]int{1, 3},
	ScrollPixels:    [2]int{300, 900},
	ReadDelay:       R(5*time.Second, 15*time.Second),
	ScrollBackProb:  0.5,
}

// Bursts performs a randomised series of scroll-and-read bursts and returns
// the number of scrolls performed.
func (s *Sleeper) Bursts(ctx context.Context, sc Scroller, p BurstPolicy) (int, error) {
	scrolls := 0
	bursts := s.IntBetween(p.Bursts[0], p.Bursts[1])
	for b := 0; b < bursts; b++ {
		n := s.IntBetween(p.ScrollsPerBurst[0], p.ScrollsPerBurst[1])
		for i := 0; i < n; i++ {
			dy := float64(s.IntBetween(p.ScrollPixels[0], p.ScrollPixels[1]))
			if err := sc.Scroll(ctx, dy); err != nil {
				return scrolls, fmt.Errorf("human: scroll: %w", err)
			}
			scrolls++
			if err := s.In(ctx, p.ReadDelay); err != nil {
				return scrolls, err
			}
		}
		if s.Chance(p.ScrollBackProb) {
			dy := -float64(s.IntBetween(p.ScrollPixels[0]/3, p.ScrollPixels[0]))
			if err := sc.Scroll(ctx, dy); err != nil {
				return scrolls, fmt.Errorf("human: scroll back: %w", err)
			}
		}
	}
	return scrolls, nil
}
