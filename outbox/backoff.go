package outbox

import (
	"math/rand"
	"time"
)

// RetryPolicy bounds redelivery of a failing event.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
}

// Exhausted reports whether attempts failures make the event terminal.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Delay is min(Base*2^attempts, Max) plus a uniform jitter in [0, Jitter).
func (p RetryPolicy) Delay(attempts int, rnd *rand.Rand) time.Duration {
	d := p.Base
	for i := 0; i < attempts; i++ {
		if p.Max > 0 && d >= p.Max {
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		if rnd != nil {
			d += time.Duration(rnd.Int63n(int64(p.Jitter)))
		} else {
			d += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
	}
	return d
}
