package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// DialLimiter bounds how many dial attempts per second a registry of
// devices may issue in aggregate, so a burst of simultaneous disconnects
// doesn't hammer the network with reconnect attempts all at once. Each
// device still honors its own 100ms retry cadence; this generalizes the
// same token-bucket primitive from bytes/sec of a single stream to
// dial-attempts/sec across a whole server.
type DialLimiter struct {
	limiter *rate.Limiter
}

// NewDialLimiter creates a limiter allowing up to ratePerSec dial attempts
// per second, bursting up to ratePerSec attempts. A non-positive
// ratePerSec disables limiting.
func NewDialLimiter(ratePerSec float64) *DialLimiter {
	if ratePerSec <= 0 {
		return &DialLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &DialLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until a dial attempt is permitted or ctx is done.
func (d *DialLimiter) Wait(ctx context.Context) error {
	return d.limiter.Wait(ctx)
}
