package upload

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// SetIngressLimit installs a global byte-per-second ceiling on server-proxy
// upload streams. Nil removes the ceiling. The limiter is shared across all
// concurrent uploads so one tenant cannot saturate the ingress path.
func (s *Service) SetIngressLimit(l *rate.Limiter) {
	s.ingress = l
}

type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	// Read in limiter-burst sized slices so WaitN never exceeds the burst.
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// throttle wraps body with the ingress ceiling when one is configured.
func (s *Service) throttle(ctx context.Context, body io.Reader) io.Reader {
	if s.ingress == nil {
		return body
	}
	return &throttledReader{ctx: ctx, r: body, limiter: s.ingress}
}
