package source

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"postwatch/pkg/logx"
)

type paced struct {
	next Fetcher
	lim  *rate.Limiter
	log  logx.Logger
}

// Paced limits f to perMinute requests with a burst of two, so an immediate
// startup poll and a manual check can both run without waiting.
func Paced(f Fetcher, perMinute int, log logx.Logger) Fetcher {
	if perMinute <= 0 {
		return f
	}
	return &paced{
		next: f,
		lim:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 2),
		log:  log,
	}
}

func (p *paced) Recent(ctx context.Context, account string, limit int) ([]Post, error) {
	if r := p.lim.Reserve(); r.OK() {
		if d := r.Delay(); d > 0 {
			p.log.Debug("fetch paced", logx.Duration("wait", d))
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				r.Cancel()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	return p.next.Recent(ctx, account, limit)
}
