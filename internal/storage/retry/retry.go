// Package retry repeats backend uploads that were rate limited.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
)

// Policy controls how rate-limited calls are repeated.
type Policy struct {
	// Max is the number of retries after the first attempt. Zero or
	// negative retries until the call stops being rate limited.
	Max int

	// Delay returns how long to wait after err. Nil waits one second.
	Delay func(err error) time.Duration

	Logger *slog.Logger

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it returns something other than a rate-limit error.
// The last error is returned when the retry budget runs out.
func (p Policy) Do(ctx context.Context, filename string, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, syncerr.ErrRateLimited) {
			return err
		}

		if p.Max > 0 && attempt >= p.Max {
			return err
		}

		d := time.Second
		if p.Delay != nil {
			d = p.Delay(err)
		}

		if p.Logger != nil {
			p.Logger.Warn("rate limited, retrying",
				slog.String("path", filename),
				slog.Duration("after", d),
				slog.Int("attempt", attempt+1),
			)
		}

		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
