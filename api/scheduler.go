/*
scheduler.go - Automated expiry sweeper

PURPOSE:
  Periodically marks ACTIVE vials whose expiry date has passed as EXPIRED,
  so the selector stops offering them and item quantities stay in step
  with usable stock.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start, then on every tick
  - Each sweep takes the per-medication lock, so it never interleaves
    with a dispense of the same medication

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExpiryScheduler(handler.Pharmacy, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ExpireVials endpoint (manual sweep)
  - pharmacy/service.go: Service.ExpireVials
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/dispensing-engine/pharmacy"
)

// ExpiryScheduler handles automated vial expiry.
type ExpiryScheduler struct {
	Service       *pharmacy.Service
	Logger        zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool

	// Now is the clock used as the sweep date.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(service *pharmacy.Service, logger zerolog.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		Service:       service,
		Logger:        logger.With().Str("component", "expiry_scheduler").Logger(),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Logger.Info().Msg("disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	// Stop closes the channel, so each run gets its own.
	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run(es.ticker.C, es.stop)

	es.Logger.Info().Dur("interval", es.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.ticker = nil
		es.Logger.Info().Msg("stopped")
	}
}

func (es *ExpiryScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep()

	for {
		select {
		case <-tick:
			es.sweep()
		case <-stop:
			return
		}
	}
}

func (es *ExpiryScheduler) sweep() int {
	asOf := es.Now()
	expired, err := es.Service.ExpireVials(context.Background(), asOf)
	if err != nil {
		es.Logger.Error().Err(err).Msg("expiry sweep failed")
		return 0
	}
	if len(expired) > 0 {
		es.Logger.Info().
			Int("expired", len(expired)).
			Str("as_of", asOf.Format(time.DateOnly)).
			Msg("expired vials")
	}
	return len(expired)
}

// RunNow triggers an immediate sweep and returns how many vials expired.
func (es *ExpiryScheduler) RunNow() int {
	return es.sweep()
}
