package service

import (
	"context"
	"sync"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/logger"

	"github.com/rs/zerolog"
)

// EventDispatcher implements ports.EventPublisher. Every sink gets its own goroutine and
// timeout; a failing or slow sink never reaches the settlement path.
type EventDispatcher struct {
	sinks   []ports.EventSink
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewEventDispatcher fans events out to sinks.
func NewEventDispatcher(timeout time.Duration, log zerolog.Logger, sinks ...ports.EventSink) *EventDispatcher {
	return &EventDispatcher{
		sinks:   sinks,
		timeout: timeout,
		log:     logger.WithComponent(log, "events"),
	}
}

func (d *EventDispatcher) Publish(ctx context.Context, event *domain.SettlementEvent) {
	base := context.WithoutCancel(ctx)
	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(sink ports.EventSink) {
			defer d.wg.Done()
			sctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := sink.Publish(sctx, event); err != nil {
				d.log.Error().Err(err).
					Str("sink", sink.Name()).
					Str("event_id", event.ID.String()).
					Str("transaction_id", event.TransactionID.String()).
					Msg("event sink failed")
				return
			}
			d.log.Debug().Str("sink", sink.Name()).Str("event_id", event.ID.String()).Msg("event delivered")
		}(sink)
	}
}

// Wait blocks until in-flight publishes finish or ctx ends.
func (d *EventDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
