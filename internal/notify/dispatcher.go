package notify

import (
	"context"
	"sync"
	"time"

	"newroi/ledger-service/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Dispatcher fans an event out to every notifier in the background.
// Notify never fails: delivery errors are logged and dropped.
type Dispatcher struct {
	notifiers []Notifier
	log       *logger.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher creates a fire-and-forget dispatcher
func NewDispatcher(log *logger.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, log: log, timeout: defaultTimeout}
}

func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	// detached from the request so a finished request does not cancel delivery
	base := context.WithoutCancel(ctx)

	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.WithField("event", event.Type).Errorf("notifier panicked: %v", r)
				}
			}()

			sendCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := n.Notify(sendCtx, event); err != nil {
				d.log.WithField("event", event.Type).
					WithField("user_id", event.UserID).
					WithError(err).
					Warn("notification delivery failed")
			}
		}(n)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish; used on shutdown
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
