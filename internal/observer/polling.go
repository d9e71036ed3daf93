package observer

import (
	"context"
	"sync"
	"time"

	"lifelog/internal/lifecycle"
)

// StartPolling runs CheckAll immediately and then every interval. FOCUS_GAINED
// and ROUTE_CHANGED events trigger an extra check. The returned function
// stops the loop and removes the event subscriptions. It waits for a check in
// progress to finish but does not cancel it.
func (o *Observer) StartPolling(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	// Checks outlive the stop signal so that an in-flight check completes.
	checkCtx := context.WithoutCancel(ctx)

	o.CheckAll(checkCtx)

	loopCtx, cancel := context.WithCancel(ctx)
	trigger := make(chan struct{}, 1)
	wake := func(context.Context, lifecycle.Event) error {
		select {
		case trigger <- struct{}{}:
		default:
		}
		return nil
	}
	unsubFocus := o.bus.On(lifecycle.FocusGained, wake)
	unsubRoute := o.bus.On(lifecycle.RouteChanged, wake)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				o.CheckAll(checkCtx)
			case <-trigger:
				o.CheckAll(checkCtx)
			}
		}
	}()

	o.logger.InfoContext(ctx, "observer polling started",
		"interval", interval.String(),
		"strategy", string(o.strategy),
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubFocus()
			unsubRoute()
			cancel()
			<-done
			o.logger.Info("observer polling stopped")
		})
	}
}
