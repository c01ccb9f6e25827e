package engine

import (
	"context"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// StreamUpdates returns a channel of a task's events starting after
// sinceSeq. History is replayed first, then live events follow in order
// with no gaps or duplicates. The channel closes when ctx is done, the
// engine stops, or the subscriber falls too far behind; callers recover
// from an early close by streaming again from their last seen sequence.
func (e *Engine) StreamUpdates(ctx context.Context, tc *models.TenantContext, contextID string, sinceSeq int64) (<-chan *models.ContextEvent, error) {
	// Subscribe before the backfill read so no event accepted in between
	// is missed; duplicates are dropped by sequence number below.
	sub := e.store.Notifier().Subscribe(contextID)

	backfill, err := e.store.ReadEvents(ctx, tc, contextID, sinceSeq)
	if err != nil {
		sub.Cancel()
		return nil, err
	}

	out := make(chan *models.ContextEvent, len(backfill)+subscriberSlack)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(out)
		defer sub.Cancel()

		lastSent := sinceSeq
		for _, ev := range backfill {
			select {
			case out <- ev:
				lastSent = ev.SequenceNumber
			case <-ctx.Done():
				return
			case <-e.done:
				return
			}
		}

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.SequenceNumber <= lastSent {
					continue
				}
				select {
				case out <- ev:
					lastSent = ev.SequenceNumber
				case <-ctx.Done():
					return
				case <-e.done:
					return
				}
			case <-ctx.Done():
				return
			case <-e.done:
				return
			}
		}
	}()

	return out, nil
}

// subscriberSlack is extra output buffer beyond the backfill size so live
// events do not immediately block on a slow reader.
const subscriberSlack = 16
