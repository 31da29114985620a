package modification

import (
	"context"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
)

// Work is a unit of state change produced off the logic goroutine.
type Work func(ctx context.Context, m *Manager) error

// Submit queues work for the next Drain. It never blocks: a full mailbox
// drops the work and returns ErrMailboxFull.
func (m *Manager) Submit(w Work) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	select {
	case m.mailbox <- w:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Drain runs queued work on the calling goroutine until the mailbox is
// empty or ctx is done. It returns how many items ran. Work errors are
// logged, not returned.
func (m *Manager) Drain(ctx context.Context) int {
	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		select {
		case w := <-m.mailbox:
			n++
			if err := w(ctx, m); err != nil {
				m.logger.Debug("queued work failed", log.Error(err))
			}
		default:
			return n
		}
	}
}

// Pending reports the queued work items.
func (m *Manager) Pending() int {
	return len(m.mailbox)
}
