package transport

import "sync/atomic"

// loopLink writes straight into another hub. Delivery is synchronous on the
// writer's goroutine.
type loopLink struct {
	peer   string
	from   string
	remote *Hub
	closed atomic.Bool
}

func (l *loopLink) Peer() string { return l.peer }

func (l *loopLink) Write(frame []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.remote.Deliver(l.from, append([]byte(nil), frame...))
	return nil
}

func (l *loopLink) Close() error {
	l.closed.Store(true)
	return nil
}

// Pipe connects two hubs in process. a sees b as peer bName and b sees a as
// peer aName.
func Pipe(a *Hub, aName string, b *Hub, bName string) error {
	if err := a.Attach(&loopLink{peer: bName, from: aName, remote: b}); err != nil {
		return err
	}
	return b.Attach(&loopLink{peer: aName, from: bName, remote: a})
}
