package broadcast

import (
	"sync"
	"time"
)

// Frame is one encoded server event. Data is shared between sessions and must
// not be modified.
type Frame struct {
	Event string
	Data  []byte
}

// Session is a fan-out target for one client connection. The transport drains
// Frames until Done is closed.
type Session struct {
	ID         string
	Remote     string
	AttachedAt time.Time

	frames chan Frame
	done   chan struct{}
	once   sync.Once
	err    error
}

func newSession(id, remote string, buffer int) *Session {
	return &Session{
		ID:         id,
		Remote:     remote,
		AttachedAt: time.Now().UTC(),
		frames:     make(chan Frame, buffer),
		done:       make(chan struct{}),
	}
}

func (s *Session) Frames() <-chan Frame { return s.frames }

// Done is closed once the session is detached.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session was detached. It is nil for a regular detach
// and only meaningful after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Offer queues f without blocking. It returns false when the queue is full or
// the session is already detached.
func (s *Session) Offer(f Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

func (s *Session) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
