// Package broadcast fans accepted board mutations out to every attached
// session and onboards new sessions with a full snapshot.
//
// Coordinator.Submit is the single serialization point of the service: the
// mutation is applied and its delta queued on every session while one lock is
// held, so every session observes deltas in acceptance order. Attach takes the
// snapshot under the same lock, so a late joiner sees exactly the state after
// the last accepted mutation and none of the deltas that produced it.
package broadcast

import (
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

var (
	// ErrClosed is returned once the coordinator has shut down.
	ErrClosed = errors.New("broadcast coordinator closed")
	// ErrSlowConsumer detaches a session whose queue filled up. The client
	// must reconnect and is re-onboarded from a snapshot.
	ErrSlowConsumer = errors.New("session fell behind, resync required")
)

// Applier validates and applies an operation, returning the resulting delta.
type Applier interface {
	Apply(op domain.Operation) (*domain.Delta, error)
}

// Snapshotter exposes the current board.
type Snapshotter interface {
	Snapshot() domain.Board
}

// Observer receives every accepted delta in acceptance order. Observe is
// called with the coordinator lock held and must not block.
type Observer interface {
	Observe(d domain.Delta, revision uint64)
}

type Options struct {
	// SessionBuffer bounds each session's outbound queue.
	SessionBuffer int
	Observers     []Observer
}

type Coordinator struct {
	proc      Applier
	store     Snapshotter
	logger    *log.Logger
	buffer    int
	observers []Observer

	mu       sync.Mutex
	sessions map[string]*Session
	revision uint64
	closed   bool
}

func New(proc Applier, store Snapshotter, logger *log.Logger, opts Options) *Coordinator {
	if logger == nil {
		panic("broadcast.New: logger is nil")
	}
	if opts.SessionBuffer <= 0 {
		opts.SessionBuffer = 256
	}
	return &Coordinator{
		proc:      proc,
		store:     store,
		logger:    logger,
		buffer:    opts.SessionBuffer,
		observers: opts.Observers,
		sessions:  make(map[string]*Session),
	}
}

// Attach registers a new session and queues the sync:tasks snapshot as its
// first frame. No other session is notified.
func (c *Coordinator) Attach(remote string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	data, err := sonic.Marshal(c.store.Snapshot())
	if err != nil {
		return nil, err
	}
	s := newSession(uuid.NewString(), remote, c.buffer)
	s.Offer(Frame{Event: domain.EventSync, Data: data})
	c.sessions[s.ID] = s
	c.logger.WithFields(log.Fields{
		"session":  s.ID,
		"remote":   remote,
		"sessions": len(c.sessions),
		"revision": c.revision,
	}).Info("session attached")
	return s, nil
}

// Detach removes s from the fan-out set. Detaching twice is harmless.
func (c *Coordinator) Detach(s *Session) {
	c.Evict(s, nil)
}

// Evict detaches s and records reason as its Err.
func (c *Coordinator) Evict(s *Session, reason error) {
	c.mu.Lock()
	c.detachLocked(s, reason)
	c.mu.Unlock()
}

// Submit applies op and broadcasts the resulting delta to every attached
// session, the origin included. Rejected operations and no-ops broadcast
// nothing.
func (c *Coordinator) Submit(op domain.Operation, origin string) (*domain.Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	delta, err := c.proc.Apply(op)
	if err != nil || delta == nil {
		return delta, err
	}
	c.revision++
	c.broadcastLocked(*delta, origin)
	for _, o := range c.observers {
		o.Observe(*delta, c.revision)
	}
	return delta, nil
}

func (c *Coordinator) broadcastLocked(d domain.Delta, origin string) {
	data, err := sonic.Marshal(d)
	if err != nil {
		c.logger.WithError(err).WithField("revision", c.revision).Error("marshal delta")
		return
	}
	f := Frame{Event: d.Event(), Data: data}
	for _, s := range c.sessions {
		if !s.Offer(f) {
			c.detachLocked(s, ErrSlowConsumer)
		}
	}
	c.logger.WithFields(log.Fields{
		"event":    f.Event,
		"origin":   origin,
		"revision": c.revision,
		"sessions": len(c.sessions),
	}).Debug("delta broadcast")
}

func (c *Coordinator) detachLocked(s *Session, reason error) {
	if cur, ok := c.sessions[s.ID]; !ok || cur != s {
		s.close(reason)
		return
	}
	delete(c.sessions, s.ID)
	s.close(reason)
	entry := c.logger.WithFields(log.Fields{
		"session":  s.ID,
		"remote":   s.Remote,
		"sessions": len(c.sessions),
	})
	if reason != nil {
		entry.WithError(reason).Warn("session detached")
		return
	}
	entry.Info("session detached")
}

// VersionedSnapshot returns the board together with the revision it reflects.
func (c *Coordinator) VersionedSnapshot() (domain.Board, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot(), c.revision
}

// AddObserver registers o for every delta accepted from now on.
func (c *Coordinator) AddObserver(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// SessionCount returns the number of attached sessions.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Revision counts the deltas accepted since start.
func (c *Coordinator) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Close detaches every session with ErrClosed and rejects further work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, s := range c.sessions {
		c.detachLocked(s, ErrClosed)
	}
}
