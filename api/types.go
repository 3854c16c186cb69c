package api

import (
	"context"
	"time"

	"board-sync/broadcast"
	"board-sync/domain"
)

// Hub is the broadcast coordinator as seen by the transports.
type Hub interface {
	Attach(remote string) (*broadcast.Session, error)
	Detach(s *broadcast.Session)
	Evict(s *broadcast.Session, reason error)
	Submit(op domain.Operation, origin string) (*domain.Delta, error)
	SessionCount() int
	Revision() uint64
}

// BoardReader serves read-only board queries.
type BoardReader interface {
	Snapshot() domain.Board
	Counts() map[domain.Column]int
}

// Deduper tracks request ids. Add claims an id as pending; Complete marks it
// applied and Remove releases it after a rejection.
type Deduper interface {
	Add(ctx context.Context, key string) (bool, error)
	Lookup(ctx context.Context, key string) (found, done bool, err error)
	Complete(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
}

// Options tunes the transports. Zero values fall back to the defaults below.
type Options struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	MaxCommandBytes int64
	OriginPatterns  []string
}

const (
	defaultWriteTimeout    = 5 * time.Second
	defaultPingInterval    = 30 * time.Second
	defaultMaxMessageBytes = 8 << 20
	postCommandMaxSize     = 64 * 1024
)

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	if o.MaxCommandBytes <= 0 {
		o.MaxCommandBytes = postCommandMaxSize
	}
	if len(o.OriginPatterns) == 0 {
		o.OriginPatterns = []string{"*"}
	}
	return o
}

type commandResponse struct {
	Results []domain.Ack `json:"results"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Revision uint64 `json:"revision"`
}
