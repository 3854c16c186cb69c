package storage

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// BoardSource exposes the board together with the revision it reflects.
type BoardSource interface {
	VersionedSnapshot() (domain.Board, uint64)
}

// feedSnapshot is the value stored under the snapshot key. Revision tells a
// watcher which published messages the board already contains.
// Epoch changes with every feed instance, since revisions restart with the
// server.
type feedSnapshot struct {
	Epoch    string       `json:"epoch"`
	Revision uint64       `json:"revision"`
	Board    domain.Board `json:"board"`
}

type feedUpdate struct {
	delta    domain.Delta
	revision uint64
	at       time.Time
}

// FeedMessage is published on the updates channel for every accepted delta.
// Data.Kind is not encoded; Event carries it.
type FeedMessage struct {
	Epoch    string       `json:"epoch"`
	Event    string       `json:"event"`
	Data     domain.Delta `json:"data"`
	Revision uint64       `json:"revision"`
	Time     int64        `json:"time"`
}

// RedisFeed mirrors accepted deltas to Redis for outside observers: the
// snapshot key is refreshed and the delta published on the updates channel.
// A single worker keeps Redis writes in acceptance order.
type RedisFeed struct {
	client      *redis.Client
	source      BoardSource
	channel     string
	snapshotKey string
	epoch       string
	timeout     time.Duration
	logger      *log.Logger

	jobs      chan feedUpdate
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRedisFeed creates a feed. Call Start before observing deltas.
func NewRedisFeed(client *redis.Client, source BoardSource, channel, snapshotKey string, buffer int, logger *log.Logger) *RedisFeed {
	if logger == nil {
		panic("storage.NewRedisFeed: logger is nil")
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &RedisFeed{
		client:      client,
		source:      source,
		channel:     channel,
		snapshotKey: snapshotKey,
		epoch:       uuid.NewString(),
		timeout:     5 * time.Second,
		logger:      logger,
		jobs:        make(chan feedUpdate, buffer),
	}
}

func (f *RedisFeed) Start() {
	f.wg.Add(1)
	go f.worker()
	f.logger.Infof("redis feed started, channel: %s, snapshot key: %s, buffer: %d", f.channel, f.snapshotKey, cap(f.jobs))
}

// Observe queues a delta without blocking. A saturated feed drops the update.
func (f *RedisFeed) Observe(d domain.Delta, revision uint64) {
	ok, closed := trySendNonBlocking(f.jobs, feedUpdate{delta: d, revision: revision, at: time.Now()})
	if closed {
		return
	}
	if !ok {
		f.logger.WithFields(log.Fields{"revision": revision, "event": d.Event()}).Warn("redis feed saturated; dropping update")
	}
}

// Close drains queued updates and stops the worker.
func (f *RedisFeed) Close() {
	f.closeOnce.Do(func() {
		close(f.jobs)
	})
	f.wg.Wait()
}

func (f *RedisFeed) worker() {
	defer f.wg.Done()
	for u := range f.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		f.push(ctx, u)
		cancel()
	}
}

func (f *RedisFeed) push(ctx context.Context, u feedUpdate) {
	board, revision := f.source.VersionedSnapshot()
	snapshot, err := sonic.Marshal(feedSnapshot{Epoch: f.epoch, Revision: revision, Board: board})
	if err != nil {
		f.logger.WithError(err).Error("marshal board snapshot")
		return
	}
	if err := f.client.Set(ctx, f.snapshotKey, snapshot, 0).Err(); err != nil {
		f.logger.WithError(err).Errorf("unable to refresh %s", f.snapshotKey)
	}
	payload, err := sonic.Marshal(FeedMessage{Epoch: f.epoch, Event: u.delta.Event(), Data: u.delta, Revision: u.revision, Time: u.at.UnixMilli()})
	if err != nil {
		f.logger.WithError(err).Error("marshal feed message")
		return
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		f.logger.WithError(err).Errorf("unable to publish revision %d to %s", u.revision, f.channel)
	}
}

func trySendNonBlocking(ch chan feedUpdate, u feedUpdate) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- u:
		return true, false
	default:
		return false, false
	}
}
