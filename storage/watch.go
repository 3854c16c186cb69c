package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const watchRetryDelay = time.Second

var errFeedRestarted = errors.New("feed restarted, resyncing from snapshot")

// FeedHandler receives what a RedisFeed mirrors. OnSnapshot runs after every
// (re)subscription, before any message received on that subscription.
// OnMessage only sees messages newer than the snapshot.
type FeedHandler struct {
	OnSnapshot func(domain.Board)
	OnMessage  func(FeedMessage)
}

// WatchFeed follows the updates channel until ctx ends. The subscription is
// confirmed before the snapshot key is read, so no delta published after the
// snapshot is missed. A dropped subscription is re-established.
func WatchFeed(ctx context.Context, rc *redis.Client, channel, snapshotKey string, logger *log.Logger, h FeedHandler) error {
	for {
		err := watchOnce(ctx, rc, channel, snapshotKey, logger, h)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errFeedRestarted):
			logger.WithError(err).Warnf("watching %s", channel)
		case err != nil:
			logger.WithError(err).Errorf("watching %s", channel)
		}
		logger.Warnf("subscription to %s ended, reconnecting", channel)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(watchRetryDelay):
		}
	}
}

func watchOnce(ctx context.Context, rc *redis.Client, channel, snapshotKey string, logger *log.Logger, h FeedHandler) error {
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	snap, err := readSnapshot(ctx, rc, snapshotKey)
	if err != nil {
		return err
	}
	if h.OnSnapshot != nil {
		h.OnSnapshot(snap.Board)
	}
	last := snap.Revision

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m FeedMessage
			if err := sonic.Unmarshal([]byte(msg.Payload), &m); err != nil {
				logger.WithError(err).Error("unable to parse feed message")
				continue
			}
			if snap.Epoch == "" {
				snap.Epoch = m.Epoch
			}
			if m.Epoch != snap.Epoch {
				return errFeedRestarted
			}
			if m.Revision <= last {
				continue
			}
			if m.Revision > last+1 {
				logger.WithFields(log.Fields{"expected": last + 1, "revision": m.Revision}).Warn("feed skipped revisions; replica lags until resubscribe")
			}
			last = m.Revision
			m.Data.Kind = domain.DeltaKind(m.Event)
			if h.OnMessage != nil {
				h.OnMessage(m)
			}
		}
	}
}

func readSnapshot(ctx context.Context, rc *redis.Client, key string) (feedSnapshot, error) {
	snap := feedSnapshot{Board: domain.NewBoard()}
	data, err := rc.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, nil
	}
	if err != nil {
		return feedSnapshot{}, err
	}
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return feedSnapshot{}, err
	}
	snap.Board = snap.Board.Clone()
	return snap, nil
}
