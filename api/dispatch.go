package api

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const (
	transportWebSocket = "websocket"
	transportHTTP      = "http"
)

// dispatcher runs client envelopes through dedupe and the hub and produces
// the ack for the origin.
type dispatcher struct {
	hub     Hub
	deduper Deduper
	logger  *log.Logger
}

// dispatchRaw decodes one envelope from raw before dispatching it.
func (d *dispatcher) dispatchRaw(ctx context.Context, raw []byte, origin, transport string) domain.Ack {
	var env domain.Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		metrics, _ := newOperationMetrics(ctx, d.logger, transport)
		ack := domain.NewAck("", "", false, fmt.Errorf("%w: malformed envelope: %v", domain.ErrInvalidPayload, err))
		metrics.Log(ack)
		return ack
	}
	return d.dispatch(ctx, env, origin, transport)
}

func (d *dispatcher) dispatch(ctx context.Context, env domain.Envelope, origin, transport string) domain.Ack {
	metrics, ctx := newOperationMetrics(ctx, d.logger, transport)
	metrics.SetEnvelope(env.Event, env.RequestID)
	ack := d.handle(ctx, metrics, env, origin)
	metrics.Log(ack)
	return ack
}

func (d *dispatcher) handle(ctx context.Context, metrics *operationMetrics, env domain.Envelope, origin string) domain.Ack {
	op, err := domain.DecodeOperation(env.Event, env.Data)
	if err != nil {
		return domain.NewAck(env.RequestID, env.Event, false, err)
	}

	tracked := false
	if env.RequestID != "" && d.deduper != nil {
		var ack *domain.Ack
		tracked, ack = d.claim(ctx, env)
		if ack != nil {
			return *ack
		}
	}

	start := time.Now()
	delta, err := d.hub.Submit(op, origin)
	metrics.ObserveApply(time.Since(start))

	if tracked {
		fields := log.Fields{"request_id": env.RequestID}
		if err != nil {
			if rerr := d.deduper.Remove(ctx, env.RequestID); rerr != nil {
				d.logger.WithError(rerr).WithFields(fields).Warn("failed to release request id")
			}
		} else if cerr := d.deduper.Complete(ctx, env.RequestID); cerr != nil {
			d.logger.WithError(cerr).WithFields(fields).Warn("failed to mark request id complete")
		}
	}
	return domain.NewAck(env.RequestID, env.Event, delta != nil, err)
}

// claim reserves the envelope's request id. It returns the ack to send
// instead of applying when the id is already completed or still in flight.
// Deduper errors fail open.
func (d *dispatcher) claim(ctx context.Context, env domain.Envelope) (bool, *domain.Ack) {
	fields := log.Fields{"request_id": env.RequestID}
	// A second round covers an id released between Add and Lookup.
	for range 2 {
		added, err := d.deduper.Add(ctx, env.RequestID)
		if err != nil {
			d.logger.WithError(err).WithFields(fields).Warn("deduper unavailable; applying without dedupe")
			return false, nil
		}
		if added {
			return true, nil
		}
		found, done, err := d.deduper.Lookup(ctx, env.RequestID)
		if err != nil {
			d.logger.WithError(err).WithFields(fields).Warn("deduper unavailable; applying without dedupe")
			return false, nil
		}
		if !found {
			continue
		}
		if done {
			ack := domain.NewAck(env.RequestID, env.Event, false, nil)
			ack.Duplicate = true
			return false, &ack
		}
		break
	}
	ack := domain.NewAck(env.RequestID, env.Event, false, fmt.Errorf("%w: request %s still in flight", domain.ErrInvalidPayload, env.RequestID))
	return false, &ack
}
