package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/broadcast"
	"board-sync/domain"
)

const resyncReason = "resync required"

// wireFrame is the server to client WebSocket message.
type wireFrame struct {
	Event string                 `json:"event"`
	Data  sonic.NoCopyRawMessage `json:"data"`
}

type wsGateway struct {
	hub    Hub
	disp   *dispatcher
	logger *log.Logger
	opts   Options
}

// serve upgrades the request and runs the session until either side goes away.
func (g *wsGateway) serve(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	conn.SetReadLimit(g.opts.MaxMessageBytes)

	sess, err := g.hub.Attach(c.RealIP())
	if err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return nil
	}

	// The request context is not tied to the hijacked connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		g.writeLoop(ctx, conn, sess)
	}()

	g.readLoop(ctx, conn, sess)
	g.hub.Detach(sess)
	<-writerDone
	_ = conn.CloseNow()
	return nil
}

func (g *wsGateway) readLoop(ctx context.Context, conn *websocket.Conn, sess *broadcast.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
				g.logger.WithError(err).WithField("session", sess.ID).Debug("websocket read ended")
			}
			return
		}
		var ack domain.Ack
		if typ != websocket.MessageText {
			ack = domain.NewAck("", "", false, fmt.Errorf("%w: binary messages are not supported", domain.ErrInvalidPayload))
		} else {
			ack = g.disp.dispatchRaw(ctx, data, sess.ID, transportWebSocket)
		}
		payload, err := sonic.Marshal(ack)
		if err != nil {
			g.logger.WithError(err).Error("marshal ack")
			continue
		}
		if !sess.Offer(broadcast.Frame{Event: domain.EventAck, Data: payload}) {
			select {
			case <-sess.Done():
			default:
				g.hub.Evict(sess, broadcast.ErrSlowConsumer)
			}
			return
		}
	}
}

func (g *wsGateway) writeLoop(ctx context.Context, conn *websocket.Conn, sess *broadcast.Session) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case f := <-sess.Frames():
			if err := g.write(ctx, conn, f); err != nil {
				g.logger.WithError(err).WithField("session", sess.ID).Debug("websocket write failed")
				return
			}
		case <-sess.Done():
			g.closeDetached(conn, sess)
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				g.logger.WithError(err).WithField("session", sess.ID).Info("websocket ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// closeDetached flushes frames queued before the detach, then closes with a
// status that tells the client whether to resync.
func (g *wsGateway) closeDetached(conn *websocket.Conn, sess *broadcast.Session) {
	reason := sess.Err()
	if errors.Is(reason, broadcast.ErrSlowConsumer) {
		_ = conn.Close(websocket.StatusTryAgainLater, resyncReason)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.WriteTimeout)
	defer cancel()
drain:
	for {
		select {
		case f := <-sess.Frames():
			if err := g.write(ctx, conn, f); err != nil {
				return
			}
		default:
			break drain
		}
	}
	if errors.Is(reason, broadcast.ErrClosed) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (g *wsGateway) write(ctx context.Context, conn *websocket.Conn, f broadcast.Frame) error {
	data, err := sonic.Marshal(wireFrame{Event: f.Event, Data: f.Data})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
