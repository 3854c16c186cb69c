package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/broadcast"
)

type sseGateway struct {
	hub    Hub
	logger *log.Logger
	opts   Options
}

// serve streams the session's frames as Server-Sent Events. Commands from
// SSE clients arrive through POST /api/commands.
func (g *sseGateway) serve(c echo.Context) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	sess, err := g.hub.Attach(c.RealIP())
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	defer g.hub.Detach(sess)

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	// Initial comment so the client sees the headers before the first event.
	if _, err := io.WriteString(c.Response(), ":ok\n\n"); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case f := <-sess.Frames():
			if err := writeEvent(c.Response(), f); err != nil {
				return nil
			}
			flusher.Flush()
		case <-sess.Done():
			g.finish(c.Response(), sess)
			flusher.Flush()
			return nil
		case <-ticker.C:
			if _, err := io.WriteString(c.Response(), ":keepalive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

// finish writes what is left for a detached session. A slow consumer gets a
// resync comment instead of the frames it fell behind on.
func (g *sseGateway) finish(w io.Writer, sess *broadcast.Session) {
	if errors.Is(sess.Err(), broadcast.ErrSlowConsumer) {
		_, _ = io.WriteString(w, ": "+resyncReason+"\n\n")
		g.logger.WithField("session", sess.ID).Info("sse session dropped; client must resync")
		return
	}
	for {
		select {
		case f := <-sess.Frames():
			if err := writeEvent(w, f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func writeEvent(w io.Writer, f broadcast.Frame) error {
	if _, err := io.WriteString(w, "event: "+f.Event+"\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n\n")
	return err
}
