// Package api is the session gateway: WebSocket and SSE transports plus the
// HTTP command and read endpoints.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// Register wires up all board routes on the provided Echo instance.
func Register(e *echo.Echo, hub Hub, board BoardReader, deduper Deduper, logger *log.Logger, opts Options) {
	opts = opts.withDefaults()
	disp := &dispatcher{hub: hub, deduper: deduper, logger: logger}
	ws := &wsGateway{hub: hub, disp: disp, logger: logger, opts: opts}
	sse := &sseGateway{hub: hub, logger: logger, opts: opts}

	e.GET("/ws", ws.serve)
	e.GET("/stream", sse.serve)
	e.POST("/api/commands", postCommands(disp), commandBody(opts.MaxCommandBytes))
	e.GET("/api/board", getBoard(board))
	e.GET("/api/board/stats", getBoardStats(board))
	e.GET("/healthz", healthz(hub))
}

func healthz(hub Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{
			Status:   "ok",
			Sessions: hub.SessionCount(),
			Revision: hub.Revision(),
		})
	}
}

func getBoard(board BoardReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, board.Snapshot())
	}
}

func getBoardStats(board BoardReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, domain.Summarize(board.Counts()))
	}
}

// postCommands applies a batch of envelopes in order and answers with one ack
// per envelope. Deltas reach the attached sessions as usual.
func postCommands(disp *dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return c.String(http.StatusRequestEntityTooLarge, "body too large")
			}
			return c.String(http.StatusBadRequest, "invalid body")
		}

		envs := make([]domain.Envelope, 0, 4)
		if err := sonic.ConfigStd.Unmarshal(body, &envs); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		ctx := c.Request().Context()
		origin := transportHTTP + ":" + c.RealIP()
		results := make([]domain.Ack, 0, len(envs))
		for _, env := range envs {
			results = append(results, disp.dispatch(ctx, env, origin, transportHTTP))
		}
		return c.JSON(http.StatusOK, commandResponse{Results: results})
	}
}
