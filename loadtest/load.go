// Package loadtest drives a running board-sync server with long-lived stream
// sessions and a few writers that cycle tasks across the board.
package loadtest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"board-sync/client"
	"board-sync/domain"
)

const maxBackoff = 5 * time.Second

// Options configures a run. BaseURL is the server's http(s) root.
type Options struct {
	BaseURL  string
	Streams  int
	Writers  int
	Duration time.Duration
	Logger   *log.Logger
}

// Result summarizes a run.
type Result struct {
	Streams         int
	Writers         int
	Duration        time.Duration
	Attempts        uint64
	Failures        uint64
	Events          uint64
	Operations      uint64
	OperationErrors uint64
}

// FailureRate is the share of connection attempts that failed or ended early.
func (r Result) FailureRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Failures) / float64(r.Attempts)
}

type runner struct {
	streamURL string
	wsURL     string
	http      *http.Client
	logger    *log.Logger

	attempts        atomic.Uint64
	failures        atomic.Uint64
	events          atomic.Uint64
	operations      atomic.Uint64
	operationErrors atomic.Uint64
}

// Run holds opts.Streams SSE sessions open and runs opts.Writers WebSocket
// writers until opts.Duration elapses or ctx ends.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Streams < 0 || opts.Writers < 0 || opts.Streams+opts.Writers == 0 {
		return Result{}, errors.New("at least one stream or writer is required")
	}
	if opts.Duration <= 0 {
		return Result{}, errors.New("duration must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return Result{}, fmt.Errorf("base url %q must start with http:// or https://", opts.BaseURL)
	}
	r := &runner{
		streamURL: base + "/stream",
		wsURL:     "ws" + strings.TrimPrefix(base, "http") + "/ws",
		http:      &http.Client{},
		logger:    opts.Logger,
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for range opts.Streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.stream(ctx)
		}()
	}
	for i := range opts.Writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.write(ctx, i)
		}()
	}
	wg.Wait()

	return Result{
		Streams:         opts.Streams,
		Writers:         opts.Writers,
		Duration:        opts.Duration,
		Attempts:        r.attempts.Load(),
		Failures:        r.failures.Load(),
		Events:          r.events.Load(),
		Operations:      r.operations.Load(),
		OperationErrors: r.operationErrors.Load(),
	}, nil
}

func (r *runner) stream(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		r.attempts.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.streamURL, nil)
		if err != nil {
			r.failures.Add(1)
			backoff = r.pause(ctx, backoff)
			continue
		}
		resp, err := r.http.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			if ctx.Err() != nil {
				return
			}
			r.failures.Add(1)
			backoff = r.pause(ctx, backoff)
			continue
		}
		backoff = time.Second
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 8<<20)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), "event:") {
				r.events.Add(1)
			}
		}
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.Debug("stream ended before the run finished")
		r.failures.Add(1)
		backoff = r.pause(ctx, backoff)
	}
}

func (r *runner) write(ctx context.Context, writer int) {
	backoff := time.Second
	for ctx.Err() == nil {
		r.attempts.Add(1)
		c, err := client.Dial(ctx, r.wsURL, client.Options{Logger: r.logger})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.WithError(err).Debug("writer dial failed")
			r.failures.Add(1)
			backoff = r.pause(ctx, backoff)
			continue
		}
		backoff = time.Second
		err = r.cycle(ctx, c, writer)
		_ = c.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.WithError(err).WithField("writer", writer).Warn("writer session lost")
		r.failures.Add(1)
		backoff = r.pause(ctx, backoff)
	}
}

// cycle walks one task at a time from todo through done and deletes it.
func (r *runner) cycle(ctx context.Context, c *client.Client, writer int) error {
	for n := 0; ctx.Err() == nil; n++ {
		title := fmt.Sprintf("load-%d-%d", writer, n)
		ack, err := c.Create(ctx, domain.CreateTask{
			Column:   domain.ColumnTodo,
			Title:    title,
			Priority: domain.PriorityMedium,
			Category: domain.CategoryFeature,
		})
		if err := r.record(ctx, ack, err); err != nil {
			return err
		}
		id := findByTitle(c.Board(), domain.ColumnTodo, title)
		if id == "" {
			continue
		}
		steps := []domain.Operation{
			domain.MoveTask{TaskID: id, SourceColumn: domain.ColumnTodo, TargetColumn: domain.ColumnInProgress},
			domain.MoveTask{TaskID: id, SourceColumn: domain.ColumnInProgress, TargetColumn: domain.ColumnDone},
			domain.DeleteTask{TaskID: id, Column: domain.ColumnDone},
		}
		for _, op := range steps {
			var ack domain.Ack
			var err error
			switch op := op.(type) {
			case domain.MoveTask:
				ack, err = c.Move(ctx, op)
			case domain.DeleteTask:
				ack, err = c.Delete(ctx, op)
			}
			if err := r.record(ctx, ack, err); err != nil {
				return err
			}
		}
	}
	return nil
}

// record counts an operation outcome. Rejections by the board are tolerated;
// transport failures end the writer session.
func (r *runner) record(ctx context.Context, _ domain.Ack, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	r.operations.Add(1)
	if err == nil {
		return nil
	}
	r.operationErrors.Add(1)
	var opErr *client.OperationError
	if errors.As(err, &opErr) {
		return nil
	}
	return err
}

func (r *runner) pause(ctx context.Context, backoff time.Duration) time.Duration {
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
	return min(backoff*2, maxBackoff)
}

func findByTitle(b domain.Board, column domain.Column, title string) string {
	for _, t := range b[column] {
		if t.Title == title {
			return t.ID
		}
	}
	return ""
}
