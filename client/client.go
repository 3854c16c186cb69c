// Package client is a Go replica of the board. It keeps a local copy built
// from the sync:tasks snapshot and the deltas that follow, and sends
// operations that wait for their acknowledgement.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

var (
	// ErrClosed is returned for operations on a closed or disconnected client.
	ErrClosed = errors.New("client closed")
	// ErrResyncRequired means the server dropped the session because it fell
	// behind. Dial again to get a fresh snapshot.
	ErrResyncRequired = errors.New("server requested resync")
)

// OperationError is a rejected operation as reported by the server's ack.
// It unwraps to the matching domain sentinel.
type OperationError struct {
	Kind    domain.ErrorKind
	Message string
}

func (e *OperationError) Error() string { return e.Message }

func (e *OperationError) Unwrap() error {
	switch e.Kind {
	case domain.KindInvalidColumn:
		return domain.ErrInvalidColumn
	case domain.KindTaskNotFound:
		return domain.ErrTaskNotFound
	case domain.KindInvalidPayload:
		return domain.ErrInvalidPayload
	}
	return nil
}

type Options struct {
	Logger *log.Logger
	// MaxMessageBytes bounds incoming frames. Snapshots carry attachments, so
	// the default is generous.
	MaxMessageBytes int64
	// OnChange, when set, is called from the read loop after every change to
	// the replica.
	OnChange func(event string, board domain.Board)
}

type frame struct {
	Event string                 `json:"event"`
	Data  sonic.NoCopyRawMessage `json:"data"`
}

type Client struct {
	conn   *websocket.Conn
	logger *log.Logger
	notify func(string, domain.Board)

	synced     chan struct{}
	syncOnce   sync.Once
	done       chan struct{}
	cancelRead context.CancelFunc

	mu      sync.Mutex
	board   domain.Board
	pending map[string]chan domain.Ack
	err     error
}

// Dial connects to the board's WebSocket endpoint and returns once the
// initial snapshot has arrived.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 8 << 20
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(opts.MaxMessageBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		logger:     opts.Logger,
		notify:     opts.OnChange,
		synced:     make(chan struct{}),
		done:       make(chan struct{}),
		cancelRead: cancel,
		board:      domain.NewBoard(),
		pending:    make(map[string]chan domain.Ack),
	}
	go c.readLoop(readCtx)

	select {
	case <-c.synced:
		return c, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

// Board returns a copy of the local replica.
func (c *Client) Board() domain.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Clone()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Create(ctx context.Context, op domain.CreateTask) (domain.Ack, error) {
	return c.do(ctx, op)
}

func (c *Client) Update(ctx context.Context, op domain.UpdateTask) (domain.Ack, error) {
	return c.do(ctx, op)
}

// Move relocates a task. A move within one column is answered locally and
// never reaches the server.
func (c *Client) Move(ctx context.Context, op domain.MoveTask) (domain.Ack, error) {
	if op.SourceColumn == op.TargetColumn {
		return domain.NewAck("", op.Event(), false, nil), nil
	}
	return c.do(ctx, op)
}

func (c *Client) Delete(ctx context.Context, op domain.DeleteTask) (domain.Ack, error) {
	return c.do(ctx, op)
}

// Close ends the session and waits for the read loop to stop.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancelRead()
	<-c.done
	return err
}

func (c *Client) do(ctx context.Context, op domain.Operation) (domain.Ack, error) {
	data, err := sonic.Marshal(op)
	if err != nil {
		return domain.Ack{}, err
	}
	id := uuid.NewString()
	msg, err := sonic.Marshal(domain.Envelope{Event: op.Event(), RequestID: id, Data: data})
	if err != nil {
		return domain.Ack{}, err
	}

	ch := make(chan domain.Ack, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return domain.Ack{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return domain.Ack{}, fmt.Errorf("send %s: %w", op.Event(), err)
	}
	select {
	case ack := <-ch:
		if ack.Error != nil {
			return ack, &OperationError{Kind: ack.Error.Kind, Message: ack.Error.Message}
		}
		return ack, nil
	case <-c.done:
		return domain.Ack{}, ErrClosed
	case <-ctx.Done():
		return domain.Ack{}, ctx.Err()
	}
}

func (c *Client) readLoop(ctx context.Context) {
	var err error
	defer func() {
		c.mu.Lock()
		switch {
		case websocket.CloseStatus(err) == websocket.StatusTryAgainLater:
			c.err = fmt.Errorf("%w: %v", ErrResyncRequired, err)
		case err != nil:
			c.err = err
		default:
			c.err = ErrClosed
		}
		c.mu.Unlock()
		close(c.done)
	}()
	for {
		var data []byte
		_, data, err = c.conn.Read(ctx)
		if err != nil {
			return
		}
		var f frame
		if uerr := sonic.Unmarshal(data, &f); uerr != nil {
			c.logger.WithError(uerr).Warn("dropping undecodable frame")
			continue
		}
		if derr := c.handle(f); derr != nil {
			c.logger.WithError(derr).WithField("event", f.Event).Warn("dropping frame")
		}
	}
}

func (c *Client) handle(f frame) error {
	switch f.Event {
	case domain.EventSync:
		board := domain.NewBoard()
		if err := sonic.Unmarshal(f.Data, &board); err != nil {
			return err
		}
		c.replace(f.Event, board.Clone())
		c.syncOnce.Do(func() { close(c.synced) })
	case domain.EventAck:
		var ack domain.Ack
		if err := sonic.Unmarshal(f.Data, &ack); err != nil {
			return err
		}
		c.mu.Lock()
		ch, ok := c.pending[ack.RequestID]
		c.mu.Unlock()
		if ok {
			ch <- ack
		}
	case domain.EventCreated, domain.EventUpdated, domain.EventMoved, domain.EventDeleted:
		var d domain.Delta
		if err := sonic.Unmarshal(f.Data, &d); err != nil {
			return err
		}
		d.Kind = domain.DeltaKind(f.Event)
		c.mu.Lock()
		board := domain.ApplyDelta(c.board, d)
		c.mu.Unlock()
		c.replace(f.Event, board)
	default:
		c.logger.WithField("event", f.Event).Debug("ignoring unknown event")
	}
	return nil
}

func (c *Client) replace(event string, board domain.Board) {
	c.mu.Lock()
	c.board = board
	c.mu.Unlock()
	if c.notify != nil {
		c.notify(event, board.Clone())
	}
}
