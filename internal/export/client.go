// Package export отправляет решения контура на удалённый коллектор по websocket.
// Очередь ограничена: при переполнении решения отбрасываются, контур не блокируется.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
)

var _ governor.Observer = (*Client)(nil)

const (
	DefaultQueueSize      = 256
	DefaultPingInterval   = 30 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	writeWait             = 10 * time.Second
	maxMessageSize        = 512
)

// Message — конверт сообщения коллектору
type Message struct {
	Type     string            `json:"type"`
	Host     string            `json:"host,omitempty"`
	Decision governor.Decision `json:"data"`
}

// Options — параметры клиента
type Options struct {
	URL            string
	Host           string
	QueueSize      int
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

// Client — Observer, пересылающий решения в websocket
type Client struct {
	opts   Options
	queue  chan governor.Decision
	logger logr.Logger

	connected atomic.Bool
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

func NewClient(opts Options, logger logr.Logger) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Client{
		opts:   opts,
		queue:  make(chan governor.Decision, opts.QueueSize),
		logger: logger.WithName("export"),
	}
}

// OnDecision ставит решение в очередь, не блокируясь
func (c *Client) OnDecision(d governor.Decision) {
	select {
	case c.queue <- d:
	default:
		if c.dropped.Add(1)%100 == 1 {
			c.logger.Info("export queue full, dropping decisions", "dropped", c.dropped.Load())
		}
	}
}

func (c *Client) Connected() bool { return c.connected.Load() }
func (c *Client) Sent() uint64    { return c.sent.Load() }
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Run держит соединение до отмены ctx, переподключаясь после ошибок
func (c *Client) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	for {
		conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			c.logger.Info("connected to collector", "url", c.opts.URL)
			c.connected.Store(true)
			err = c.pump(ctx, conn)
			c.connected.Store(false)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Error(err, "collector connection failed", "url", c.opts.URL, "retryIn", c.opts.ReconnectDelay.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// pump пишет решения и ping; отдельная горутина читает, чтобы обрабатывать pong и close
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) error {
	pongWait := 2 * c.opts.PingInterval
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("collector closed connection")
			}
			return err
		case d := <-c.queue:
			if err := c.write(conn, d); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, d governor.Decision) error {
	data, err := json.Marshal(Message{Type: "decision", Host: c.opts.Host, Decision: d})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}
