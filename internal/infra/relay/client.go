package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/internal/infra/telemetry"
	"github.com/commons-dev-open/reactive/internal/observability"
	"github.com/commons-dev-open/reactive/mirror"
	"github.com/commons-dev-open/reactive/outside"
)

const (
	clientReadLimit      = 1 << 20
	clientBufferSize     = 64
	defaultPingInterval  = 30 * time.Second
	maxReconnectInterval = 30 * time.Second
)

// ClientOption configures a relay client.
type ClientOption func(*Client)

// WithAreas sets the storage areas the client mirrors. The set is replayed to
// the server after every reconnect.
func WithAreas(areas ...string) ClientOption {
	return func(c *Client) {
		for _, area := range areas {
			if area != "" {
				c.areas[area] = struct{}{}
			}
		}
	}
}

// WithInputReceiver registers a callback for input frames arriving from the
// relay, the process-side feed for outside-interaction detectors.
func WithInputReceiver(sink InputSink) ClientOption {
	return func(c *Client) { c.onInput = sink }
}

// WithPingInterval overrides the application-level keepalive interval.
func WithPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.pingEvery = interval
		}
	}
}

// Client bridges a relay server into a local mirror.Hub. Inbound changes are
// published on the hub under the client's own origin; local changes to the
// mirrored areas are forwarded upstream. The connection is kept alive with
// exponential-backoff redial and the area set is resubscribed after every
// reconnect.
type Client struct {
	url       string
	hub       *mirror.Hub
	origin    string
	onInput   InputSink
	pingEvery time.Duration
	areas     map[string]struct{}

	upstream chan mirror.Change
	inputs   chan outside.Event
	pong     chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// NewClient builds a client for the relay at url, bridging into hub.
func NewClient(url string, hub *mirror.Hub, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errs.New("relay/client", errs.CodeInvalid, errs.WithMessage("url required"))
	}
	if hub == nil {
		return nil, errs.New("relay/client", errs.CodeInvalid, errs.WithMessage("hub required"))
	}
	c := &Client{
		url:       url,
		hub:       hub,
		origin:    uuid.NewString(),
		pingEvery: defaultPingInterval,
		areas:     make(map[string]struct{}),
		upstream:  make(chan mirror.Change, clientBufferSize),
		inputs:    make(chan outside.Event, clientBufferSize),
		pong:      make(chan struct{}, 1),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Origin returns the identity the client publishes inbound changes under.
// Local watchers subscribed with the same origin skip relayed changes.
func (c *Client) Origin() string {
	return c.origin
}

// Ready is closed once the first session finishes its subscribe handshake,
// meaning the server has registered the client's areas.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// DeliverInput forwards a local press upstream for document-wide fanout.
// Inputs are dropped when the connection cannot keep up.
func (c *Client) DeliverInput(ev outside.Event) {
	select {
	case c.inputs <- ev:
	default:
		recordShed(KindInput)
	}
}

// Run keeps a relay session alive until ctx is cancelled. It dials with
// exponential backoff, replays the subscription set after each reconnect, and
// forwards traffic in both directions.
func (c *Client) Run(ctx context.Context) error {
	if err := c.bridgeLocal(ctx); err != nil {
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxInterval = maxReconnectInterval

	for {
		if err := ctx.Err(); err != nil {
			recordTransition(telemetry.ConnectionStateClosed)
			return fmt.Errorf("relay client context: %w", err)
		}

		ws, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			recordReconnect("error")
			observability.Log().Error("relay client: dial failed",
				observability.Field{Key: "url", Value: c.url},
				observability.Field{Key: "error", Value: err.Error()})
			if !sleepBackoff(ctx, expo) {
				recordTransition(telemetry.ConnectionStateClosed)
				return fmt.Errorf("relay client context: %w", ctx.Err())
			}
			continue
		}
		recordReconnect("success")
		recordTransition(telemetry.ConnectionStateConnected)
		ws.SetReadLimit(clientReadLimit)
		expo.Reset()

		err = c.session(ctx, ws)
		_ = ws.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			recordTransition(telemetry.ConnectionStateClosed)
			return fmt.Errorf("relay client context: %w", ctx.Err())
		}
		if err != nil && !isExpectedClose(err) {
			observability.Log().Error("relay client: session ended",
				observability.Field{Key: "error", Value: err.Error()})
		}

		recordTransition(telemetry.ConnectionStateReconnecting)
		if !sleepBackoff(ctx, expo) {
			recordTransition(telemetry.ConnectionStateClosed)
			return fmt.Errorf("relay client context: %w", ctx.Err())
		}
	}
}

// bridgeLocal subscribes to the mirrored areas on the local hub and drains
// their changes into the upstream buffer. Changes observed while disconnected
// accumulate up to the buffer size; the rest are shed.
func (c *Client) bridgeLocal(ctx context.Context) error {
	for area := range c.areas {
		_, ch, err := c.hub.Subscribe(ctx, area, c.origin, false)
		if err != nil {
			return fmt.Errorf("subscribe local area %q: %w", area, err)
		}
		go func() {
			for change := range ch {
				select {
				case c.upstream <- change:
				default:
					recordShed(KindChange)
				}
			}
		}()
	}
	return nil
}

func (c *Client) session(ctx context.Context, ws *websocket.Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(sctx, ws)
		// Wake the handshake wait and the writer when reading fails.
		cancel()
	}()

	if err := c.handshake(sctx, ws); err != nil {
		cancel()
		if rerr := <-readErr; rerr != nil && !isExpectedClose(rerr) {
			return rerr
		}
		return err
	}
	c.readyOnce.Do(func() { close(c.ready) })

	writeErr := make(chan error, 1)
	go func() { writeErr <- c.writeLoop(sctx, ws) }()

	var err error
	select {
	case err = <-readErr:
		cancel()
		<-writeErr
	case err = <-writeErr:
		cancel()
		<-readErr
	}
	return err
}

// handshake replays the subscription set and waits for a ping echo. The echo
// proves the server applied the subscribe frame, because frames from one
// connection are processed in order.
func (c *Client) handshake(ctx context.Context, ws *websocket.Conn) error {
	select {
	case <-c.pong:
	default:
	}

	if len(c.areas) > 0 {
		areas := make([]string, 0, len(c.areas))
		for area := range c.areas {
			areas = append(areas, area)
		}
		if err := writeFrame(ctx, ws, Frame{Kind: KindSubscribe, Areas: areas}); err != nil {
			return fmt.Errorf("send subscribe: %w", err)
		}
	}
	if err := writeFrame(ctx, ws, Frame{Kind: KindPing}); err != nil {
		return fmt.Errorf("send handshake ping: %w", err)
	}

	select {
	case <-c.pong:
		return nil
	case <-time.After(handshakeTimeout):
		return errs.New("relay/client", errs.CodeUnavailable,
			errs.WithMessage("no response to handshake ping"))
	case <-ctx.Done():
		return fmt.Errorf("handshake context: %w", ctx.Err())
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			return classifyReadError(err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		frame, err := decodeFrame(data)
		if err != nil {
			observability.Log().Error("relay client: drop malformed frame",
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		recordFrame(frame.Kind)

		switch frame.Kind {
		case KindChange:
			if frame.Change == nil {
				continue
			}
			change := *frame.Change
			change.Origin = c.origin
			if err := c.hub.Publish(ctx, change); err != nil {
				observability.Log().Error("relay client: publish inbound change",
					observability.Field{Key: "area", Value: change.Area},
					observability.Field{Key: "error", Value: err.Error()})
			}
		case KindInput:
			if frame.Input != nil && c.onInput != nil {
				c.onInput(*frame.Input)
			}
		case KindPing:
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("write loop context done: %w", ctx.Err())
		case <-ticker.C:
			if err := writeFrame(ctx, ws, Frame{Kind: KindPing}); err != nil {
				return err
			}
		case change := <-c.upstream:
			if err := writeFrame(ctx, ws, Frame{Kind: KindChange, Change: &change}); err != nil {
				return err
			}
		case ev := <-c.inputs:
			if err := writeFrame(ctx, ws, Frame{Kind: KindInput, Input: &ev}); err != nil {
				return err
			}
		}
	}
}

// sleepBackoff waits for the next backoff interval. It reports false when ctx
// ended instead.
func sleepBackoff(ctx context.Context, expo *backoff.ExponentialBackOff) bool {
	sleep := expo.NextBackOff()
	if sleep == backoff.Stop {
		sleep = maxReconnectInterval
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(sleep):
		return true
	}
}
