package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/internal/infra/config"
	"github.com/commons-dev-open/reactive/internal/observability"
	"github.com/commons-dev-open/reactive/mirror"
	"github.com/commons-dev-open/reactive/outside"
	"github.com/commons-dev-open/reactive/pace"
)

const (
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 5 * time.Second
)

// InputSink receives document-wide input events arriving over the relay.
type InputSink func(outside.Event)

// ServerOption configures a relay server.
type ServerOption func(*Server)

// WithInputSink registers a callback for input frames from any connection,
// the daemon-side feed for outside-interaction detectors.
func WithInputSink(sink InputSink) ServerOption {
	return func(s *Server) { s.onInput = sink }
}

// Server is the daemon side of the relay. It subscribes to every area of the
// attached hub and forwards changes to subscribed connections; changes and
// input events read from connections flow back into the hub and to the other
// connections.
type Server struct {
	cfg     config.RelayConfig
	hub     *mirror.Hub
	origin  string
	onInput InputSink
	workers int

	mu     sync.RWMutex
	conns  map[string]*serverConn
	closed bool

	feedID    mirror.WatchID
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type serverConn struct {
	id      string
	ws      *websocket.Conn
	limiter *rate.Limiter
	direct  chan Frame
	queue   *changeQueue

	mu    sync.RWMutex
	areas map[string]struct{}
}

// NewServer attaches a relay server to the hub and starts its broadcast feed.
// Zero-valued limits in cfg fall back to the configuration defaults.
func NewServer(cfg config.RelayConfig, hub *mirror.Hub, opts ...ServerOption) (*Server, error) {
	if hub == nil {
		return nil, errs.New("relay/server", errs.CodeInvalid, errs.WithMessage("hub required"))
	}
	s := &Server{
		cfg:     normalizeRelayConfig(cfg),
		hub:     hub,
		origin:  uuid.NewString(),
		workers: cfg.FanoutWorkerCount(),
		conns:   make(map[string]*serverConn),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	id, feed, err := hub.SubscribeAll(ctx, s.origin)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe hub feed: %w", err)
	}
	s.feedID = id
	go s.forward(feed)
	return s, nil
}

func (s *Server) forward(feed <-chan mirror.Change) {
	defer close(s.done)
	for change := range feed {
		s.broadcast(change)
	}
}

// broadcast fans one change out to every subscribed connection except the one
// it came from.
func (s *Server) broadcast(change mirror.Change) {
	start := time.Now()

	s.mu.RLock()
	targets := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		if c.id == change.Origin {
			continue
		}
		if !c.subscribedTo(change.Area) {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	limit := s.workers
	if limit > len(targets) {
		limit = len(targets)
	}
	p := pool.New().WithMaxGoroutines(limit)
	for _, target := range targets {
		c := target
		p.Go(func() {
			if c.queue.put(change) {
				recordShed(KindChange)
			}
		})
	}
	p.Wait()
	recordBroadcast(change.Area, time.Since(start))
}

func (s *Server) broadcastInput(senderID string, ev outside.Event) {
	s.mu.RLock()
	targets := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		if c.id != senderID {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		event := ev
		c.enqueueDirect(Frame{Kind: KindInput, Input: &event})
	}
}

// ServeHTTP upgrades the request to a relay WebSocket session and serves it
// until either side closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		observability.Log().Error("relay: accept failed",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	ws.SetReadLimit(s.cfg.MaxFrameBytes)

	c := &serverConn{
		id:      uuid.NewString(),
		ws:      ws,
		limiter: rate.NewLimiter(rate.Every(s.cfg.WriteInterval), s.cfg.WriteBurst),
		direct:  make(chan Frame, s.cfg.SendBuffer),
		queue:   newChangeQueue(),
		areas:   make(map[string]struct{}),
	}
	if err := s.register(c); err != nil {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unregister(c.id)
	recordConnectionOpen(true)
	defer recordConnectionOpen(false)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		errCh <- s.readLoop(ctx, c)
	}()
	go func() {
		defer wg.Done()
		errCh <- c.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		errCh <- c.pingLoop(ctx, s.cfg.PingInterval)
	}()

	err = <-errCh
	cancel()
	_ = ws.Close(websocket.StatusNormalClosure, "")
	wg.Wait()

	if err != nil && !isExpectedClose(err) {
		observability.Log().Info("relay: connection ended",
			observability.Field{Key: "conn", Value: c.id},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func (s *Server) register(c *serverConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New("relay/server", errs.CodeClosed)
	}
	s.conns[c.id] = c
	return nil
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) readLoop(ctx context.Context, c *serverConn) error {
	for {
		msgType, data, err := c.ws.Read(ctx)
		if err != nil {
			return classifyReadError(err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		frame, err := decodeFrame(data)
		if err != nil {
			observability.Log().Error("relay: drop malformed frame",
				observability.Field{Key: "conn", Value: c.id},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		recordFrame(frame.Kind)

		switch frame.Kind {
		case KindSubscribe:
			c.subscribe(frame.Areas)
		case KindChange:
			if frame.Change == nil {
				continue
			}
			change := *frame.Change
			change.Origin = c.id
			if err := s.hub.Publish(ctx, change); err != nil {
				observability.Log().Error("relay: publish inbound change",
					observability.Field{Key: "area", Value: change.Area},
					observability.Field{Key: "error", Value: err.Error()})
			}
		case KindInput:
			if frame.Input == nil {
				continue
			}
			if s.onInput != nil {
				s.onInput(*frame.Input)
			}
			s.broadcastInput(c.id, *frame.Input)
		case KindPing:
			// Echo after everything the connection sent before the ping has
			// been applied; clients use it as a subscribe barrier.
			c.enqueueDirect(Frame{Kind: KindPing})
		}
	}
}

// Close detaches the server from the hub and disconnects every client.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conns := make([]*serverConn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.conns = make(map[string]*serverConn)
		s.mu.Unlock()

		s.hub.Unsubscribe(s.feedID)
		s.cancel()
		<-s.done

		for _, c := range conns {
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}
	})
}

func (c *serverConn) subscribe(areas []string) {
	c.mu.Lock()
	for _, area := range areas {
		if area != "" {
			c.areas[area] = struct{}{}
		}
	}
	c.mu.Unlock()
}

func (c *serverConn) subscribedTo(area string) bool {
	c.mu.RLock()
	_, ok := c.areas[area]
	c.mu.RUnlock()
	return ok
}

func (c *serverConn) enqueueDirect(f Frame) {
	select {
	case c.direct <- f:
	default:
		recordShed(f.Kind)
	}
}

func (c *serverConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("write loop context done: %w", ctx.Err())
		case f := <-c.direct:
			if err := writeFrame(ctx, c.ws, f); err != nil {
				return err
			}
		case <-c.queue.wake:
			change, ok := c.queue.pop()
			if !ok {
				continue
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("write limiter: %w", err)
			}
			if err := writeFrame(ctx, c.ws, Frame{Kind: KindChange, Change: &change}); err != nil {
				return err
			}
			if c.queue.len() > 0 {
				c.queue.signal()
			}
		}
	}
}

func (c *serverConn) pingLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping loop context done: %w", ctx.Err())
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Kind, err)
	}
	return nil
}

// classifyReadError folds the transport's shutdown signals into
// context.Canceled so callers can treat orderly teardown uniformly.
func classifyReadError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return context.Canceled
	}
	if errors.Is(err, net.ErrClosed) {
		return context.Canceled
	}
	if status := websocket.CloseStatus(err); status != -1 {
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			return context.Canceled
		}
		return fmt.Errorf("read: remote closed with status %d", status)
	}
	return fmt.Errorf("read: %w", err)
}

func isExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func normalizeRelayConfig(cfg config.RelayConfig) config.RelayConfig {
	if cfg.WriteInterval <= 0 {
		cfg.WriteInterval = pace.DefaultWindow
	}
	if cfg.WriteBurst <= 0 {
		cfg.WriteBurst = 8
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return cfg
}
