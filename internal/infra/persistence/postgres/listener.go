package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/internal/observability"
	"github.com/commons-dev-open/reactive/mirror"
)

// Listener extends the change broadcast across processes. It holds a dedicated
// connection on NotifyChannel and republishes every announcement on the local
// hub; oversize announcements are re-read from the table first.
type Listener struct {
	dsn  string
	pool *pgxpool.Pool
	hub  *mirror.Hub

	readyOnce sync.Once
	ready     chan struct{}
}

// NewListener builds a listener. The pool is only used to re-read oversize
// values; the listening connection is dialed separately from dsn.
func NewListener(dsn string, pool *pgxpool.Pool, hub *mirror.Hub) (*Listener, error) {
	if dsn == "" {
		return nil, errs.New("kv/listener", errs.CodeInvalid, errs.WithMessage("dsn required"))
	}
	if pool == nil {
		return nil, errs.New("kv/listener", errs.CodeInvalid, errs.WithMessage("pool required"))
	}
	if hub == nil {
		return nil, errs.New("kv/listener", errs.CodeInvalid, errs.WithMessage("hub required"))
	}
	return &Listener{dsn: dsn, pool: pool, hub: hub, ready: make(chan struct{})}, nil
}

// Ready is closed once the first LISTEN attachment succeeds. Writes announced
// before that point are not replayed.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Run blocks consuming notifications, reconnecting with exponential backoff,
// until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = 30 * time.Second

	for {
		err := l.listen(ctx, backoffCfg.Reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleep := backoffCfg.NextBackOff()
		observability.Log().Error("kv change listener disconnected",
			observability.Field{Key: "error", Value: err.Error()},
			observability.Field{Key: "retry_in", Value: sleep.String()})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (l *Listener) listen(ctx context.Context, connected func()) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect change listener: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	connected()
	l.readyOnce.Do(func() { close(l.ready) })
	observability.Log().Info("kv change listener attached",
		observability.Field{Key: "channel", Value: NotifyChannel})

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait notification: %w", err)
		}
		l.dispatch(ctx, notification.Payload)
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	var note changeNote
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		observability.Log().Error("kv change payload malformed",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	if note.Area == "" || note.Key == "" {
		return
	}

	change := mirror.Change{Area: note.Area, Key: note.Key, Origin: note.Origin}
	switch {
	case note.Removed:
	case note.Oversize:
		value, err := l.reload(ctx, note.Area, note.Key)
		if err != nil {
			observability.Log().Error("kv change reload failed",
				observability.Field{Key: "area", Value: note.Area},
				observability.Field{Key: "key", Value: note.Key},
				observability.Field{Key: "error", Value: err.Error()})
			return
		}
		// A nil reload means the key vanished since the announcement; the
		// change degrades to a removal.
		change.Value = value
	default:
		change.Value = note.Value
	}

	if err := l.hub.Publish(ctx, change); err != nil {
		observability.Log().Error("kv change republish incomplete",
			observability.Field{Key: "area", Value: note.Area},
			observability.Field{Key: "key", Value: note.Key},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func (l *Listener) reload(ctx context.Context, area, key string) (json.RawMessage, error) {
	var value []byte
	err := l.pool.QueryRow(ctx, kvReadSQL, area, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reload kv entry: %w", err)
	}
	return value, nil
}
