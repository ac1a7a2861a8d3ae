package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Minute

type (
	// Syncer is the remote side of the watcher.
	Syncer interface {
		Read(ctx context.Context) (json.RawMessage, error)
		Write(ctx context.Context, state json.RawMessage) error
	}
	// Store is the local side of the watcher. Current returns an error
	// matching os.ErrNotExist when there is no local state yet.
	Store interface {
		Current(ctx context.Context) ([]byte, error)
		Add(ctx context.Context, data []byte) error
	}
	// Watcher pushes the local state whenever it changed since the last push.
	Watcher struct {
		l        *zap.Logger
		syncer   Syncer
		store    Store
		clock    clockwork.Clock
		interval time.Duration
		restore  bool
		last     []byte
		ready    atomic.Bool
	}
	Option func(*Watcher)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, syncer Syncer, store Store, opts ...Option) *Watcher {
	inst := &Watcher{
		l:        l.Named("watcher"),
		syncer:   syncer,
		store:    store,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithClock(v clockwork.Clock) Option {
	return func(o *Watcher) {
		o.clock = v
	}
}

func WithInterval(v time.Duration) Option {
	return func(o *Watcher) {
		o.interval = v
	}
}

// WithRestore pulls the remote state into the store on start when there is no local state.
func WithRestore(v bool) Option {
	return func(o *Watcher) {
		o.restore = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Getter
// ------------------------------------------------------------------------------------------------

// Ready reports whether the first round completed.
func (w *Watcher) Ready() bool {
	return w.ready.Load()
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Start runs a round immediately and then on every interval until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	l := w.l.Named("routine")

	if w.restore {
		if err := w.Restore(ctx); err != nil {
			l.Warn("failed to restore remote state", zap.Error(err))
		}
	}

	w.round(ctx, l)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Debug("routine canceled", zap.Error(ctx.Err()))
			return nil
		case <-ticker.Chan():
			w.round(ctx, l)
		}
	}
}

// Tick pushes the local state if it changed and reports whether it did.
func (w *Watcher) Tick(ctx context.Context) (bool, error) {
	data, err := w.store.Current(ctx)
	if isNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "failed to read local state")
	}
	if bytes.Equal(data, w.last) {
		return false, nil
	}
	if err := w.syncer.Write(ctx, json.RawMessage(data)); err != nil {
		return false, err
	}
	w.last = data
	return true, nil
}

// Restore stores the remote state locally unless there already is local state.
func (w *Watcher) Restore(ctx context.Context) error {
	if _, err := w.store.Current(ctx); err == nil {
		w.l.Debug("local state exists, skipping restore")
		return nil
	} else if !isNotExist(err) {
		return errors.Wrap(err, "failed to read local state")
	}

	data, err := w.syncer.Read(ctx)
	if err != nil {
		return err
	}
	if data == nil {
		w.l.Info("no remote state to restore")
		return nil
	}
	if err := w.store.Add(ctx, data); err != nil {
		return errors.Wrap(err, "failed to store remote state")
	}
	w.last = data
	w.l.Info("restored remote state", zap.Int("bytes", len(data)))
	return nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (w *Watcher) round(ctx context.Context, l *zap.Logger) {
	l = l.With(zap.String("run_id", uuid.New().String()))
	pushed, err := w.Tick(ctx)
	switch {
	case err != nil:
		l.Error("push failed", zap.Error(err))
		return
	case pushed:
		l.Info("pushed local state", zap.Int("bytes", len(w.last)))
	default:
		l.Debug("local state unchanged")
	}
	w.ready.Store(true)
}

func isNotExist(err error) bool {
	return err != nil && errors.Is(err, os.ErrNotExist)
}
