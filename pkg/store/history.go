package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/foomo/cloudbackup/pkg/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultHistoryPrefix = "cloudbackup-state-"
	DefaultHistoryLimit  = 2

	historySuffix = ".json"
	currentName   = "current"
	// fixed width, so that keys sort by time
	versionLayout = "20060102T150405.000000000Z"
)

type (
	// History keeps the current local state and a bounded number of previous versions.
	History struct {
		l       *zap.Logger
		storage Storage
		clock   clockwork.Clock
		dir     string
		prefix  string
		limit   int
		mu      sync.RWMutex
	}
	HistoryOption func(*History)
	// Version is one stored state version.
	Version struct {
		Key  string
		Time time.Time
	}
)

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func HistoryWithLimit(v int) HistoryOption {
	return func(o *History) {
		o.limit = v
	}
}

// HistoryWithDir sets the directory of the default filesystem storage.
func HistoryWithDir(v string) HistoryOption {
	return func(o *History) {
		o.dir = v
	}
}

func HistoryWithPrefix(v string) HistoryOption {
	return func(o *History) {
		o.prefix = v
	}
}

func HistoryWithStorage(v Storage) HistoryOption {
	return func(o *History) {
		o.storage = v
	}
}

func HistoryWithClock(v clockwork.Clock) HistoryOption {
	return func(o *History) {
		o.clock = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewHistory(l *zap.Logger, opts ...HistoryOption) (*History, error) {
	inst := &History{
		l:      l.Named("history"),
		clock:  clockwork.NewRealClock(),
		prefix: DefaultHistoryPrefix,
		limit:  DefaultHistoryLimit,
	}

	for _, opt := range opts {
		opt(inst)
	}

	if inst.storage == nil {
		storage, err := NewFilesystemStorage(inst.dir)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create default filesystem storage")
		}
		inst.storage = storage
	}

	return inst, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Add stores data as a new version and as the current state, then drops
// versions beyond the limit.
func (h *History) Add(ctx context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.add(ctx, data)
	if err != nil {
		metrics.LocalHistoryPersistFailedCounter.WithLabelValues().Inc()
	}
	return err
}

// Current returns the current state or ErrNotExist.
func (h *History) Current(ctx context.Context) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.storage.Read(ctx, h.currentKey())
}

// Versions lists the stored versions, newest first.
func (h *History) Versions(ctx context.Context) ([]Version, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.versions(ctx)
}

// Get returns the data of a single version.
func (h *History) Get(ctx context.Context, v Version) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.storage.Read(ctx, v.Key)
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.storage != nil {
		return h.storage.Close()
	}
	return nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (h *History) add(ctx context.Context, data []byte) error {
	key := h.prefix + h.clock.Now().UTC().Format(versionLayout) + historySuffix

	h.l.Debug("writing state",
		zap.String("version", key),
		zap.String("current", h.currentKey()),
		zap.Int("bytes", len(data)),
	)

	if err := h.storage.Write(ctx, key, data); err != nil {
		return errors.Wrap(err, "failed to write state version")
	}
	if err := h.storage.Write(ctx, h.currentKey(), data); err != nil {
		return errors.Wrap(err, "failed to write current state")
	}
	if err := h.cleanup(ctx); err != nil {
		return errors.Wrap(err, "failed to clean up history")
	}
	return nil
}

func (h *History) currentKey() string {
	return h.prefix + currentName + historySuffix
}

func (h *History) versions(ctx context.Context) ([]Version, error) {
	keys, err := h.storage.List(ctx, h.prefix)
	if err != nil {
		return nil, err
	}

	var ret []Version
	for _, key := range keys {
		if key == h.currentKey() || !strings.HasSuffix(key, historySuffix) {
			continue
		}
		t, err := time.Parse(versionLayout, strings.TrimSuffix(strings.TrimPrefix(key, h.prefix), historySuffix))
		if err != nil {
			continue
		}
		ret = append(ret, Version{Key: key, Time: t})
	}
	return ret, nil
}

func (h *History) cleanup(ctx context.Context) error {
	if h.limit <= 0 {
		return nil
	}
	versions, err := h.versions(ctx)
	if err != nil {
		return errors.Wrap(err, "could not list versions for cleanup")
	}
	if len(versions) <= h.limit {
		return nil
	}

	var errs error
	for _, v := range versions[h.limit:] {
		h.l.Debug("removing outdated version", zap.String("version", v.Key))
		errs = multierr.Append(errs, errors.Wrapf(h.storage.Delete(ctx, v.Key), "could not remove %s", v.Key))
	}
	return errs
}
