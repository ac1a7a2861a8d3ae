package backup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/foomo/cloudbackup/pkg/metrics"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxStaleRetries bounds how often a write re-discovers the container after a 404.
const maxStaleRetries = 1

// DefaultLocateTimeout bounds a shared container discovery, which outlives
// the callers waiting for it.
const DefaultLocateTimeout = time.Minute

const (
	operationRead     = "read"
	operationWrite    = "write"
	operationPrune    = "prune"
	operationSnapshot = "snapshots"
)

type (
	// Syncer reads and writes the application state. It caches the id of
	// the active container and re-discovers it when the remote reports it gone.
	Syncer struct {
		l          *zap.Logger
		naming     Naming
		locator    *Locator
		writer     *Writer
		reader     *Reader
		pruner     *Pruner
		observer   PhaseObserver
		clock      clockwork.Clock
		probeLimit int
		parentID   string
		keep       int
		// bounds the shared locate, which runs detached from its callers
		locateTimeout time.Duration
		group         singleflight.Group
		// serializes writes so that one process never creates two snapshots for a date
		writeMu sync.Mutex
		// guarded by mu; generation changes on every invalidation
		mu          sync.Mutex
		containerID string
		generation  uint64
	}
	Option func(*Syncer)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewSyncer(l *zap.Logger, remote Remote, appPrefix string, opts ...Option) *Syncer {
	inst := &Syncer{
		l:          l.Named("syncer"),
		naming:     NewNaming(appPrefix),
		clock:         clockwork.NewRealClock(),
		probeLimit:    DefaultProbeLimit,
		locateTimeout: DefaultLocateTimeout,
	}

	for _, opt := range opts {
		opt(inst)
	}

	inst.locator = NewLocator(inst.l, remote, inst.naming,
		LocatorWithProbeLimit(inst.probeLimit),
		LocatorWithParent(inst.parentID),
	)
	inst.writer = NewWriter(inst.l, remote, inst.naming, WriterWithClock(inst.clock))
	inst.reader = NewReader(inst.l, remote, inst.naming)
	inst.pruner = NewPruner(inst.l, remote, inst.naming, inst.keep)

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithClock(v clockwork.Clock) Option {
	return func(o *Syncer) {
		o.clock = v
	}
}

func WithProbeLimit(v int) Option {
	return func(o *Syncer) {
		o.probeLimit = v
	}
}

func WithParent(v string) Option {
	return func(o *Syncer) {
		o.parentID = v
	}
}

// WithRetention prunes all but the newest v snapshots after each write.
func WithRetention(v int) Option {
	return func(o *Syncer) {
		o.keep = v
	}
}

func WithLocateTimeout(v time.Duration) Option {
	return func(o *Syncer) {
		o.locateTimeout = v
	}
}

func WithPhaseObserver(v PhaseObserver) Option {
	return func(o *Syncer) {
		o.observer = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Getter
// ------------------------------------------------------------------------------------------------

func (s *Syncer) Naming() Naming {
	return s.naming
}

// ContainerID returns the cached container id, empty if there is none.
func (s *Syncer) ContainerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containerID
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Invalidate drops the cached container id.
func (s *Syncer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containerID = ""
	s.generation++
}

// Read returns the newest remote state or nil. Remote failures never
// surface; they are logged and reported as nil. Only the cancellation or
// deadline of ctx is returned as an error.
func (s *Syncer) Read(ctx context.Context) (json.RawMessage, error) {
	start := time.Now()
	l := s.l.With(zap.String("run_id", uuid.New().String()))

	id, gen, err := s.resolve(ctx)
	var data json.RawMessage
	if err == nil {
		data, err = s.reader.Read(ctx, id)
	}
	if err != nil {
		observe(operationRead, start, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if drive.IsNotFound(err) {
			s.invalidate(id)
		}
		l.Warn("failed to read remote state, continuing without", zap.Error(err))
		return nil, nil
	}

	s.remember(id, gen)
	observe(operationRead, start, nil)
	return data, nil
}

// Write stores state as today's snapshot. A 404 on the cached container
// invalidates it and retries the whole write once; every other error,
// including a second 404, is returned.
func (s *Syncer) Write(ctx context.Context, state json.RawMessage) error {
	_, err := s.WriteSnapshot(ctx, state)
	return err
}

// WriteSnapshot is Write returning the snapshot that was written. State that
// is not a json object is rejected before any remote call.
func (s *Syncer) WriteSnapshot(ctx context.Context, state json.RawMessage) (*drive.File, error) {
	start := time.Now()
	l := s.l.With(zap.String("run_id", uuid.New().String()))

	s.observer.enter(PhaseIdle)
	if err := ValidateState(state); err != nil {
		s.observer.enter(PhaseFailed)
		return nil, err
	}

	s.writeMu.Lock()
	file, err := s.write(ctx, l, state)
	s.writeMu.Unlock()
	observe(operationWrite, start, err)
	if err != nil {
		s.observer.enter(PhaseFailed)
		l.Error("failed to write remote state", zap.Error(err))
		return nil, err
	}
	s.observer.enter(PhaseDone)

	if s.pruner.Enabled() {
		if _, err := s.Prune(ctx); err != nil {
			l.Warn("failed to prune snapshots", zap.Error(err))
		}
	}
	return file, nil
}

// Snapshots lists the snapshots of the active container, newest first.
func (s *Syncer) Snapshots(ctx context.Context) ([]*drive.File, error) {
	start := time.Now()
	id, gen, err := s.resolve(ctx)
	if err != nil {
		observe(operationSnapshot, start, err)
		return nil, err
	}
	files, err := s.reader.List(ctx, id)
	observe(operationSnapshot, start, err)
	if err != nil {
		if drive.IsNotFound(err) {
			s.invalidate(id)
		}
		return nil, err
	}
	s.remember(id, gen)
	return files, nil
}

// Prune applies the retention limit to the active container.
func (s *Syncer) Prune(ctx context.Context) ([]*drive.File, error) {
	start := time.Now()
	id, _, err := s.resolve(ctx)
	if err != nil {
		observe(operationPrune, start, err)
		return nil, err
	}
	deleted, err := s.pruner.Prune(ctx, id)
	observe(operationPrune, start, err)
	if drive.IsNotFound(err) {
		s.invalidate(id)
	}
	metrics.SnapshotsPrunedCounter.WithLabelValues().Add(float64(len(deleted)))
	return deleted, err
}

// Locate resolves the active container, using the cache when possible.
func (s *Syncer) Locate(ctx context.Context) (string, error) {
	id, _, err := s.resolve(ctx)
	return id, err
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (s *Syncer) write(ctx context.Context, l *zap.Logger, state json.RawMessage) (*drive.File, error) {
	for attempt := 0; ; attempt++ {
		s.observer.enter(PhaseResolvingContainer)
		var file *drive.File
		id, gen, err := s.resolve(ctx)
		if err != nil {
			err = &PhaseError{Phase: PhaseResolvingContainer, Err: err}
		} else {
			file, err = s.writer.write(ctx, id, state, s.observer)
		}

		if err == nil {
			s.remember(id, gen)
			return file, nil
		}
		if !drive.IsNotFound(err) || attempt >= maxStaleRetries {
			return nil, err
		}

		l.Warn("stale container reference, relocating",
			zap.String("container", id),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		metrics.StaleReferencesCounter.WithLabelValues().Inc()
		s.invalidate(id)
	}
}

// resolve returns the cached container id or locates it. Concurrent
// locates are collapsed into one, which runs detached from the caller that
// started it so that its cancellation never fails the others. Each caller
// stops waiting when its own ctx is done.
func (s *Syncer) resolve(ctx context.Context) (string, uint64, error) {
	s.mu.Lock()
	id, gen := s.containerID, s.generation
	s.mu.Unlock()
	if id != "" {
		return id, gen, nil
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	ch := s.group.DoChan("locate", func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.locateTimeout)
		defer cancel()

		s.mu.Lock()
		gen := s.generation
		s.mu.Unlock()

		id, err := s.locator.Locate(lctx)
		if err != nil {
			return nil, err
		}
		s.remember(id, gen)
		return located{id: id, generation: gen}, nil
	})

	select {
	case <-ctx.Done():
		return "", 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", 0, errors.Wrap(res.Err, "failed to locate container")
		}
		loc := res.Val.(located)
		return loc.id, loc.generation, nil
	}
}

type located struct {
	id         string
	generation uint64
}

// remember caches id unless the cache was invalidated since gen was observed.
func (s *Syncer) remember(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.containerID = id
}

// invalidate drops id if it is still cached. The generation always moves on
// so that callers still holding id cannot cache it again.
func (s *Syncer) invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if s.containerID == id {
		s.containerID = ""
	}
	s.l.Debug("container reference invalidated", zap.String("container", id))
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SyncOperationsCounter.WithLabelValues(operation, status).Inc()
	metrics.SyncOperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
