package backup

import (
	"context"
	"encoding/json"

	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrEmptyState   = errors.New("state must not be empty")
	ErrInvalidState = errors.New("state must be a json object")
)

// ValidateState checks that state is a non empty json object. Anything else
// would replace the snapshot of the day with content no read accepts.
func ValidateState(state json.RawMessage) error {
	var obj map[string]json.RawMessage
	ok, err := drive.DecodeJSON(state, &obj)
	switch {
	case err != nil:
		return errors.Wrap(ErrInvalidState, err.Error())
	case !ok:
		return ErrEmptyState
	case obj == nil:
		return ErrInvalidState
	}
	return nil
}

type (
	// Writer stores the state as today's snapshot, replacing a snapshot
	// already written today.
	Writer struct {
		l      *zap.Logger
		remote Remote
		naming Naming
		clock  clockwork.Clock
	}
	WriterOption func(*Writer)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewWriter(l *zap.Logger, remote Remote, naming Naming, opts ...WriterOption) *Writer {
	inst := &Writer{
		l:      l.Named("writer"),
		remote: remote,
		naming: naming,
		clock:  clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WriterWithClock(v clockwork.Clock) WriterOption {
	return func(o *Writer) {
		o.clock = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Write uploads state into the container and returns the written snapshot.
// Remote errors are *PhaseError values.
func (w *Writer) Write(ctx context.Context, containerID string, state json.RawMessage) (*drive.File, error) {
	return w.write(ctx, containerID, state, nil)
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (w *Writer) write(ctx context.Context, containerID string, state json.RawMessage, observe PhaseObserver) (*drive.File, error) {
	if err := ValidateState(state); err != nil {
		return nil, err
	}

	name := w.naming.SnapshotName(w.clock.Now().Local())
	l := w.l.With(zap.String("container", containerID), zap.String("snapshot", name))

	observe.enter(PhaseCheckingExistingSnapshot)
	existing, err := w.remote.Search(ctx,
		drive.NewQuery().
			NameEquals(name).
			InParents(containerID).
			NotTrashed(),
		drive.SearchOptions{
			OrderBy:  "modifiedTime desc",
			PageSize: 1,
		},
	)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseCheckingExistingSnapshot, Err: err}
	}

	observe.enter(PhaseInitiatingUpload)
	var sessionURI string
	if len(existing) > 0 {
		l.Debug("updating snapshot", zap.String("id", existing[0].ID))
		sessionURI, err = w.remote.InitiateResumableUpdate(ctx, existing[0].ID, drive.Metadata{
			MimeType: drive.MimeTypeJSON,
		}, drive.MimeTypeJSON, len(state))
	} else {
		l.Debug("creating snapshot")
		sessionURI, err = w.remote.InitiateResumableCreate(ctx, drive.Metadata{
			Name:     name,
			MimeType: drive.MimeTypeJSON,
			Parents:  []string{containerID},
		}, drive.MimeTypeJSON, len(state))
	}
	if err != nil {
		return nil, &PhaseError{Phase: PhaseInitiatingUpload, Err: err}
	}

	observe.enter(PhaseUploadingBytes)
	file, err := w.remote.UploadSession(ctx, sessionURI, drive.MimeTypeJSON, state)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseUploadingBytes, Err: err}
	}

	if file == nil {
		file = &drive.File{}
	}
	if file.ID == "" && len(existing) > 0 {
		file.ID = existing[0].ID
	}
	if file.Name == "" {
		file.Name = name
	}
	l.Info("snapshot written",
		zap.String("id", file.ID),
		zap.Int("bytes", len(state)),
		zap.Bool("updated", len(existing) > 0),
	)
	return file, nil
}
