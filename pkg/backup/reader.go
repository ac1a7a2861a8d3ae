package backup

import (
	"context"
	"encoding/json"

	"github.com/foomo/cloudbackup/pkg/drive"
	"go.uber.org/zap"
)

// maxVanishedRetries bounds the searches repeated when the newest snapshot
// disappears between search and download.
const maxVanishedRetries = 1

// Reader fetches the newest snapshot of a container.
type Reader struct {
	l      *zap.Logger
	remote Remote
	naming Naming
}

func NewReader(l *zap.Logger, remote Remote, naming Naming) *Reader {
	return &Reader{
		l:      l.Named("reader"),
		remote: remote,
		naming: naming,
	}
}

// Read returns the content of the most recently modified snapshot, or nil if
// there is none. Empty, malformed or non-object content is logged and
// reported as nil: the caller keeps working with its local data. Errors
// only come from the container search or a failed download.
func (r *Reader) Read(ctx context.Context, containerID string) (json.RawMessage, error) {
	l := r.l.With(zap.String("container", containerID))

	var data []byte
	for attempt := 0; ; attempt++ {
		snapshot, err := latestSnapshot(ctx, r.remote, containerID)
		if err != nil {
			return nil, err
		}
		if snapshot == nil {
			l.Info("no snapshot found")
			return nil, nil
		}
		sl := l.With(zap.String("snapshot", snapshot.Name), zap.String("id", snapshot.ID))

		data, err = r.remote.Download(ctx, snapshot.ID)
		if err == nil {
			l = sl
			break
		}
		// a 404 here concerns the snapshot, not the container
		if !drive.IsNotFound(err) {
			return nil, err
		}
		if attempt >= maxVanishedRetries {
			sl.Warn("snapshot vanished again, giving up", zap.Error(err))
			return nil, nil
		}
		sl.Info("snapshot vanished before download, searching again")
	}

	var obj map[string]json.RawMessage
	ok, err := drive.DecodeJSON(data, &obj)
	switch {
	case err != nil:
		l.Warn("ignoring malformed snapshot", zap.Error(err))
		return nil, nil
	case !ok:
		l.Warn("ignoring empty snapshot")
		return nil, nil
	case obj == nil:
		l.Warn("ignoring snapshot which is not a json object")
		return nil, nil
	}

	l.Debug("snapshot read", zap.Int("bytes", len(data)))
	return json.RawMessage(data), nil
}

// List returns all snapshots of this application in the container, newest first.
func (r *Reader) List(ctx context.Context, containerID string) ([]*drive.File, error) {
	files, err := r.remote.Search(ctx,
		drive.NewQuery().
			InParents(containerID).
			MimeTypeEquals(drive.MimeTypeJSON).
			NotTrashed(),
		drive.SearchOptions{
			OrderBy: "modifiedTime desc",
		},
	)
	if err != nil {
		return nil, err
	}
	ret := make([]*drive.File, 0, len(files))
	for _, f := range files {
		if _, ok := r.naming.SnapshotDate(f.Name); ok {
			ret = append(ret, f)
		}
	}
	return ret, nil
}
