package backup

import (
	"context"
	"sort"

	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pruner removes dated snapshots beyond a retention limit. Containers are never touched.
type Pruner struct {
	l      *zap.Logger
	remote Remote
	reader *Reader
	naming Naming
	keep   int
}

// NewPruner keeps the newest keep snapshots; keep <= 0 disables pruning.
func NewPruner(l *zap.Logger, remote Remote, naming Naming, keep int) *Pruner {
	return &Pruner{
		l:      l.Named("pruner"),
		remote: remote,
		reader: NewReader(l, remote, naming),
		naming: naming,
		keep:   keep,
	}
}

func (p *Pruner) Enabled() bool {
	return p.keep > 0
}

// Prune deletes all but the newest snapshots of the container and returns the deleted files.
func (p *Pruner) Prune(ctx context.Context, containerID string) ([]*drive.File, error) {
	if !p.Enabled() {
		return nil, nil
	}

	files, err := p.reader.List(ctx, containerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list snapshots")
	}

	// order by the date in the name, then modification
	sort.SliceStable(files, func(i, j int) bool {
		di, _ := p.naming.SnapshotDate(files[i].Name)
		dj, _ := p.naming.SnapshotDate(files[j].Name)
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return files[i].ModifiedTime.After(files[j].ModifiedTime)
	})

	if len(files) <= p.keep {
		return nil, nil
	}

	var (
		deleted []*drive.File
		errs    error
	)
	for _, f := range files[p.keep:] {
		p.l.Debug("removing outdated snapshot", zap.String("name", f.Name), zap.String("id", f.ID))
		if err := p.remote.Delete(ctx, f.ID); err != nil && !drive.IsNotFound(err) {
			errs = multierr.Append(errs, errors.Wrapf(err, "could not remove snapshot %s", f.Name))
			continue
		}
		deleted = append(deleted, f)
	}
	return deleted, errs
}
