package backup

import (
	"context"

	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/foomo/cloudbackup/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeLimit is the number of most recently created candidate
// containers probed for their latest snapshot. A container holding the
// newest backup but ranked below this limit by creation time is missed.
const DefaultProbeLimit = 5

type (
	// Locator finds or creates the container all snapshots are written to.
	Locator struct {
		l          *zap.Logger
		remote     Remote
		naming     Naming
		probeLimit int
		parentID   string
	}
	LocatorOption func(*Locator)
)

type probe struct {
	candidate *drive.File
	snapshot  *drive.File
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewLocator(l *zap.Logger, remote Remote, naming Naming, opts ...LocatorOption) *Locator {
	inst := &Locator{
		l:          l.Named("locator"),
		remote:     remote,
		naming:     naming,
		probeLimit: DefaultProbeLimit,
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func LocatorWithProbeLimit(v int) LocatorOption {
	return func(o *Locator) {
		if v > 0 {
			o.probeLimit = v
		}
	}
}

// LocatorWithParent creates new containers below the given folder.
func LocatorWithParent(v string) LocatorOption {
	return func(o *Locator) {
		o.parentID = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Locate returns the id of the active container, creating one if none exists.
//
// Devices may create the container concurrently before ever writing to it,
// so several containers with the same name can exist. Among the most recently
// created ones the container holding the most recently modified snapshot wins;
// without any snapshot the most recently created container is used.
func (l *Locator) Locate(ctx context.Context) (string, error) {
	name := l.naming.ContainerName()
	candidates, err := l.remote.Search(ctx,
		drive.NewQuery().
			NameEquals(name).
			MimeTypeEquals(drive.MimeTypeFolder).
			NotTrashed(),
		drive.SearchOptions{
			OrderBy: "createdTime desc",
		},
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to search containers")
	}

	if len(candidates) == 0 {
		folder, err := l.remote.CreateFolder(ctx, name, l.parentID)
		if err != nil {
			return "", errors.Wrap(err, "failed to create container")
		}
		if folder == nil || folder.ID == "" {
			return "", errors.New("failed to create container: no id returned")
		}
		l.l.Info("created container", zap.String("id", folder.ID), zap.String("name", name))
		metrics.ContainersCreatedCounter.WithLabelValues().Inc()
		return folder.ID, nil
	}

	metrics.ContainerCandidatesGauge.WithLabelValues().Set(float64(len(candidates)))
	if len(candidates) == 1 {
		return candidates[0].ID, nil
	}

	probed := candidates
	if len(probed) > l.probeLimit {
		l.l.Debug("ignoring older container candidates",
			zap.Int("candidates", len(candidates)),
			zap.Int("probe_limit", l.probeLimit),
		)
		probed = probed[:l.probeLimit]
	}

	probes, err := l.probe(ctx, probed)
	if err != nil {
		return "", err
	}

	selected := selectContainer(probes)
	l.l.Info("selected container among duplicates",
		zap.String("id", selected.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("probed", len(probes)),
	)
	return selected.ID, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (l *Locator) probe(ctx context.Context, candidates []*drive.File) ([]probe, error) {
	probes := make([]probe, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	for i, candidate := range candidates {
		probes[i].candidate = candidate
		g.Go(func() error {
			snapshot, err := latestSnapshot(gCtx, l.remote, candidate.ID)
			if drive.IsNotFound(err) {
				// gone since the search
				l.l.Debug("container vanished while probing", zap.String("id", candidate.ID))
				return nil
			} else if err != nil {
				return errors.Wrapf(err, "failed to probe container %s", candidate.ID)
			}
			probes[i].snapshot = snapshot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return probes, nil
}

// selectContainer expects probes ordered by creation time descending.
func selectContainer(probes []probe) *drive.File {
	var best *probe
	for i := range probes {
		p := &probes[i]
		if p.snapshot == nil {
			continue
		}
		if best == nil || p.snapshot.ModifiedTime.After(best.snapshot.ModifiedTime) {
			best = p
		}
	}
	if best == nil {
		return probes[0].candidate
	}
	return best.candidate
}
