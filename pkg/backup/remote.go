package backup

import (
	"context"

	"github.com/foomo/cloudbackup/pkg/drive"
)

// Remote is the subset of the drive client the engine uses.
// *drive.Client implements it.
type Remote interface {
	Search(ctx context.Context, q *drive.Query, opts drive.SearchOptions) ([]*drive.File, error)
	CreateFolder(ctx context.Context, name, parent string) (*drive.File, error)
	InitiateResumableCreate(ctx context.Context, md drive.Metadata, contentType string, size int) (string, error)
	InitiateResumableUpdate(ctx context.Context, id string, md drive.Metadata, contentType string, size int) (string, error)
	UploadSession(ctx context.Context, sessionURI string, contentType string, data []byte) (*drive.File, error)
	Download(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// latestSnapshot returns the most recently modified json file in the container, or nil.
func latestSnapshot(ctx context.Context, remote Remote, containerID string) (*drive.File, error) {
	files, err := remote.Search(ctx,
		drive.NewQuery().
			InParents(containerID).
			MimeTypeEquals(drive.MimeTypeJSON).
			NotTrashed(),
		drive.SearchOptions{
			OrderBy:  "modifiedTime desc",
			PageSize: 1,
		},
	)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return files[0], nil
}
