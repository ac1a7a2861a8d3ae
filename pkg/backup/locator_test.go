package backup

import (
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/foomo/cloudbackup/pkg/drive/drivetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLocator(t *testing.T, srv *drivetest.Server, opts ...LocatorOption) *Locator {
	t.Helper()
	l := zaptest.NewLogger(t)
	return NewLocator(l, srv.Client(l), NewNaming(testAppPrefix), opts...)
}

func TestLocatorCreatesContainer(t *testing.T) {
	srv := drivetest.NewServer(t)
	id, err := newTestLocator(t, srv).Locate(t.Context())
	require.NoError(t, err)

	folders := srv.Folders("Ledger_AppData")
	require.Len(t, folders, 1)
	assert.Equal(t, folders[0].ID, id)
}

func TestLocatorSingleCandidate(t *testing.T) {
	srv := drivetest.NewServer(t)
	folder := srv.AddFolder("Ledger_AppData", testDate)
	// other applications and trashed duplicates are no candidates
	srv.AddFolder("Other_AppData", testDate.Add(time.Hour))
	trashed := srv.AddFolder("Ledger_AppData", testDate.Add(time.Hour))
	srv.Trash(trashed.ID)

	id, err := newTestLocator(t, srv).Locate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, folder.ID, id)
	assert.Equal(t, 0, srv.CountCalls(http.MethodGet, "/files", "in parents"), "no probes")
}

func TestLocatorPrefersLatestSnapshot(t *testing.T) {
	srv := drivetest.NewServer(t)
	oldest := srv.AddFolder("Ledger_AppData", testDate)
	middle := srv.AddFolder("Ledger_AppData", testDate.Add(time.Minute))
	srv.AddFolder("Ledger_AppData", testDate.Add(2*time.Minute))

	srv.AddFile(middle.ID, "Ledger_Backup_2024-03-06.json", testDate.Add(-24*time.Hour), []byte(`{}`))
	srv.AddFile(oldest.ID, "Ledger_Backup_2024-03-05.json", testDate.Add(-48*time.Hour), []byte(`{}`))
	srv.AddFile(oldest.ID, "Ledger_Backup_2024-03-07.json", testDate.Add(time.Hour), []byte(`{}`))

	id, err := newTestLocator(t, srv).Locate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, id)
}

func TestLocatorFallsBackToNewestContainer(t *testing.T) {
	srv := drivetest.NewServer(t)
	srv.AddFolder("Ledger_AppData", testDate)
	newest := srv.AddFolder("Ledger_AppData", testDate.Add(2*time.Minute))
	srv.AddFolder("Ledger_AppData", testDate.Add(time.Minute))

	id, err := newTestLocator(t, srv).Locate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, newest.ID, id)
}

func TestLocatorProbeLimit(t *testing.T) {
	srv := drivetest.NewServer(t)
	var ids []string
	for i := 0; i < 7; i++ {
		folder := srv.AddFolder("Ledger_AppData", testDate.Add(time.Duration(i)*time.Minute))
		ids = append(ids, folder.ID)
	}
	// the oldest container holds the newest snapshot
	srv.AddFile(ids[0], "Ledger_Backup_2024-03-07.json", testDate.Add(time.Hour), []byte(`{}`))
	srv.AddFile(ids[3], "Ledger_Backup_2024-03-06.json", testDate.Add(-time.Hour), []byte(`{}`))

	id, err := newTestLocator(t, srv).Locate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ids[3], id, "rank 7 is beyond the default probe limit")
	assert.Equal(t, DefaultProbeLimit, srv.CountCalls(http.MethodGet, "/files", "in parents"))

	id, err = newTestLocator(t, srv, LocatorWithProbeLimit(10)).Locate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ids[0], id)
}

func TestLocatorVanishedCandidate(t *testing.T) {
	srv := drivetest.NewServer(t)
	older := srv.AddFolder("Ledger_AppData", testDate)
	newer := srv.AddFolder("Ledger_AppData", testDate.Add(time.Minute))
	srv.AddFile(older.ID, "Ledger_Backup_2024-03-07.json", testDate, []byte(`{}`))

	srv.Fail(drivetest.Failure{
		Method:        http.MethodGet,
		QueryContains: "'" + newer.ID + "' in parents",
		Status:        http.StatusNotFound,
	})

	id, err := newTestLocator(t, srv).Locate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, older.ID, id)
}

func TestLocatorProbeFailure(t *testing.T) {
	srv := drivetest.NewServer(t)
	srv.AddFolder("Ledger_AppData", testDate)
	srv.AddFolder("Ledger_AppData", testDate.Add(time.Minute))

	srv.Fail(drivetest.Failure{
		Method:        http.MethodGet,
		QueryContains: "in parents",
		Status:        http.StatusInternalServerError,
	})

	_, err := newTestLocator(t, srv).Locate(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to probe container")
}

func TestLocatorSelectsArgmax(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		srv := drivetest.NewServer(t)
		k := 2 + rnd.Intn(DefaultProbeLimit-1)
		offsets := rnd.Perm(100)[:k]

		var (
			want       string
			wantOffset = -1
		)
		for i := 0; i < k; i++ {
			folder := srv.AddFolder("Ledger_AppData", testDate.Add(time.Duration(i)*time.Minute))
			if rnd.Intn(4) == 0 {
				// no snapshot in this one
				continue
			}
			srv.AddFile(folder.ID, "Ledger_Backup_2024-03-07.json", testDate.Add(time.Duration(offsets[i])*time.Minute), []byte(`{}`))
			if offsets[i] > wantOffset {
				want, wantOffset = folder.ID, offsets[i]
			}
		}
		if want == "" {
			folders := srv.Folders("Ledger_AppData")
			want = folders[len(folders)-1].ID
		}

		id, err := newTestLocator(t, srv).Locate(t.Context())
		require.NoError(t, err)
		assert.Equal(t, want, id, "run %d", run)
	}
}
