package backup

import (
	"net/http"
	"testing"
	"time"

	"github.com/foomo/cloudbackup/pkg/drive/drivetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPruner(t *testing.T, srv *drivetest.Server, keep int) *Pruner {
	t.Helper()
	l := zaptest.NewLogger(t)
	return NewPruner(l, srv.Client(l), NewNaming(testAppPrefix), keep)
}

func TestPrunerKeepsNewest(t *testing.T) {
	srv := drivetest.NewServer(t)
	folder := srv.AddFolder("Ledger_AppData", testDate)
	for day := 3; day <= 7; day++ {
		date := time.Date(2024, time.March, day, 12, 0, 0, 0, time.Local)
		srv.AddFile(folder.ID, NewNaming(testAppPrefix).SnapshotName(date), date, []byte(`{}`))
	}
	srv.AddFile(folder.ID, "settings.json", testDate.Add(-72*time.Hour), []byte(`{}`))

	deleted, err := newTestPruner(t, srv, 2).Prune(t.Context(), folder.ID)
	require.NoError(t, err)
	assert.Len(t, deleted, 3)

	var names []string
	for _, f := range srv.Children(folder.ID) {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{
		"Ledger_Backup_2024-03-06.json",
		"Ledger_Backup_2024-03-07.json",
		"settings.json",
	}, names)
}

func TestPrunerDisabled(t *testing.T) {
	srv := drivetest.NewServer(t)
	folder := srv.AddFolder("Ledger_AppData", testDate)
	srv.AddFile(folder.ID, "Ledger_Backup_2024-03-06.json", testDate.Add(-24*time.Hour), []byte(`{}`))

	p := newTestPruner(t, srv, 0)
	assert.False(t, p.Enabled())
	deleted, err := p.Prune(t.Context(), folder.ID)
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Empty(t, srv.Calls())
}

func TestPrunerCollectsErrors(t *testing.T) {
	srv := drivetest.NewServer(t)
	folder := srv.AddFolder("Ledger_AppData", testDate)
	srv.AddFile(folder.ID, "Ledger_Backup_2024-03-07.json", testDate, []byte(`{}`))
	a := srv.AddFile(folder.ID, "Ledger_Backup_2024-03-06.json", testDate.Add(-24*time.Hour), []byte(`{}`))
	srv.AddFile(folder.ID, "Ledger_Backup_2024-03-05.json", testDate.Add(-48*time.Hour), []byte(`{}`))
	srv.Fail(drivetest.Failure{Method: http.MethodDelete, Path: "/files/" + a.ID, Status: http.StatusInternalServerError})

	deleted, err := newTestPruner(t, srv, 1).Prune(t.Context(), folder.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ledger_Backup_2024-03-06.json")
	require.Len(t, deleted, 1)
	assert.Equal(t, "Ledger_Backup_2024-03-05.json", deleted[0].Name)
	assert.Len(t, srv.Children(folder.ID), 2)
}
