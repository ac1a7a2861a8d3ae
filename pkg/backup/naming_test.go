package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaming(t *testing.T) {
	n := NewNaming("Ledger")
	assert.Equal(t, "Ledger_AppData", n.ContainerName())
	assert.Equal(t, "Ledger_Backup_2024-03-07.json", n.SnapshotName(testDate))
	assert.Equal(t, "Ledger_Backup_2025-01-09.json", n.SnapshotName(time.Date(2025, time.January, 9, 23, 59, 0, 0, time.Local)))
}

func TestNamingSnapshotDate(t *testing.T) {
	n := NewNaming("Ledger")

	date, ok := n.SnapshotDate("Ledger_Backup_2024-03-07.json")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.March, 7, 0, 0, 0, 0, time.Local), date)

	for _, name := range []string{
		"Other_Backup_2024-03-07.json",
		"Ledger_Backup_2024-03-07.txt",
		"Ledger_Backup_2024-3-7.json",
		"Ledger_Backup_latest.json",
		"Ledger_AppData",
		"",
	} {
		_, ok := n.SnapshotDate(name)
		assert.False(t, ok, name)
	}
}
