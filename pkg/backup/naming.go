package backup

import (
	"strings"
	"time"
)

const (
	containerSuffix = "_AppData"
	snapshotInfix   = "_Backup_"
	snapshotSuffix  = ".json"
	snapshotLayout  = "2006-01-02"
)

// Naming derives the fixed remote names from the application prefix.
type Naming struct {
	AppPrefix string
}

func NewNaming(appPrefix string) Naming {
	return Naming{AppPrefix: appPrefix}
}

// ContainerName e.g. "Ledger_AppData".
func (n Naming) ContainerName() string {
	return n.AppPrefix + containerSuffix
}

// SnapshotName e.g. "Ledger_Backup_2024-03-07.json" for the local calendar date of t.
func (n Naming) SnapshotName(t time.Time) string {
	return n.AppPrefix + snapshotInfix + t.Format(snapshotLayout) + snapshotSuffix
}

// SnapshotDate parses the date back out of a snapshot name.
func (n Naming) SnapshotDate(name string) (time.Time, bool) {
	prefix := n.AppPrefix + snapshotInfix
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return time.Time{}, false
	}
	date, err := time.ParseInLocation(snapshotLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), snapshotSuffix), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}
