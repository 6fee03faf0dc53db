package sync

import (
	"github.com/dustin/go-humanize"

	"github.com/foldersync/agent/internal/store"
)

// FolderSnapshot is one folder's status as of the last call to State.
type FolderSnapshot struct {
	FolderID         string            `json:"folderId"`
	LocalPath        string            `json:"localPath"`
	RemotePath       string            `json:"remotePath"`
	Status           store.FolderStatus `json:"status"`
	LastSyncAt       *string           `json:"lastSyncAt,omitempty"`
	PendingConflicts int               `json:"pendingConflicts"`
}

// Snapshot is the full state() response.
type Snapshot struct {
	Authenticated        bool             `json:"authenticated"`
	Folders              []FolderSnapshot `json:"folders"`
	BytesTransferred     int64            `json:"bytesTransferred"`
	BytesTransferredHuman string          `json:"bytesTransferredHuman"`
}

// State builds a point-in-time snapshot of every registered folder.
func (e *Engine) State() (Snapshot, error) {
	folders, err := e.store.ListFolders()
	if err != nil {
		return Snapshot{}, err
	}

	transferred := e.bytesTransferred.Load()
	snap := Snapshot{
		Authenticated:         e.IsAuthenticated(),
		Folders:               make([]FolderSnapshot, 0, len(folders)),
		BytesTransferred:      transferred,
		BytesTransferredHuman: humanize.Bytes(uint64(transferred)),
	}
	for _, f := range folders {
		pending, err := e.store.PendingConflicts(f.ID)
		if err != nil {
			return Snapshot{}, err
		}

		fs := FolderSnapshot{
			FolderID:         f.ID,
			LocalPath:        f.LocalPath,
			RemotePath:       f.RemotePath,
			Status:           f.Status,
			PendingConflicts: len(pending),
		}
		if f.LastSyncAt != nil {
			ts := f.LastSyncAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
			fs.LastSyncAt = &ts
		}
		snap.Folders = append(snap.Folders, fs)
	}
	return snap, nil
}
