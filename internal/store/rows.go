package store

import "time"

// The row types below are the sqlx scan targets: SQLite has no native
// timestamp type, so every time.Time crosses the wire as an RFC3339Nano
// string and is converted back on the way out.

type folderRow struct {
	*Folder
}

type folderParams struct {
	ID         string  `db:"id"`
	LocalPath  string  `db:"local_path"`
	RemotePath string  `db:"remote_path"`
	Enabled    bool    `db:"enabled"`
	Status     string  `db:"status"`
	Policy     string  `db:"policy"`
	CreatedAt  string  `db:"created_at"`
	LastSyncAt *string `db:"last_sync_at"`
}

func (r folderRow) params() folderParams {
	p := folderParams{
		ID:         r.ID,
		LocalPath:  r.LocalPath,
		RemotePath: r.RemotePath,
		Enabled:    r.Enabled,
		Status:     string(r.Status),
		Policy:     r.Policy,
		CreatedAt:  formatTime(r.CreatedAt),
	}
	if r.LastSyncAt != nil {
		v := formatTime(*r.LastSyncAt)
		p.LastSyncAt = &v
	}
	return p
}

// Scan-side representation: sqlx.Get/Select populate this directly from the
// SELECT column list, then scan() converts it into a *Folder.
type folderScanRow struct {
	ID         string  `db:"id"`
	LocalPath  string  `db:"local_path"`
	RemotePath string  `db:"remote_path"`
	Enabled    bool    `db:"enabled"`
	Status     string  `db:"status"`
	Policy     string  `db:"policy"`
	CreatedAt  string  `db:"created_at"`
	LastSyncAt *string `db:"last_sync_at"`
}

func (r folderScanRow) scan() (*Folder, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	f := &Folder{
		ID:         r.ID,
		LocalPath:  r.LocalPath,
		RemotePath: r.RemotePath,
		Enabled:    r.Enabled,
		Status:     FolderStatus(r.Status),
		Policy:     r.Policy,
		CreatedAt:  created,
	}
	if r.LastSyncAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *r.LastSyncAt)
		if err != nil {
			return nil, err
		}
		f.LastSyncAt = &t
	}
	return f, nil
}

type fileRow struct {
	FolderID     string `db:"folder_id"`
	RelativePath string `db:"relative_path"`
	Size         int64  `db:"size"`
	ModifiedAt   string `db:"modified_at"`
	ContentHash  string `db:"content_hash"`
	IsDirectory  bool   `db:"is_directory"`
	SyncState    string `db:"sync_state"`
}

func (r fileRow) scan() (*FileMetadata, error) {
	modified, err := time.Parse(time.RFC3339Nano, r.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &FileMetadata{
		FolderID:     r.FolderID,
		RelativePath: r.RelativePath,
		Size:         r.Size,
		ModifiedAt:   modified,
		ContentHash:  r.ContentHash,
		IsDirectory:  r.IsDirectory,
		SyncState:    SyncState(r.SyncState),
	}, nil
}

type conflictRow struct {
	ID               string  `db:"id"`
	FolderID         string  `db:"folder_id"`
	RelativePath     string  `db:"relative_path"`
	LocalModifiedAt  string  `db:"local_modified_at"`
	RemoteModifiedAt string  `db:"remote_modified_at"`
	Classifier       string  `db:"classifier"`
	Resolution       *string `db:"resolution"`
	ResolvedAt       *string `db:"resolved_at"`
	DetectedAt       string  `db:"detected_at"`
}

func (r conflictRow) scan() (*Conflict, error) {
	localMod, err := time.Parse(time.RFC3339Nano, r.LocalModifiedAt)
	if err != nil {
		return nil, err
	}
	remoteMod, err := time.Parse(time.RFC3339Nano, r.RemoteModifiedAt)
	if err != nil {
		return nil, err
	}
	detected, err := time.Parse(time.RFC3339Nano, r.DetectedAt)
	if err != nil {
		return nil, err
	}
	c := &Conflict{
		ID:               r.ID,
		FolderID:         r.FolderID,
		RelativePath:     r.RelativePath,
		LocalModifiedAt:  localMod,
		RemoteModifiedAt: remoteMod,
		Classifier:       ConflictClassifier(r.Classifier),
		DetectedAt:       detected,
	}
	if r.Resolution != nil {
		res := Resolution(*r.Resolution)
		c.Resolution = &res
	}
	if r.ResolvedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *r.ResolvedAt)
		if err != nil {
			return nil, err
		}
		c.ResolvedAt = &t
	}
	return c, nil
}
