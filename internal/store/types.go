package store

import "time"

// FolderStatus is a SyncFolder's lifecycle state.
type FolderStatus string

const (
	FolderIdle    FolderStatus = "idle"
	FolderSyncing FolderStatus = "syncing"
	FolderPaused  FolderStatus = "paused"
	FolderError   FolderStatus = "error"
)

// SyncState is a FileMetadata row's reconciliation state.
type SyncState string

const (
	StateSynced          SyncState = "synced"
	StatePendingUpload   SyncState = "pending-upload"
	StatePendingDownload SyncState = "pending-download"
	StateConflict        SyncState = "conflict"
	StateError           SyncState = "error"
)

// ConflictClassifier names how a conflict's two sides diverged.
type ConflictClassifier string

const (
	ModifiedModified ConflictClassifier = "modified-modified"
	ModifiedDeleted  ConflictClassifier = "modified-deleted"
	DeletedModified  ConflictClassifier = "deleted-modified"
	TypeMismatch     ConflictClassifier = "type-mismatch"
)

// Resolution is the tag recorded against a resolved Conflict.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionBoth   Resolution = "both"
	ResolutionManual Resolution = "manual"
)

// Folder is a durable mapping between a local subtree and a remote subtree.
type Folder struct {
	ID         string       `db:"id" json:"id"`
	LocalPath  string       `db:"local_path" json:"localPath"`
	RemotePath string       `db:"remote_path" json:"remotePath"`
	Enabled    bool         `db:"enabled" json:"enabled"`
	Status     FolderStatus `db:"status" json:"status"`
	Policy     string       `db:"policy" json:"policy"`
	CreatedAt  time.Time    `db:"created_at" json:"createdAt"`
	LastSyncAt *time.Time   `db:"last_sync_at" json:"lastSyncAt,omitempty"`
}

// FolderUpdate carries the subset of Folder fields a caller is allowed to
// mutate after creation: status, last-sync time, enabled, and policy.
type FolderUpdate struct {
	Status     *FolderStatus
	LastSyncAt *time.Time
	Enabled    *bool
	Policy     *string
}

// FileMetadata is the engine's authoritative record of one known file or
// directory under a SyncFolder.
type FileMetadata struct {
	FolderID     string    `db:"folder_id" json:"folderId"`
	RelativePath string    `db:"relative_path" json:"relativePath"`
	Size         int64     `db:"size" json:"size"`
	ModifiedAt   time.Time `db:"modified_at" json:"modifiedAt"`
	ContentHash  string    `db:"content_hash" json:"contentHash"`
	IsDirectory  bool      `db:"is_directory" json:"isDirectory"`
	SyncState    SyncState `db:"sync_state" json:"syncState"`
}

// Conflict records one detected and (eventually) resolved divergence.
type Conflict struct {
	ID               string             `db:"id" json:"id"`
	FolderID         string             `db:"folder_id" json:"folderId"`
	RelativePath     string             `db:"relative_path" json:"relativePath"`
	LocalModifiedAt  time.Time          `db:"local_modified_at" json:"localModifiedAt"`
	RemoteModifiedAt time.Time          `db:"remote_modified_at" json:"remoteModifiedAt"`
	Classifier       ConflictClassifier `db:"classifier" json:"classifier"`
	Resolution       *Resolution        `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt       *time.Time         `db:"resolved_at" json:"resolvedAt,omitempty"`
	DetectedAt       time.Time          `db:"detected_at" json:"detectedAt"`
}
