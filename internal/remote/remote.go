// Package remote is the Remote API Client: the engine's narrow view onto
// the storage server it synchronizes against.
package remote

import (
	"context"
	"io"
	"time"
)

// ChangeType mirrors a DetectedChange's type.
type ChangeType string

const (
	Created  ChangeType = "created"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// Change is one remote-side difference since a given timestamp.
type Change struct {
	RelativePath string
	Type         ChangeType
	Size         int64
	Hash         string
	ModifiedAt   time.Time
	IsDirectory  bool
}

// Entry is one directory listing row.
type Entry struct {
	RelativePath string
	Size         int64
	Hash         string
	ModifiedAt   time.Time
	IsDirectory  bool
}

// Permission is a per-path grant the remote reports.
type Permission struct {
	RelativePath string
	Read         bool
	Write        bool
	Admin        bool
}

// Client is the collaborator interface the Sync Engine and Change Detector
// consume; it treats 2xx as success, 401 as authentication failure, and
// 408/429/5xx as transient (both classifications are the implementation's
// job, not the caller's — callers only see agenterr kinds).
type Client interface {
	// Authenticate exchanges credentials for a bearer token and stores it
	// for subsequent calls.
	Authenticate(ctx context.Context, user, password string) (token string, err error)

	// SetToken installs a previously obtained bearer token directly,
	// skipping Authenticate (e.g. on restart from a persisted settings
	// file).
	SetToken(token string)

	// ChangesSince lists remote changes under remotePath newer than since.
	ChangesSince(ctx context.Context, remotePath string, since time.Time) ([]Change, error)

	// ListDirectory lists the current remote entries under remotePath.
	ListDirectory(ctx context.Context, remotePath string) ([]Entry, error)

	// Upload streams r's content to remotePath.
	Upload(ctx context.Context, remotePath string, r io.Reader, size int64) error

	// Download streams remotePath's content into w.
	Download(ctx context.Context, remotePath string, w io.Writer) error

	// Delete removes remotePath on the remote.
	Delete(ctx context.Context, remotePath string) error

	// Permissions returns the caller's permission grant for remotePath.
	Permissions(ctx context.Context, remotePath string) (Permission, error)
}
