// Package store is the durable metadata record shared across the engine's
// collaborators: sync folders, per-file metadata, and the conflict log.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store is a single-writer SQLite-backed metadata store. All writes are
// atomic with respect to concurrent readers; callers must not share a
// *Store across processes against the same database file.
type Store struct {
	db *sqlx.DB
}

// Open connects to (creating if absent) the SQLite database at path and
// applies any pending migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := connect(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GenerateID returns a globally unique identifier suitable for a folder or
// conflict row.
func (s *Store) GenerateID() string {
	return uuid.NewString()
}

// --- sync_folder ---------------------------------------------------------

func (s *Store) PutFolder(f *Folder) error {
	if f.ID == "" {
		return errors.New("store: folder id required")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = FolderIdle
	}

	const q = `
		INSERT INTO sync_folder (id, local_path, remote_path, enabled, status, policy, created_at, last_sync_at)
		VALUES (:id, :local_path, :remote_path, :enabled, :status, :policy, :created_at, :last_sync_at)
		ON CONFLICT(id) DO UPDATE SET
			local_path = excluded.local_path,
			remote_path = excluded.remote_path,
			enabled = excluded.enabled,
			policy = excluded.policy`
	row := folderRow{f}
	_, err := s.db.NamedExec(q, row.params())
	if err != nil {
		return fmt.Errorf("store: put folder %s: %w", f.ID, err)
	}
	return nil
}

// UpdateFolder applies only the fields set in upd; nil fields are left
// unchanged.
func (s *Store) UpdateFolder(id string, upd FolderUpdate) error {
	if upd.Status != nil {
		if _, err := s.db.Exec(`UPDATE sync_folder SET status = ? WHERE id = ?`, *upd.Status, id); err != nil {
			return fmt.Errorf("store: update folder %s status: %w", id, err)
		}
	}
	if upd.LastSyncAt != nil {
		if _, err := s.db.Exec(`UPDATE sync_folder SET last_sync_at = ? WHERE id = ?`, formatTime(*upd.LastSyncAt), id); err != nil {
			return fmt.Errorf("store: update folder %s last_sync_at: %w", id, err)
		}
	}
	if upd.Enabled != nil {
		if _, err := s.db.Exec(`UPDATE sync_folder SET enabled = ? WHERE id = ?`, *upd.Enabled, id); err != nil {
			return fmt.Errorf("store: update folder %s enabled: %w", id, err)
		}
	}
	if upd.Policy != nil {
		if _, err := s.db.Exec(`UPDATE sync_folder SET policy = ? WHERE id = ?`, *upd.Policy, id); err != nil {
			return fmt.Errorf("store: update folder %s policy: %w", id, err)
		}
	}
	return nil
}

// RemoveFolder deletes a folder and, via ON DELETE CASCADE, every
// file_metadata and conflict row that references it.
func (s *Store) RemoveFolder(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_folder WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: remove folder %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetFolder(id string) (*Folder, error) {
	var row folderScanRow
	err := s.db.Get(&row, `SELECT id, local_path, remote_path, enabled, status, policy, created_at, last_sync_at FROM sync_folder WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get folder %s: %w", id, err)
	}
	return row.scan()
}

func (s *Store) ListFolders() ([]*Folder, error) {
	var rows []folderScanRow
	if err := s.db.Select(&rows, `SELECT id, local_path, remote_path, enabled, status, policy, created_at, last_sync_at FROM sync_folder ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("store: list folders: %w", err)
	}

	folders := make([]*Folder, 0, len(rows))
	for _, r := range rows {
		f, err := r.scan()
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, nil
}

// --- file_metadata ---------------------------------------------------------

func (s *Store) UpsertFile(m *FileMetadata) error {
	const q = `
		INSERT INTO file_metadata (folder_id, relative_path, size, modified_at, content_hash, is_directory, sync_state)
		VALUES (:folder_id, :relative_path, :size, :modified_at, :content_hash, :is_directory, :sync_state)
		ON CONFLICT(folder_id, relative_path) DO UPDATE SET
			size = excluded.size,
			modified_at = excluded.modified_at,
			content_hash = excluded.content_hash,
			is_directory = excluded.is_directory,
			sync_state = excluded.sync_state`
	row := fileRow{
		FolderID:     m.FolderID,
		RelativePath: m.RelativePath,
		Size:         m.Size,
		ModifiedAt:   formatTime(m.ModifiedAt),
		ContentHash:  m.ContentHash,
		IsDirectory:  m.IsDirectory,
		SyncState:    string(m.SyncState),
	}
	if _, err := s.db.NamedExec(q, row); err != nil {
		return fmt.Errorf("store: upsert file %s/%s: %w", m.FolderID, m.RelativePath, err)
	}
	return nil
}

func (s *Store) GetFile(folderID, relPath string) (*FileMetadata, error) {
	var row fileRow
	err := s.db.Get(&row, `
		SELECT folder_id, relative_path, size, modified_at, content_hash, is_directory, sync_state
		FROM file_metadata WHERE folder_id = ? AND relative_path = ?`, folderID, relPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get file %s/%s: %w", folderID, relPath, err)
	}
	return row.scan()
}

func (s *Store) DeleteFile(folderID, relPath string) error {
	if _, err := s.db.Exec(`DELETE FROM file_metadata WHERE folder_id = ? AND relative_path = ?`, folderID, relPath); err != nil {
		return fmt.Errorf("store: delete file %s/%s: %w", folderID, relPath, err)
	}
	return nil
}

// ChangedSince is a prefix scan: every file_metadata row for folderID whose
// modified_at is at or after since.
func (s *Store) ChangedSince(folderID string, since time.Time) ([]*FileMetadata, error) {
	var rows []fileRow
	err := s.db.Select(&rows, `
		SELECT folder_id, relative_path, size, modified_at, content_hash, is_directory, sync_state
		FROM file_metadata WHERE folder_id = ? AND modified_at >= ?
		ORDER BY relative_path`, folderID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("store: changed since: %w", err)
	}

	out := make([]*FileMetadata, 0, len(rows))
	for _, r := range rows {
		m, err := r.scan()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ListFiles returns every file_metadata row known for folderID.
func (s *Store) ListFiles(folderID string) ([]*FileMetadata, error) {
	var rows []fileRow
	err := s.db.Select(&rows, `
		SELECT folder_id, relative_path, size, modified_at, content_hash, is_directory, sync_state
		FROM file_metadata WHERE folder_id = ? ORDER BY relative_path`, folderID)
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}

	out := make([]*FileMetadata, 0, len(rows))
	for _, r := range rows {
		m, err := r.scan()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// --- conflict ---------------------------------------------------------

func (s *Store) LogConflict(c *Conflict) error {
	if c.ID == "" {
		c.ID = s.GenerateID()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO conflict (id, folder_id, relative_path, local_modified_at, remote_modified_at, classifier, resolution, resolved_at, detected_at)
		VALUES (:id, :folder_id, :relative_path, :local_modified_at, :remote_modified_at, :classifier, :resolution, :resolved_at, :detected_at)`
	row := conflictRow{
		ID:               c.ID,
		FolderID:         c.FolderID,
		RelativePath:     c.RelativePath,
		LocalModifiedAt:  formatTime(c.LocalModifiedAt),
		RemoteModifiedAt: formatTime(c.RemoteModifiedAt),
		Classifier:       string(c.Classifier),
		DetectedAt:       formatTime(c.DetectedAt),
	}
	if c.Resolution != nil {
		v := string(*c.Resolution)
		row.Resolution = &v
	}
	if c.ResolvedAt != nil {
		v := formatTime(*c.ResolvedAt)
		row.ResolvedAt = &v
	}

	if _, err := s.db.NamedExec(q, row); err != nil {
		return fmt.Errorf("store: log conflict %s: %w", c.RelativePath, err)
	}
	return nil
}

// PendingConflicts returns every conflict for folderID with no resolution
// recorded yet.
func (s *Store) PendingConflicts(folderID string) ([]*Conflict, error) {
	var rows []conflictRow
	err := s.db.Select(&rows, `
		SELECT id, folder_id, relative_path, local_modified_at, remote_modified_at, classifier, resolution, resolved_at, detected_at
		FROM conflict WHERE folder_id = ? AND resolution IS NULL
		ORDER BY detected_at`, folderID)
	if err != nil {
		return nil, fmt.Errorf("store: pending conflicts: %w", err)
	}

	out := make([]*Conflict, 0, len(rows))
	for _, r := range rows {
		c, err := r.scan()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ResolveConflict(id string, resolution Resolution) error {
	now := formatTime(time.Now().UTC())
	res, err := s.db.Exec(`UPDATE conflict SET resolution = ?, resolved_at = ? WHERE id = ?`, string(resolution), now, id)
	if err != nil {
		return fmt.Errorf("store: resolve conflict %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: resolve conflict %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: resolve conflict %s: not found", id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
