package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foldersync/agent/internal/detect"
	"github.com/foldersync/agent/internal/resolve"
	"github.com/foldersync/agent/internal/store"
)

// reconcile runs the full eight-step reconciliation for one folder:
// transition to syncing, capture local and remote changes (with an overlap
// window to absorb clock skew), classify conflicts, resolve them, partition
// the remainder into transfers, dispatch with bounded concurrency, persist
// metadata, and transition back to idle.
func (e *Engine) reconcile(ctx context.Context, folderID string) error {
	if !e.IsAuthenticated() {
		e.emitAuthRequired()
		return ErrNotAuthenticated
	}

	fs := e.getFolderState(folderID)
	if fs == nil {
		return nil // folder removed mid-flight
	}
	if !fs.mu.TryLock() {
		return nil // a reconciliation for this folder is already running
	}
	defer fs.mu.Unlock()

	folder, err := e.store.GetFolder(folderID)
	if err != nil {
		return err
	}
	if folder == nil || !folder.Enabled || folder.Status == store.FolderPaused {
		return nil
	}

	reconcileStart := time.Now().UTC()
	e.transition(folder, store.FolderSyncing)

	since := reconcileStart.Add(-overlapWindow)
	if folder.LastSyncAt != nil {
		since = folder.LastSyncAt.Add(-overlapWindow)
	}

	ignoreList := e.getIgnoreList(folderID)

	localChanges, err := e.detector.Local(folderID, folder.LocalPath, ignoreList)
	if err != nil {
		e.transition(folder, store.FolderError)
		return fmt.Errorf("local scan: %w", err)
	}

	remoteChanges, err := e.detector.Remote(ctx, folder.RemotePath, since)
	if err != nil {
		e.transition(folder, store.FolderError)
		return fmt.Errorf("remote scan: %w", err)
	}

	conflicts := e.detector.Conflicts(localChanges, remoteChanges)
	conflictPaths := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		conflictPaths[c.RelativePath] = true
	}

	if err := e.resolveConflicts(ctx, folder, conflicts); err != nil {
		slog.Error("sync: conflict resolution error", "folder", folderID, "error", err)
	}

	uploads, downloads, localDeletes, remoteDeletes, noop := partition(localChanges, remoteChanges, conflictPaths)

	for _, rel := range noop {
		_ = e.store.DeleteFile(folderID, rel)
	}

	e.dispatch(ctx, folder, uploads, downloads, localDeletes, remoteDeletes)

	lastSync := reconcileStart
	_ = e.store.UpdateFolder(folderID, store.FolderUpdate{LastSyncAt: &lastSync})
	folder.LastSyncAt = &lastSync

	e.transition(folder, store.FolderIdle)
	return nil
}

// reconcilePath runs a narrow, single-file reconciliation triggered by a
// debounced filesystem event rather than a full folder scan.
func (e *Engine) reconcilePath(ctx context.Context, folder *store.Folder, relPath string) {
	if !e.IsAuthenticated() || !folder.Enabled || folder.Status == store.FolderPaused {
		return
	}

	fs := e.getFolderState(folder.ID)
	if fs == nil {
		return
	}
	if !e.claimPath(fs, relPath) {
		return
	}
	defer e.releasePath(fs, relPath)

	ignoreList := e.getIgnoreList(folder.ID)
	localChanges, err := e.detector.Local(folder.ID, folder.LocalPath, ignoreList)
	if err != nil {
		e.emitError(folder.ID, relPath, err)
		return
	}

	for _, c := range localChanges {
		if c.RelativePath != relPath {
			continue
		}
		e.dispatchOne(ctx, folder, c, true)
		return
	}
}

func (e *Engine) claimPath(fs *folderState, relPath string) bool {
	fs.pathMu.Lock()
	defer fs.pathMu.Unlock()
	if _, busy := fs.inFlightPaths[relPath]; busy {
		return false
	}
	fs.inFlightPaths[relPath] = struct{}{}
	return true
}

func (e *Engine) releasePath(fs *folderState, relPath string) {
	fs.pathMu.Lock()
	defer fs.pathMu.Unlock()
	delete(fs.inFlightPaths, relPath)
}

func (e *Engine) transition(folder *store.Folder, status store.FolderStatus) {
	folder.Status = status
	_ = e.store.UpdateFolder(folder.ID, store.FolderUpdate{Status: &status})
	e.emitStatus(folder.ID, status)
}

func (e *Engine) resolveConflicts(ctx context.Context, folder *store.Folder, conflicts []detect.Classifier) error {
	if len(conflicts) == 0 {
		return nil
	}

	policy := resolve.Policy(folder.Policy)
	if policy == "" {
		policy = resolve.LastWriteWins
	}
	resolver := resolve.New(policy, e.remote, e.manualResolve)

	for _, c := range conflicts {
		conflictRow := &store.Conflict{
			ID:               e.store.GenerateID(),
			FolderID:         folder.ID,
			RelativePath:     c.RelativePath,
			LocalModifiedAt:  c.Local.ModifiedAt,
			RemoteModifiedAt: c.Remote.ModifiedAt,
			Classifier:       c.Classifier,
			DetectedAt:       time.Now().UTC(),
		}
		if err := e.store.LogConflict(conflictRow); err != nil {
			return err
		}
		_ = e.store.UpsertFile(&store.FileMetadata{
			FolderID: folder.ID, RelativePath: c.RelativePath, Size: c.Local.Size,
			ModifiedAt: c.Local.ModifiedAt, ContentHash: c.Local.Hash, IsDirectory: c.Local.IsDirectory,
			SyncState: store.StateConflict,
		})

		localPath := joinLocal(folder.LocalPath, c.RelativePath)
		remotePath := folderRemotePath(folder, c.RelativePath)

		result, err := resolver.Resolve(ctx, localPath, remotePath, c.Local.ModifiedAt, c.Remote.ModifiedAt)
		if err != nil {
			e.emitError(folder.ID, c.RelativePath, err)
			continue
		}

		if err := e.store.ResolveConflict(conflictRow.ID, result.Resolution); err != nil {
			return err
		}
		if err := resolve.SyncMetadata(e.store, folder.ID, c.RelativePath, localPath, result); err != nil {
			e.emitError(folder.ID, c.RelativePath, err)
		}

		e.emitChange(folder.ID, c.Local)
	}
	return nil
}
