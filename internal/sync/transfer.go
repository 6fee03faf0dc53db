package sync

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/foldersync/agent/internal/agenterr"
	"github.com/foldersync/agent/internal/debounce"
	"github.com/foldersync/agent/internal/detect"
	"github.com/foldersync/agent/internal/hash"
	"github.com/foldersync/agent/internal/store"
)

// partition splits non-conflicting changes into the four transfer
// directions, plus the set of paths where both sides already agree a
// deletion happened (nothing to transfer, only metadata cleanup).
func partition(local, remote []detect.DetectedChange, conflictPaths map[string]bool) (uploads, downloads, localDeletes, remoteDeletes []detect.DetectedChange, noop []string) {
	localByPath := make(map[string]detect.DetectedChange, len(local))
	for _, c := range local {
		localByPath[c.RelativePath] = c
	}
	remoteByPath := make(map[string]detect.DetectedChange, len(remote))
	for _, c := range remote {
		remoteByPath[c.RelativePath] = c
	}

	for path, l := range localByPath {
		if conflictPaths[path] {
			continue
		}
		r, hasRemote := remoteByPath[path]

		switch {
		case !hasRemote:
			if l.Type == debounce.Deleted {
				remoteDeletes = append(remoteDeletes, l)
			} else {
				uploads = append(uploads, l)
			}
		case l.Type == debounce.Deleted && r.Type == debounce.Deleted:
			noop = append(noop, path)
		}
	}

	for path, r := range remoteByPath {
		if conflictPaths[path] {
			continue
		}
		if _, hasLocal := localByPath[path]; hasLocal {
			continue // already handled above (either paired or a conflict)
		}
		if r.Type == debounce.Deleted {
			localDeletes = append(localDeletes, r)
		} else {
			downloads = append(downloads, r)
		}
	}

	return uploads, downloads, localDeletes, remoteDeletes, noop
}

// dispatch runs every transfer direction concurrently, bounded by the
// engine's semaphore. A failed transfer never prevents the others from
// running or from reaching the metadata/status updates that follow.
func (e *Engine) dispatch(ctx context.Context, folder *store.Folder, uploads, downloads, localDeletes, remoteDeletes []detect.DetectedChange) {
	var wg sync.WaitGroup
	run := func(c detect.DetectedChange) {
		defer wg.Done()
		e.dispatchOne(ctx, folder, c, false)
	}

	for _, c := range uploads {
		wg.Add(1)
		go run(c)
	}
	for _, c := range downloads {
		wg.Add(1)
		go run(c)
	}
	for _, c := range localDeletes {
		wg.Add(1)
		go run(c)
	}
	for _, c := range remoteDeletes {
		wg.Add(1)
		go run(c)
	}
	wg.Wait()
}

// dispatchOne performs a single file's transfer, bounded by the engine's
// semaphore and retried per the transient-error policy.
func (e *Engine) dispatchOne(ctx context.Context, folder *store.Folder, c detect.DetectedChange, single bool) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	tctx, cancel := context.WithTimeout(ctx, transferDeadline)
	defer cancel()

	localPath := joinLocal(folder.LocalPath, c.RelativePath)
	remotePath := folderRemotePath(folder, c.RelativePath)

	var err error
	switch {
	case c.Origin == detect.OriginLocal && c.Type != debounce.Deleted:
		err = e.withRetry(tctx, folder.ID, c.RelativePath, func() error { return e.doUpload(tctx, localPath, remotePath) })
		if err == nil {
			_ = e.store.UpsertFile(&store.FileMetadata{
				FolderID: folder.ID, RelativePath: c.RelativePath, Size: c.Size,
				ModifiedAt: c.ModifiedAt, ContentHash: c.Hash, IsDirectory: c.IsDirectory,
				SyncState: store.StateSynced,
			})
		}
	case c.Origin == detect.OriginLocal && c.Type == debounce.Deleted:
		err = e.withRetry(tctx, folder.ID, c.RelativePath, func() error { return e.remote.Delete(tctx, remotePath) })
		if err == nil {
			_ = e.store.DeleteFile(folder.ID, c.RelativePath)
		}
	case c.Origin == detect.OriginRemote && c.Type != debounce.Deleted:
		var downloaded detect.DetectedChange
		err = e.withRetry(tctx, folder.ID, c.RelativePath, func() error {
			var e2 error
			downloaded, e2 = e.doDownload(tctx, remotePath, localPath, c)
			return e2
		})
		if err == nil {
			_ = e.store.UpsertFile(&store.FileMetadata{
				FolderID: folder.ID, RelativePath: c.RelativePath, Size: downloaded.Size,
				ModifiedAt: downloaded.ModifiedAt, ContentHash: downloaded.Hash, IsDirectory: c.IsDirectory,
				SyncState: store.StateSynced,
			})
		}
	case c.Origin == detect.OriginRemote && c.Type == debounce.Deleted:
		err = e.withRetry(tctx, folder.ID, c.RelativePath, func() error {
			rmErr := os.Remove(localPath)
			if rmErr != nil && os.IsNotExist(rmErr) {
				return nil
			}
			return rmErr
		})
		if err == nil {
			_ = e.store.DeleteFile(folder.ID, c.RelativePath)
		}
	}

	if err != nil {
		e.emitError(folder.ID, c.RelativePath, err)
		if tctx.Err() != nil {
			// Abandoned at the deadline or on cancellation: metadata is left as it was.
			return
		}
		_ = e.store.UpsertFile(&store.FileMetadata{
			FolderID: folder.ID, RelativePath: c.RelativePath, Size: c.Size,
			ModifiedAt: c.ModifiedAt, ContentHash: c.Hash, IsDirectory: c.IsDirectory,
			SyncState: store.StateError,
		})
		return
	}
	e.emitChange(folder.ID, c)
}

func (e *Engine) doUpload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return agenterr.Wrap(agenterr.IOError, "read local file", err)
	}
	if err := e.remote.Upload(ctx, remotePath, bytes.NewReader(data), int64(len(data))); err != nil {
		return err
	}
	e.bytesTransferred.Add(int64(len(data)))
	return nil
}

func (e *Engine) doDownload(ctx context.Context, remotePath, localPath string, c detect.DetectedChange) (detect.DetectedChange, error) {
	var buf bytes.Buffer
	if err := e.remote.Download(ctx, remotePath, &buf); err != nil {
		return detect.DetectedChange{}, err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return detect.DetectedChange{}, agenterr.Wrap(agenterr.IOError, "create parent directory", err)
	}
	data := buf.Bytes()
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return detect.DetectedChange{}, agenterr.Wrap(agenterr.IOError, "write local file", err)
	}
	h, err := hash.Reader(bytes.NewReader(data))
	if err != nil {
		return detect.DetectedChange{}, agenterr.Wrap(agenterr.IOError, "hash downloaded content", err)
	}
	e.bytesTransferred.Add(int64(len(data)))
	result := c
	result.Size = int64(len(data))
	result.Hash = h
	if result.ModifiedAt.IsZero() {
		result.ModifiedAt = time.Now().UTC()
	}
	return result, nil
}

// withRetry runs fn, retrying transient errors with backoff of 1s, 2s, 4s
// (three retries, four attempts total). Permanent errors return immediately.
// Every failed attempt, transient or not, is reported through the error
// callback before withRetry either retries or gives up.
func (e *Engine) withRetry(ctx context.Context, folderID, relPath string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		e.emitError(folderID, relPath, err)

		if !agenterr.Is(err, agenterr.NetworkTransient) || attempt >= len(retryDelays) {
			return err
		}

		select {
		case <-time.After(retryDelays[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func joinLocal(root, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(relPath))
}
