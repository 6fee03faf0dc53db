// Package resolve is the Conflict Resolver: it applies one of five
// policies to a single conflicting path and performs the transfer(s) that
// resolution requires.
package resolve

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/foldersync/agent/internal/agenterr"
	"github.com/foldersync/agent/internal/hash"
	"github.com/foldersync/agent/internal/remote"
	"github.com/foldersync/agent/internal/store"
)

// Policy names a conflict-resolution strategy.
type Policy string

const (
	LastWriteWins Policy = "last-write-wins"
	PreferLocal   Policy = "prefer-local"
	PreferRemote  Policy = "prefer-remote"
	KeepBoth      Policy = "keep-both"
	Manual        Policy = "manual"
)

// Outcome describes what the resolver actually did.
type Outcome string

const (
	Uploaded   Outcome = "uploaded"
	Downloaded Outcome = "downloaded"
	Renamed    Outcome = "renamed"
	Deleted    Outcome = "deleted"
	Errored    Outcome = "error"
)

// Result is a resolution's outcome: what happened, which side's tag should
// be recorded against the Conflict row, and an error message on failure.
type Result struct {
	Outcome    Outcome
	Resolution store.Resolution
	ViaManual  bool
	Message    string
}

// ManualCallback is invoked for the manual policy; it must return a
// non-manual policy. Returning Manual again is a protocol error.
type ManualCallback func(ctx context.Context, localPath, remotePath string) (Policy, error)

// Resolver executes one policy, captured at construction so that a
// reconciliation in flight never observes a changed default mid-run.
type Resolver struct {
	policy  Policy
	remote  remote.Client
	manual  ManualCallback
}

func New(policy Policy, rc remote.Client, manual ManualCallback) *Resolver {
	return &Resolver{policy: policy, remote: rc, manual: manual}
}

// Resolve applies the resolver's policy to one conflicting path.
func (r *Resolver) Resolve(ctx context.Context, localPath, remotePath string, localModifiedAt, remoteModifiedAt time.Time) (Result, error) {
	return r.resolveWith(ctx, r.policy, localPath, remotePath, localModifiedAt, remoteModifiedAt, false)
}

func (r *Resolver) resolveWith(ctx context.Context, policy Policy, localPath, remotePath string, localModifiedAt, remoteModifiedAt time.Time, viaManual bool) (Result, error) {
	switch policy {
	case LastWriteWins:
		return r.resolveLastWriteWins(ctx, localPath, remotePath, localModifiedAt, remoteModifiedAt, viaManual)
	case PreferLocal:
		return r.resolvePreferLocal(ctx, localPath, remotePath, viaManual)
	case PreferRemote:
		return r.resolvePreferRemote(ctx, localPath, remotePath, viaManual)
	case KeepBoth:
		return r.resolveKeepBoth(ctx, localPath, remotePath, viaManual)
	case Manual:
		return r.resolveManual(ctx, localPath, remotePath)
	default:
		return Result{Outcome: Errored, Message: "unknown resolution policy: " + string(policy)},
			agenterr.New(agenterr.InvalidArgument, "unknown resolution policy: "+string(policy))
	}
}

func (r *Resolver) resolveLastWriteWins(ctx context.Context, localPath, remotePath string, localModifiedAt, remoteModifiedAt time.Time, viaManual bool) (Result, error) {
	if localModifiedAt.After(remoteModifiedAt) {
		if err := r.uploadFile(ctx, localPath, remotePath); err != nil {
			return Result{Outcome: Errored, Message: err.Error()}, err
		}
		return Result{Outcome: Uploaded, Resolution: store.ResolutionLocal, ViaManual: viaManual}, nil
	}
	// Remote newer, or a tie: ties favor the remote side, a well-defined
	// global choice.
	if err := r.downloadFile(ctx, remotePath, localPath); err != nil {
		return Result{Outcome: Errored, Message: err.Error()}, err
	}
	return Result{Outcome: Downloaded, Resolution: store.ResolutionRemote, ViaManual: viaManual}, nil
}

func (r *Resolver) resolvePreferLocal(ctx context.Context, localPath, remotePath string, viaManual bool) (Result, error) {
	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		if err := r.remote.Delete(ctx, remotePath); err != nil {
			return Result{Outcome: Errored, Message: err.Error()}, err
		}
		return Result{Outcome: Deleted, Resolution: store.ResolutionLocal, ViaManual: viaManual}, nil
	}
	if err := r.uploadFile(ctx, localPath, remotePath); err != nil {
		return Result{Outcome: Errored, Message: err.Error()}, err
	}
	return Result{Outcome: Uploaded, Resolution: store.ResolutionLocal, ViaManual: viaManual}, nil
}

func (r *Resolver) resolvePreferRemote(ctx context.Context, localPath, remotePath string, viaManual bool) (Result, error) {
	data, err := r.readRemote(ctx, remotePath)
	if err != nil {
		if agenterr.Is(err, agenterr.NotFound) {
			if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
				return Result{Outcome: Errored, Message: err.Error()}, err
			}
			return Result{Outcome: Deleted, Resolution: store.ResolutionRemote, ViaManual: viaManual}, nil
		}
		return Result{Outcome: Errored, Message: err.Error()}, err
	}
	if err := writeFile(localPath, data); err != nil {
		return Result{Outcome: Errored, Message: err.Error()}, err
	}
	return Result{Outcome: Downloaded, Resolution: store.ResolutionRemote, ViaManual: viaManual}, nil
}

// resolveKeepBoth keeps the local version under its original name, downloads
// the remote version to a sibling "<stem>_conflict_<unix_seconds><ext>" file,
// uploads the original local content to remotePath, and uploads the
// conflict copy under a corresponding remote name. All three steps (one
// local write, two uploads) must succeed; any failure unwinds everything already done so
// the system is left exactly as it was.
func (r *Resolver) resolveKeepBoth(ctx context.Context, localPath, remotePath string, viaManual bool) (Result, error) {
	ts := time.Now().Unix()
	conflictLocalPath := conflictPath(localPath, ts)
	conflictRemotePath := conflictRemotePath(remotePath, ts)

	originalRemote, err := r.readRemote(ctx, remotePath)
	if err != nil {
		return Result{Outcome: Errored, Message: "read original remote: " + err.Error()}, err
	}

	if _, err := os.Stat(localPath); err != nil {
		return Result{Outcome: Errored, Message: "stat local: " + err.Error()}, err
	}

	if err := writeFile(conflictLocalPath, originalRemote); err != nil {
		return Result{Outcome: Errored, Message: "download remote to conflict file: " + err.Error()}, err
	}

	if err := r.uploadFile(ctx, localPath, remotePath); err != nil {
		_ = os.Remove(conflictLocalPath)
		return Result{Outcome: Errored, Message: "upload local: " + err.Error()}, err
	}

	if err := r.uploadBytes(ctx, conflictLocalPath, conflictRemotePath, originalRemote); err != nil {
		// Unwind: restore the remote's original content, drop the local
		// conflict file we created.
		if restoreErr := r.uploadBytes(ctx, localPath, remotePath, originalRemote); restoreErr != nil {
			return Result{Outcome: Errored, Message: fmt.Sprintf("upload conflict copy failed (%v); unwind also failed (%v)", err, restoreErr)}, restoreErr
		}
		_ = os.Remove(conflictLocalPath)
		return Result{Outcome: Errored, Message: "upload conflict copy: " + err.Error()}, err
	}

	return Result{Outcome: Renamed, Resolution: store.ResolutionBoth, ViaManual: viaManual}, nil
}

func (r *Resolver) resolveManual(ctx context.Context, localPath, remotePath string) (Result, error) {
	if r.manual == nil {
		err := agenterr.New(agenterr.Internal, "manual policy requires a callback")
		return Result{Outcome: Errored, Message: err.Error()}, err
	}

	choice, err := r.manual(ctx, localPath, remotePath)
	if err != nil {
		return Result{Outcome: Errored, Message: err.Error()}, err
	}
	if choice == Manual {
		err := agenterr.New(agenterr.InvalidArgument, "manual callback returned manual again")
		return Result{Outcome: Errored, Message: err.Error()}, err
	}

	return r.resolveWith(ctx, choice, localPath, remotePath, time.Now(), time.Now(), true)
}

func (r *Resolver) uploadFile(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return agenterr.Wrap(agenterr.IOError, "read local file", err)
	}
	return r.uploadBytes(ctx, localPath, remotePath, data)
}

func (r *Resolver) uploadBytes(ctx context.Context, _ string, remotePath string, data []byte) error {
	return r.remote.Upload(ctx, remotePath, bytes.NewReader(data), int64(len(data)))
}

func (r *Resolver) downloadFile(ctx context.Context, remotePath, localPath string) error {
	data, err := r.readRemote(ctx, remotePath)
	if err != nil {
		return err
	}
	return writeFile(localPath, data)
}

func (r *Resolver) readRemote(ctx context.Context, remotePath string) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.remote.Download(ctx, remotePath, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return agenterr.Wrap(agenterr.IOError, "create parent directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return agenterr.Wrap(agenterr.IOError, "write file", err)
	}
	return nil
}

func conflictPath(localPath string, unixSeconds int64) string {
	dir := filepath.Dir(localPath)
	ext := filepath.Ext(localPath)
	stem := strings.TrimSuffix(filepath.Base(localPath), ext)
	return filepath.Join(dir, fmt.Sprintf("%s_conflict_%d%s", stem, unixSeconds, ext))
}

// SyncMetadata reconciles a FileMetadata row with a resolution's outcome.
// A Deleted outcome drops the row; every other outcome recomputes the
// local file's size/hash/mtime so the next reconciliation sees the path
// as settled instead of reporting it changed again.
func SyncMetadata(st *store.Store, folderID, relPath, localPath string, result Result) error {
	if result.Outcome == Deleted {
		return st.DeleteFile(folderID, relPath)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return agenterr.Wrap(agenterr.IOError, "stat resolved file", err)
	}
	h, err := hash.File(localPath)
	if err != nil {
		return agenterr.Wrap(agenterr.IOError, "hash resolved file", err)
	}

	return st.UpsertFile(&store.FileMetadata{
		FolderID:     folderID,
		RelativePath: relPath,
		Size:         info.Size(),
		ModifiedAt:   info.ModTime().UTC(),
		ContentHash:  h,
		IsDirectory:  info.IsDir(),
		SyncState:    store.StateSynced,
	})
}

func conflictRemotePath(remotePath string, unixSeconds int64) string {
	dir := path.Dir(remotePath)
	ext := path.Ext(remotePath)
	stem := strings.TrimSuffix(path.Base(remotePath), ext)
	name := stem + "_conflict_" + strconv.FormatInt(unixSeconds, 10)
	if dir == "." {
		return name
	}
	return dir + "/" + name
}
