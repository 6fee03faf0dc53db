// Package detect is the Change Detector: it turns a local filesystem walk
// and a remote change report into the canonical DetectedChange shape, and
// classifies conflicts between the two.
package detect

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foldersync/agent/internal/debounce"
	"github.com/foldersync/agent/internal/hash"
	"github.com/foldersync/agent/internal/ignore"
	"github.com/foldersync/agent/internal/remote"
	"github.com/foldersync/agent/internal/store"
)

// Origin distinguishes which side of the sync a DetectedChange came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ModTimeEpsilon is the smallest modified-time increase treated as
// meaningful; filesystems that truncate mtimes to whole seconds otherwise
// produce false positives. Hash, not mtime, remains the authority.
const ModTimeEpsilon = 1500 * time.Millisecond

// DetectedChange is one difference between a side and its last known state.
type DetectedChange struct {
	RelativePath string
	Type         debounce.Action
	Origin       Origin
	Size         int64
	Hash         string
	ModifiedAt   time.Time
	IsDirectory  bool
}

// Classifier is the outcome of pairing a local and a remote DetectedChange
// for the same relative path.
type Classifier struct {
	RelativePath string
	Classifier   store.ConflictClassifier
	Local        DetectedChange
	Remote       DetectedChange
}

// Detector reads (never writes) the metadata store and a remote client to
// produce change sets.
type Detector struct {
	store  *store.Store
	remote remote.Client
}

func New(st *store.Store, rc remote.Client) *Detector {
	return &Detector{store: st, remote: rc}
}

// Local walks localRoot and diffs it against the metadata store's last
// known state for folderID. Symlinks and special files are skipped; paths
// matched by ignoreList are skipped.
func (d *Detector) Local(folderID, localRoot string, ignoreList *ignore.List) ([]DetectedChange, error) {
	known, err := d.store.ListFiles(folderID)
	if err != nil {
		return nil, err
	}
	knownByPath := make(map[string]*store.FileMetadata, len(known))
	for _, m := range known {
		knownByPath[m.RelativePath] = m
	}

	var changes []DetectedChange
	seen := make(map[string]bool, len(known))

	err = filepath.WalkDir(localRoot, func(path string, d2 fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if path == localRoot {
			return nil
		}

		info, err := d2.Info()
		if err != nil {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !d2.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		if ignoreList != nil && ignoreList.ShouldIgnore(path) {
			if d2.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(localRoot, path)
		if err != nil {
			return nil
		}
		rel = normalizeRelPath(rel)
		seen[rel] = true

		prev, exists := knownByPath[rel]

		if d2.IsDir() {
			if !exists {
				changes = append(changes, DetectedChange{
					RelativePath: rel,
					Type:         debounce.Created,
					Origin:       OriginLocal,
					ModifiedAt:   info.ModTime(),
					IsDirectory:  true,
				})
			}
			return nil
		}

		if !exists {
			h, err := hash.File(path)
			if err != nil {
				return nil
			}
			changes = append(changes, DetectedChange{
				RelativePath: rel,
				Type:         debounce.Created,
				Origin:       OriginLocal,
				Size:         info.Size(),
				Hash:         h,
				ModifiedAt:   info.ModTime(),
			})
			return nil
		}

		sizeChanged := info.Size() != prev.Size
		mtimeAdvanced := info.ModTime().Sub(prev.ModifiedAt) > ModTimeEpsilon

		if !sizeChanged && !mtimeAdvanced {
			return nil
		}

		h, err := hash.File(path)
		if err != nil {
			return nil
		}
		if h == prev.ContentHash && !sizeChanged {
			return nil
		}

		changes = append(changes, DetectedChange{
			RelativePath: rel,
			Type:         debounce.Modified,
			Origin:       OriginLocal,
			Size:         info.Size(),
			Hash:         h,
			ModifiedAt:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for rel, m := range knownByPath {
		if seen[rel] {
			continue
		}
		changes = append(changes, DetectedChange{
			RelativePath: rel,
			Type:         debounce.Deleted,
			Origin:       OriginLocal,
			ModifiedAt:   time.Now().UTC(),
			IsDirectory:  m.IsDirectory,
		})
	}

	return changes, nil
}

// Remote requests the remote change set under remotePath since the given
// timestamp and maps it to the DetectedChange shape, with paths made
// relative to remotePath.
func (d *Detector) Remote(ctx context.Context, remotePath string, since time.Time) ([]DetectedChange, error) {
	remoteChanges, err := d.remote.ChangesSince(ctx, remotePath, since)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimRight(remotePath, "/") + "/"
	changes := make([]DetectedChange, 0, len(remoteChanges))
	for _, c := range remoteChanges {
		changes = append(changes, DetectedChange{
			RelativePath: normalizeRelPath(strings.TrimPrefix(c.RelativePath, prefix)),
			Type:         debounce.Action(c.Type),
			Origin:       OriginRemote,
			Size:         c.Size,
			Hash:         c.Hash,
			ModifiedAt:   c.ModifiedAt,
			IsDirectory:  c.IsDirectory,
		})
	}
	return changes, nil
}

// Conflicts pairs local and remote DetectedChange vectors by relative path
// and classifies the resulting conflicts. Paths present on only one side,
// or deleted on both, are not conflicts and are omitted.
func (d *Detector) Conflicts(local, remote []DetectedChange) []Classifier {
	localByPath := make(map[string]DetectedChange, len(local))
	for _, c := range local {
		localByPath[c.RelativePath] = c
	}
	remoteByPath := make(map[string]DetectedChange, len(remote))
	for _, c := range remote {
		remoteByPath[c.RelativePath] = c
	}

	var out []Classifier
	for path, l := range localByPath {
		r, ok := remoteByPath[path]
		if !ok {
			continue
		}

		lActive := l.Type != debounce.Deleted
		rActive := r.Type != debounce.Deleted

		switch {
		case !lActive && !rActive:
			continue // both deleted: idempotent, not a conflict
		case lActive && rActive && l.IsDirectory != r.IsDirectory:
			out = append(out, Classifier{RelativePath: path, Classifier: store.TypeMismatch, Local: l, Remote: r})
		case lActive && rActive:
			out = append(out, Classifier{RelativePath: path, Classifier: store.ModifiedModified, Local: l, Remote: r})
		case lActive && !rActive:
			out = append(out, Classifier{RelativePath: path, Classifier: store.ModifiedDeleted, Local: l, Remote: r})
		case !lActive && rActive:
			out = append(out, Classifier{RelativePath: path, Classifier: store.DeletedModified, Local: l, Remote: r})
		}
	}
	return out
}

func normalizeRelPath(p string) string {
	p = filepath.ToSlash(p)
	for strings.HasPrefix(p, "/") {
		p = p[1:]
	}
	return p
}
