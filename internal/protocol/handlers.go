package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/foldersync/agent/internal/config"
	"github.com/foldersync/agent/internal/remote"
	"github.com/foldersync/agent/internal/resolve"
	"github.com/foldersync/agent/internal/store"
	"github.com/foldersync/agent/internal/sync"
	"github.com/foldersync/agent/internal/utils"
)

// Engine is the subset of *sync.Engine the command handlers need; a
// narrow interface keeps this package testable against a fake.
type Engine interface {
	Login(ctx context.Context, user, password string) error
	Logout()
	IsAuthenticated() bool
	AddFolder(ctx context.Context, f *store.Folder) error
	RemoveFolder(folderID string) error
	Pause(folderID string) error
	Resume(ctx context.Context, folderID string) error
	TriggerSync(ctx context.Context, folderID string)
	State() (sync.Snapshot, error)
}

// Deps bundles the collaborators the dispatch table talks to.
type Deps struct {
	Engine   Engine
	Store    *store.Store
	Settings *config.Settings
	Remote   remote.Client
}

// RegisterCommands wires the spec's command table onto srv.
func RegisterCommands(srv *Server, deps Deps) {
	srv.Handle("ping", handlePing)
	srv.Handle("login", deps.handleLogin)
	srv.Handle("add_sync_folder", deps.handleAddSyncFolder)
	srv.Handle("remove_sync_folder", deps.handleRemoveSyncFolder)
	srv.Handle("pause_sync", deps.handlePauseSync)
	srv.Handle("resume_sync", deps.handleResumeSync)
	srv.Handle("update_sync_folder", deps.handleUpdateSyncFolder)
	srv.Handle("get_sync_state", deps.handleGetSyncState)
	srv.Handle("get_folders", deps.handleGetFolders)
	srv.Handle("get_conflicts", deps.handleGetConflicts)
	srv.Handle("resolve_conflict", deps.handleResolveConflict)
	srv.Handle("resolve_all_conflicts", deps.handleResolveAllConflicts)
	srv.Handle("get_settings", deps.handleGetSettings)
	srv.Handle("update_settings", deps.handleUpdateSettings)
}

type pongData struct {
	Time time.Time `json:"time"`
}

func handlePing(_ context.Context, _ json.RawMessage) (any, error) {
	return pongData{Time: time.Now().UTC()}, nil
}

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ServerURL string `json:"serverUrl"`
}

func (d Deps) handleLogin(ctx context.Context, data json.RawMessage) (any, error) {
	var req loginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := d.Engine.Login(ctx, req.Username, req.Password); err != nil {
		return nil, err
	}
	if d.Settings != nil {
		d.Settings.Username = req.Username
		if req.ServerURL != "" {
			d.Settings.ServerURL = req.ServerURL
		}
		_ = d.Settings.Save()
	}
	return map[string]any{"username": req.Username}, nil
}

type folderRequest struct {
	LocalPath  string `json:"localPath"`
	RemotePath string `json:"remotePath"`
}

func (d Deps) handleAddSyncFolder(ctx context.Context, data json.RawMessage) (any, error) {
	var req folderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if !utils.DirExists(req.LocalPath) {
		return nil, fmt.Errorf("local path does not exist or is not a directory: %s", req.LocalPath)
	}
	if !utils.IsWritable(req.LocalPath) {
		return nil, fmt.Errorf("local path is not writable: %s", req.LocalPath)
	}
	f := &store.Folder{
		LocalPath:  req.LocalPath,
		RemotePath: req.RemotePath,
		Enabled:    true,
		Status:     store.FolderIdle,
		Policy:     string(policyFromConflictMode(d.Settings.ConflictResolution)),
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.Engine.AddFolder(ctx, f); err != nil {
		return nil, err
	}
	return map[string]any{"folderId": f.ID}, nil
}

type folderIDRequest struct {
	FolderID string `json:"folderId"`
}

func (d Deps) handleRemoveSyncFolder(_ context.Context, data json.RawMessage) (any, error) {
	var req folderIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := d.Engine.RemoveFolder(req.FolderID); err != nil {
		return nil, err
	}
	return map[string]any{"folderId": req.FolderID}, nil
}

func (d Deps) handlePauseSync(_ context.Context, data json.RawMessage) (any, error) {
	var req folderIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := d.Engine.Pause(req.FolderID); err != nil {
		return nil, err
	}
	return map[string]any{"folderId": req.FolderID}, nil
}

func (d Deps) handleResumeSync(ctx context.Context, data json.RawMessage) (any, error) {
	var req folderIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := d.Engine.Resume(ctx, req.FolderID); err != nil {
		return nil, err
	}
	return map[string]any{"folderId": req.FolderID}, nil
}

type updateFolderRequest struct {
	FolderID           string `json:"folderId"`
	ConflictResolution string `json:"conflictResolution"`
}

func (d Deps) handleUpdateSyncFolder(_ context.Context, data json.RawMessage) (any, error) {
	var req updateFolderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	policy := string(policyFromConflictMode(req.ConflictResolution))
	if err := d.Store.UpdateFolder(req.FolderID, store.FolderUpdate{Policy: &policy}); err != nil {
		return nil, err
	}
	return map[string]any{"folderId": req.FolderID, "conflictResolution": req.ConflictResolution}, nil
}

func (d Deps) handleGetSyncState(_ context.Context, _ json.RawMessage) (any, error) {
	return d.Engine.State()
}

func (d Deps) handleGetFolders(_ context.Context, _ json.RawMessage) (any, error) {
	folders, err := d.Store.ListFolders()
	if err != nil {
		return nil, err
	}
	return map[string]any{"folders": folders}, nil
}

func (d Deps) handleGetConflicts(_ context.Context, _ json.RawMessage) (any, error) {
	folders, err := d.Store.ListFolders()
	if err != nil {
		return nil, err
	}
	var conflicts []*store.Conflict
	for _, f := range folders {
		pending, err := d.Store.PendingConflicts(f.ID)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, pending...)
	}
	return map[string]any{"conflicts": conflicts}, nil
}

type resolveConflictRequest struct {
	ConflictID string `json:"conflictId"`
	Resolution string `json:"resolution"`
}

func (d Deps) handleResolveConflict(ctx context.Context, data json.RawMessage) (any, error) {
	var req resolveConflictRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	folders, err := d.Store.ListFolders()
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		pending, err := d.Store.PendingConflicts(f.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range pending {
			if c.ID != req.ConflictID {
				continue
			}
			if err := d.resolveOne(ctx, f, c, store.Resolution(req.Resolution)); err != nil {
				return nil, err
			}
			return map[string]any{"conflictId": req.ConflictID, "resolution": req.Resolution}, nil
		}
	}
	return nil, fmt.Errorf("conflict not found: %s", req.ConflictID)
}

type resolveAllRequest struct {
	Resolution string `json:"resolution"`
}

func (d Deps) handleResolveAllConflicts(ctx context.Context, data json.RawMessage) (any, error) {
	var req resolveAllRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	folders, err := d.Store.ListFolders()
	if err != nil {
		return nil, err
	}

	resolved := 0
	for _, f := range folders {
		pending, err := d.Store.PendingConflicts(f.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range pending {
			if err := d.resolveOne(ctx, f, c, store.Resolution(req.Resolution)); err != nil {
				return nil, err
			}
			resolved++
		}
	}
	return map[string]any{"resolution": req.Resolution, "resolvedCount": resolved}, nil
}

// resolveOne performs the file operation a manual resolution choice implies,
// then marks the conflict row resolved. "local"/"remote"/"both" map onto the
// matching deterministic resolve.Policy; any other value, "manual"
// included, is rejected by policyFromResolution before a resolver is built.
func (d Deps) resolveOne(ctx context.Context, folder *store.Folder, c *store.Conflict, resolution store.Resolution) error {
	policy, err := policyFromResolution(resolution)
	if err != nil {
		return err
	}

	localPath := filepath.Join(folder.LocalPath, filepath.FromSlash(c.RelativePath))
	remotePath := strings.TrimRight(folder.RemotePath, "/") + "/" + c.RelativePath

	resolver := resolve.New(policy, d.Remote, nil)
	result, err := resolver.Resolve(ctx, localPath, remotePath, c.LocalModifiedAt, c.RemoteModifiedAt)
	if err != nil {
		return err
	}
	if err := d.Store.ResolveConflict(c.ID, result.Resolution); err != nil {
		return err
	}
	return resolve.SyncMetadata(d.Store, folder.ID, c.RelativePath, localPath, result)
}

func policyFromResolution(r store.Resolution) (resolve.Policy, error) {
	switch r {
	case store.ResolutionLocal:
		return resolve.PreferLocal, nil
	case store.ResolutionRemote:
		return resolve.PreferRemote, nil
	case store.ResolutionBoth:
		return resolve.KeepBoth, nil
	default:
		return "", fmt.Errorf("unsupported manual resolution: %q", r)
	}
}

// policyFromConflictMode maps the settings file's conflictResolution
// vocabulary onto a folder's resolve.Policy; "ask" defers to the manual
// callback installed on the engine.
func policyFromConflictMode(mode string) resolve.Policy {
	switch mode {
	case "ask":
		return resolve.Manual
	case string(resolve.PreferLocal):
		return resolve.PreferLocal
	case string(resolve.PreferRemote):
		return resolve.PreferRemote
	case string(resolve.KeepBoth):
		return resolve.KeepBoth
	default:
		return resolve.LastWriteWins
	}
}

func (d Deps) handleGetSettings(_ context.Context, _ json.RawMessage) (any, error) {
	return d.Settings, nil
}

func (d Deps) handleUpdateSettings(_ context.Context, data json.RawMessage) (any, error) {
	if err := json.Unmarshal(data, d.Settings); err != nil {
		return nil, err
	}
	if err := d.Settings.Validate(); err != nil {
		return nil, err
	}
	if err := d.Settings.Save(); err != nil {
		return nil, err
	}
	return d.Settings, nil
}
