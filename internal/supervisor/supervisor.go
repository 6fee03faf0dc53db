// Package supervisor wires the Sync Engine to the Command/Event Channel
// and owns the process's run loop: it starts the engine's periodic tick,
// forwards engine callbacks onto the output stream as unsolicited events,
// and drains stdin until the process is asked to shut down.
package supervisor

import (
	"context"
	"io"
	"log/slog"

	"github.com/foldersync/agent/internal/detect"
	"github.com/foldersync/agent/internal/protocol"
	"github.com/foldersync/agent/internal/store"
	"github.com/foldersync/agent/internal/sync"
)

// Supervisor owns the engine and the protocol server for the lifetime of
// one daemon process.
type Supervisor struct {
	engine *sync.Engine
	server *protocol.Server
}

// New wires the engine's status/change/error callbacks onto server as
// unsolicited events, per the spec's event table.
func New(engine *sync.Engine, server *protocol.Server) *Supervisor {
	s := &Supervisor{engine: engine, server: server}

	engine.SetStatusCallback(func(folderID string, status store.FolderStatus) {
		server.Emit("folder_status", map[string]any{
			"folderId": folderID,
			"status":   status,
		})
	})
	engine.SetChangeCallback(func(folderID string, change detect.DetectedChange) {
		server.Emit("file_synced", map[string]any{
			"folderId":     folderID,
			"relativePath": change.RelativePath,
			"origin":       change.Origin,
			"size":         change.Size,
		})
	})
	engine.SetErrorCallback(func(folderID, relPath string, err error) {
		server.Emit("sync_error", map[string]any{
			"folderId":     folderID,
			"relativePath": relPath,
			"error":        err.Error(),
		})
	})

	return s
}

// Run starts the engine's tick loop and blocks draining in until EOF or
// ctx cancellation, then stops the engine before returning.
func (s *Supervisor) Run(ctx context.Context, in io.Reader) error {
	s.engine.Start(ctx)
	defer s.engine.Stop()

	err := s.server.Run(ctx, in)
	slog.Info("supervisor: command channel closed")
	return err
}
