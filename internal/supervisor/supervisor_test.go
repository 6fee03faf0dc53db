package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foldersync/agent/internal/config"
	"github.com/foldersync/agent/internal/protocol"
	"github.com/foldersync/agent/internal/remote"
	"github.com/foldersync/agent/internal/store"
	"github.com/foldersync/agent/internal/sync"
)

// TestRun_LoginAddFolderAndStatusEventFlow drives a full command line
// through the protocol server while the supervisor's callback wiring
// forwards the engine's resulting folder_status event.
func TestRun_LoginAddFolderAndStatusEventFlow(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := remote.NewFake()
	engine := sync.New(st, fake, nil, sync.Config{MaxConcurrentTransfers: 2, SyncInterval: time.Hour}, nil)

	var out bytes.Buffer
	srv := protocol.New(&out, nil)
	protocol.RegisterCommands(srv, protocol.Deps{Engine: engine, Store: st, Settings: config.New(), Remote: fake})

	sup := New(engine, srv)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi\n"), 0o644))

	lines := strings.Join([]string{
		`{"type":"login","id":1,"data":{"username":"alice","password":"secret"}}`,
		`{"type":"add_sync_folder","id":2,"data":{"localPath":"` + filepath.ToSlash(dir) + `","remotePath":"/remote/A"}}`,
	}, "\n") + "\n"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sup.Run(ctx, strings.NewReader(lines)))

	// Give the folder's asynchronously-triggered reconciliation a moment
	// to run and emit its status events.
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"folder_status"`)
	}, time.Second, 10*time.Millisecond)

	var sawIdle bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var resp map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		if resp["type"] == "folder_status" {
			data := resp["data"].(map[string]any)
			if data["status"] == string(store.FolderIdle) {
				sawIdle = true
			}
		}
	}
	require.True(t, sawIdle, "expected at least one folder_status idle event, got: %s", out.String())
}
