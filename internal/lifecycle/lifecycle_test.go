package lifecycle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroforge/internal/events"
	"neuroforge/internal/execstore"
	"neuroforge/internal/tools"
)

const stubSource = `package forged

func Execute(params map[string]any) (string, error) {
	return "ok", nil
}
`

// stubLoader ignores the source and returns a fixed executor.
func stubLoader(string, tools.Definition) (tools.ExecuteFunc, error) {
	return func(context.Context, map[string]any) (any, error) { return "ok", nil }, nil
}

type fixture struct {
	manager  *Manager
	store    *execstore.Store
	registry *tools.Registry
	bus      *events.Bus
	toolsDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := execstore.New(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := tools.NewRegistry()
	bus := events.NewBus()
	toolsDir := t.TempDir()
	return &fixture{
		manager:  New(store, registry, stubLoader, bus, toolsDir),
		store:    store,
		registry: registry,
		bus:      bus,
		toolsDir: toolsDir,
	}
}

func (f *fixture) writeTool(t *testing.T, name string) {
	t.Helper()
	def := tools.Definition{Name: name, Description: "test tool"}
	data, err := json.Marshal(def)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.toolsDir, name+".json"), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.toolsDir, name+".go"), []byte(stubSource), 0644))
}

func (f *fixture) removeTool(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(f.toolsDir, name+".json")))
	require.NoError(t, os.Remove(filepath.Join(f.toolsDir, name+".go")))
}

func changeKinds(changes []Change) map[string]string {
	out := make(map[string]string, len(changes))
	for _, c := range changes {
		out[c.ToolName] = c.Kind
	}
	return out
}

func TestReconcileRegistersNewTools(t *testing.T) {
	f := newFixture(t)
	f.writeTool(t, "manual_tool")

	changes, err := f.manager.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"manual_tool": "new"}, changeKinds(changes))

	status, err := f.store.ToolStatus("manual_tool")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)
	assert.True(t, f.registry.Has("manual_tool"))

	// A second pass is quiet.
	changes, err = f.manager.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestReconcileMarksDeleted(t *testing.T) {
	f := newFixture(t)
	f.writeTool(t, "doomed_tool")
	_, err := f.manager.Reconcile()
	require.NoError(t, err)

	f.removeTool(t, "doomed_tool")
	changes, err := f.manager.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"doomed_tool": "deleted"}, changeKinds(changes))

	status, _ := f.store.ToolStatus("doomed_tool")
	assert.Equal(t, StatusDeleted, status)
	assert.False(t, f.registry.Has("doomed_tool"))
}

func TestReconcileWarnsOnValuableDeletion(t *testing.T) {
	f := newFixture(t)
	f.writeTool(t, "trusty_tool")
	_, err := f.manager.Reconcile()
	require.NoError(t, err)

	// 25 calls, 24 successful: above both the rate and usage bars.
	for i := 0; i < 25; i++ {
		execID, err := f.store.StoreExecution("g", "goal", "tool", true, "", 10, nil)
		require.NoError(t, err)
		require.NoError(t, f.store.StoreToolExecution(execID, "trusty_tool", nil, "out", i != 0, "", 10))
	}

	f.removeTool(t, "trusty_tool")
	changes, err := f.manager.Reconcile()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "warning", changes[0].Severity)

	alerts := f.bus.Events(events.Filter{Type: events.TypeToolAlert})
	require.Len(t, alerts, 1)
	assert.Equal(t, "trusty_tool", alerts[0].Payload["tool"])
}

func TestReconcileRestoresReappearedTool(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.MarkToolStatus("phoenix_tool", StatusDeleted, ""))

	f.writeTool(t, "phoenix_tool")
	changes, err := f.manager.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"phoenix_tool": "restored"}, changeKinds(changes))

	status, _ := f.store.ToolStatus("phoenix_tool")
	assert.Equal(t, StatusActive, status)
	assert.True(t, f.registry.Has("phoenix_tool"))
}

func TestReconcileLeavesArchivedAlone(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.MarkToolStatus("museum_tool", StatusArchived, ""))

	changes, err := f.manager.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, changes)

	status, _ := f.store.ToolStatus("museum_tool")
	assert.Equal(t, StatusArchived, status)
}

func TestReconcileSkipsRecentDeletionForArchive(t *testing.T) {
	f := newFixture(t)
	// Deleted just now: far inside the archive window.
	require.NoError(t, f.store.MarkToolStatus("fresh_delete", StatusDeleted, ""))

	changes, err := f.manager.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, changes)

	status, _ := f.store.ToolStatus("fresh_delete")
	assert.Equal(t, StatusDeleted, status)
}

func TestRefreshReloadsDirectory(t *testing.T) {
	f := newFixture(t)
	f.writeTool(t, "alpha_tool")
	f.writeTool(t, "beta_tool")

	n, err := f.manager.Refresh()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, f.registry.Has("alpha_tool"))
	assert.True(t, f.registry.Has("beta_tool"))
}

func TestRefreshWithoutLoader(t *testing.T) {
	f := newFixture(t)
	f.manager.loader = nil
	f.writeTool(t, "alpha_tool")

	n, err := f.manager.Refresh()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, f.registry.Has("alpha_tool"))
}

func TestDiskToolsSkipsPrivateAndUnpaired(t *testing.T) {
	f := newFixture(t)
	f.writeTool(t, "real_tool")
	f.writeTool(t, "_private_tool")
	f.writeTool(t, "base_template")

	// A definition without its source does not count.
	require.NoError(t, os.WriteFile(filepath.Join(f.toolsDir, "halfway.json"), []byte("{}"), 0644))

	onDisk, err := f.manager.diskTools()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"real_tool": true}, onDisk)
}

func TestDiskToolsMissingDir(t *testing.T) {
	f := newFixture(t)
	f.manager.toolsDir = filepath.Join(f.toolsDir, "does-not-exist")
	onDisk, err := f.manager.diskTools()
	require.NoError(t, err)
	assert.Empty(t, onDisk)
}

func TestRelevantEvents(t *testing.T) {
	assert.True(t, relevant(fsnotify.Event{Name: "weather.go", Op: fsnotify.Create}))
	assert.True(t, relevant(fsnotify.Event{Name: "weather.json", Op: fsnotify.Remove}))
	assert.True(t, relevant(fsnotify.Event{Name: "weather.go", Op: fsnotify.Write}))
	assert.False(t, relevant(fsnotify.Event{Name: "weather.go", Op: fsnotify.Chmod}))
	assert.False(t, relevant(fsnotify.Event{Name: "notes.txt", Op: fsnotify.Create}))
}
