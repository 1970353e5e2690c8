// Package lifecycle keeps the on-disk tool directory, the execution store's
// status records and the in-memory registry consistent. Tools can appear
// and disappear on disk outside the process (manual edits, sync, restore
// from backup); the reconciler notices and reacts instead of failing.
package lifecycle

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"neuroforge/internal/events"
	"neuroforge/internal/execstore"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

// Tool lifecycle statuses recorded in the execution store.
const (
	StatusActive   = "active"
	StatusDeleted  = "deleted"
	StatusArchived = "archived"
)

// Archive policy: tools deleted this long ago with fewer recorded uses are
// archived during reconciliation.
const (
	archiveAfter    = 90 * 24 * time.Hour
	archiveBelowUse = 10
)

// Deletion of a tool this reliable is worth a warning.
const (
	valuableRate = 0.85
	valuableUses = 20
	recentUse    = 7 * 24 * time.Hour
)

// Manager reconciles the tools directory with the stored lifecycle state.
type Manager struct {
	store    *execstore.Store
	registry *tools.Registry
	loader   tools.Loader
	bus      *events.Bus
	toolsDir string
}

// New creates a manager for toolsDir. loader instantiates tool sources when
// new files appear.
func New(store *execstore.Store, registry *tools.Registry, loader tools.Loader, bus *events.Bus, toolsDir string) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		loader:   loader,
		bus:      bus,
		toolsDir: toolsDir,
	}
}

// Change is one reconciliation finding.
type Change struct {
	ToolName string `json:"tool_name"`
	Kind     string `json:"kind"` // deleted, restored, new, archived
	Severity string `json:"severity,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Reconcile compares the tools on disk with the stored status records and
// resolves every difference: disk removals mark the tool deleted (with a
// warning when a reliable tool disappears), reappearing tools are restored
// and reloaded, unknown files are registered as new manual tools. Old
// little-used deletions are archived.
func (m *Manager) Reconcile() ([]Change, error) {
	onDisk, err := m.diskTools()
	if err != nil {
		return nil, err
	}
	records, err := m.store.StatusRecords()
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]execstore.StatusRecord, len(records))
	for _, r := range records {
		recorded[r.ToolName] = r
	}

	var changes []Change
	for name, record := range recorded {
		if onDisk[name] {
			continue
		}
		switch record.Status {
		case StatusDeleted:
			if change, ok := m.maybeArchive(name, record); ok {
				changes = append(changes, change)
			}
		case StatusArchived:
			// Stays archived.
		default:
			changes = append(changes, m.markDeleted(name))
		}
	}

	for name := range onDisk {
		record, known := recorded[name]
		switch {
		case !known:
			changes = append(changes, m.registerNew(name))
		case record.Status == StatusDeleted || record.Status == StatusArchived:
			changes = append(changes, m.restore(name))
		}
	}

	if len(changes) > 0 {
		logging.Lifecycle("reconciled %d tool changes", len(changes))
	}
	return changes, nil
}

// markDeleted records a disk removal. Deleting a reliable, well-used tool
// is a warning; a recently used one is informational; the rest are silent.
func (m *Manager) markDeleted(name string) Change {
	change := Change{ToolName: name, Kind: "deleted"}

	stats, err := m.store.ToolStatistics(name)
	if err == nil {
		switch {
		case stats.SuccessRate > valuableRate && stats.TotalCalls > valuableUses:
			change.Severity = "warning"
			change.Detail = "reliable tool removed from disk"
		case time.Since(stats.LastUsed) < recentUse:
			change.Severity = "info"
			change.Detail = "recently used tool removed from disk"
		}
	}

	if err := m.store.MarkToolStatus(name, StatusDeleted, change.Detail); err != nil {
		logging.Lifecycle("marking %s deleted: %v", name, err)
	}
	m.registry.Unregister(name)

	if change.Severity == "warning" {
		m.bus.Emit(events.Event{
			Type:    events.TypeToolAlert,
			Payload: map[string]any{"tool": name, "severity": "warning", "reason": change.Detail},
		})
	}
	logging.Lifecycle("tool %s deleted from disk (%s)", name, change.Severity)
	return change
}

// restore reactivates a tool whose files reappeared.
func (m *Manager) restore(name string) Change {
	if err := m.store.MarkToolStatus(name, StatusActive, "restored from disk"); err != nil {
		logging.Lifecycle("restoring %s: %v", name, err)
	}
	m.loadFromDisk(name)
	logging.Lifecycle("tool %s restored", name)
	return Change{ToolName: name, Kind: "restored"}
}

// registerNew records and loads a tool that appeared on disk without any
// history, treating it as manually installed.
func (m *Manager) registerNew(name string) Change {
	if err := m.store.MarkToolStatus(name, StatusActive, "manually added"); err != nil {
		logging.Lifecycle("registering new %s: %v", name, err)
	}
	m.loadFromDisk(name)
	logging.Lifecycle("new tool %s found on disk", name)
	return Change{ToolName: name, Kind: "new", Detail: "manually added"}
}

// maybeArchive archives a long-deleted, little-used tool.
func (m *Manager) maybeArchive(name string, record execstore.StatusRecord) (Change, bool) {
	if record.UpdatedAt.IsZero() || time.Since(record.UpdatedAt) < archiveAfter {
		return Change{}, false
	}
	stats, err := m.store.ToolStatistics(name)
	if err != nil || stats.TotalCalls >= archiveBelowUse {
		return Change{}, false
	}
	if err := m.store.MarkToolStatus(name, StatusArchived, "archived after long deletion"); err != nil {
		logging.Lifecycle("archiving %s: %v", name, err)
		return Change{}, false
	}
	logging.Lifecycle("tool %s archived", name)
	return Change{ToolName: name, Kind: "archived"}, true
}

// Refresh reloads every tool source in the directory into the registry.
// Used by periodic maintenance to pick up out-of-band edits.
func (m *Manager) Refresh() (int, error) {
	if m.loader == nil {
		return 0, nil
	}
	return m.registry.LoadFromDirectory(m.toolsDir, m.loader)
}

// loadFromDisk instantiates one tool's source and definition files into the
// registry. Failures are logged, never fatal.
func (m *Manager) loadFromDisk(name string) {
	if m.loader == nil {
		return
	}
	if _, err := m.registry.LoadFromDirectory(m.toolsDir, m.loader); err != nil {
		logging.Lifecycle("loading %s from %s: %v", name, m.toolsDir, err)
	}
}

// diskTools returns the tool names present as definition files on disk.
func (m *Manager) diskTools() (map[string]bool, error) {
	entries, err := os.ReadDir(m.toolsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	names := make(map[string]bool)
	for _, entry := range entries {
		base := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(base, ".json") {
			continue
		}
		name := strings.TrimSuffix(base, ".json")
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, "base") {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.toolsDir, name+".go")); err == nil {
			names[name] = true
		}
	}
	return names, nil
}
