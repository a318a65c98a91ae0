// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the in-memory catalog of discovered tools, keyed by final
// (possibly renamed) name and indexed by owning server. It is safe for
// concurrent use: the discovery service writes, the generator and engine
// read. Writes for one server are applied atomically so readers never
// observe a half-updated server.
type Registry struct {
	mu sync.RWMutex

	// byName maps final tool name to its entry.
	byName map[string]*RegistryEntry

	// byServer maps server name to the set of final names it owns.
	byServer map[string]map[string]struct{}

	conflicts []ToolConflict
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*RegistryEntry),
		byServer: make(map[string]map[string]struct{}),
	}
}

// Add registers a tool and returns the final name it was stored under.
// An unused name is stored verbatim. A name already owned by a different
// server is disambiguated to "{server}_{name}" and the collision is recorded
// as a ToolConflict. Re-adding a tool from its owning server replaces it.
func (r *Registry) Add(tool Tool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(tool)
}

func (r *Registry) addLocked(tool Tool) string {
	finalName := tool.Name
	if existing, ok := r.byName[finalName]; ok && existing.ServerName != tool.ServerName {
		finalName = fmt.Sprintf("%s_%s", tool.ServerName, tool.Name)
		r.recordConflictLocked(tool.Name, existing.ServerName, tool.ServerName)
	}

	r.byName[finalName] = &RegistryEntry{
		FinalName:  finalName,
		Tool:       tool,
		ServerName: tool.ServerName,
	}
	names, ok := r.byServer[tool.ServerName]
	if !ok {
		names = make(map[string]struct{})
		r.byServer[tool.ServerName] = names
	}
	names[finalName] = struct{}{}

	return finalName
}

// recordConflictLocked records one collision per tool name and renamed
// server. Periodic rediscovery replays the same collision every cycle, and a
// replay must not grow the list.
func (r *Registry) recordConflictLocked(toolName, ownerServer, renamedServer string) {
	for _, c := range r.conflicts {
		if c.ToolName == toolName && len(c.Servers) == 2 && c.Servers[1] == renamedServer {
			return
		}
	}
	r.conflicts = append(r.conflicts, ToolConflict{
		ToolName:   toolName,
		Servers:    []string{ownerServer, renamedServer},
		Resolution: ConflictResolutionServerPrefix,
	})
}

// Get returns the entry stored under the final name, or false.
func (r *Registry) Get(finalName string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byName[finalName]
	if !ok {
		return RegistryEntry{}, false
	}
	return *entry, true
}

// List returns a snapshot of every entry, sorted by final name for stable
// iteration.
func (r *Registry) List() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]RegistryEntry, 0, len(r.byName))
	for _, entry := range r.byName {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FinalName < entries[j].FinalName })
	return entries
}

// ServerTools returns a snapshot of the entries owned by the named server.
func (r *Registry) ServerTools(serverName string) []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byServer[serverName]
	entries := make([]RegistryEntry, 0, len(names))
	for name := range names {
		if entry, ok := r.byName[name]; ok {
			entries = append(entries, *entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FinalName < entries[j].FinalName })
	return entries
}

// RemoveServerTools deletes every entry owned by the server and returns the
// removed count. Entries owned by other servers are untouched.
func (r *Registry) RemoveServerTools(serverName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeServerToolsLocked(serverName)
}

func (r *Registry) removeServerToolsLocked(serverName string) int {
	names, ok := r.byServer[serverName]
	if !ok {
		return 0
	}
	for name := range names {
		delete(r.byName, name)
	}
	delete(r.byServer, serverName)

	// Drop the conflicts this server's renamed tools produced. Records where
	// the server is the verbatim owner stay: the other server's rename is
	// still in effect until its own slice is replaced.
	kept := r.conflicts[:0]
	for _, c := range r.conflicts {
		if len(c.Servers) == 2 && c.Servers[1] == serverName {
			continue
		}
		kept = append(kept, c)
	}
	r.conflicts = kept

	return len(names)
}

// ReplaceServerTools atomically removes the server's current entries and adds
// the given tools, so concurrent readers never observe the server's catalog
// half-updated. It returns the final names the tools were stored under.
func (r *Registry) ReplaceServerTools(serverName string, tools []Tool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeServerToolsLocked(serverName)
	finalNames := make([]string, 0, len(tools))
	for _, tool := range tools {
		finalNames = append(finalNames, r.addLocked(tool))
	}
	return finalNames
}

// Conflicts returns a snapshot of every recorded name collision.
func (r *Registry) Conflicts() []ToolConflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conflicts := make([]ToolConflict, len(r.conflicts))
	copy(conflicts, r.conflicts)
	return conflicts
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
