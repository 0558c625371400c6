package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modherr"
	"github.com/nmxmxh/inos_v1/pkg/modhost/param"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
	"github.com/nmxmxh/inos_v1/pkg/modhost/version"
)

// NamespaceEntry tracks how many exports live in a namespace and how many
// modules have imported it.
type NamespaceEntry struct {
	SymbolCount    int
	ReferenceCount int
}

// moduleEntry is the registry's own bookkeeping for a live module: the
// strong reference to its Info. The dependency graph (edges) is keyed by
// module name, so no separate node id is stored; Info itself never needs
// to know it is in the graph.
type moduleEntry struct {
	info *Info
}

// Registry is ModuleRegistry: the single-mutex, global,
// live record of loaded modules, their exported symbols, namespace
// refcounts, and dependency graph.
type Registry struct {
	mu sync.Mutex

	modules    map[string]*moduleEntry
	symbols    map[symbol.Key]symbol.Entry
	namespaces map[string]*NamespaceEntry

	// edges[a][b] exists iff a depends on b (a -> b, "a requires b").
	edges map[string]map[string]struct{}

	isLoading bool

	log *slog.Logger
}

// New builds an empty Registry. A nil logger falls back to slog.Default(),
// matching the optional-logger convention used throughout
// kernel/core/mesh/optimization in kernel/core/mesh.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		modules:    make(map[string]*moduleEntry),
		symbols:    make(map[symbol.Key]symbol.Entry),
		namespaces: make(map[string]*NamespaceEntry),
		edges:      make(map[string]map[string]struct{}),
		log:        logger,
	}
}

// Lock/Unlock expose the registry's single mutex so the orchestrator can
// hold it across the registry -> loading set -> module info lock order,
// rather than hiding it behind higher-level methods that would make nested
// locking impossible to express.
func (r *Registry) Lock()   { r.mu.Lock() }
func (r *Registry) Unlock() { r.mu.Unlock() }

func (r *Registry) IsLoading() bool    { return r.isLoading }
func (r *Registry) SetLoading(v bool)  { r.isLoading = v }

// HasModule reports whether name is currently live. Safe to call unlocked;
// takes its own lock.
func (r *Registry) HasModule(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.modules[name]
	return ok
}

// FindModule returns the live Info for name.
func (r *Registry) FindModule(name string) (*Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.modules[name]
	if !ok {
		return nil, false
	}
	return e.info, true
}

// FindSymbol returns the registry's symbol-table entry for key.
func (r *Registry) FindSymbol(key symbol.Key) (symbol.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.symbols[key]
	return e, ok
}

// FindModuleBySymbol resolves (name, ns) to the module exporting it,
// returning modherr.NotFound if missing and modherr.NotFound if the
// provider's version is not compatible with required.
func (r *Registry) FindModuleBySymbol(name, ns string, required version.Version) (*Info, error) {
	r.mu.Lock()
	e, ok := r.symbols[symbol.Key{Name: name, Namespace: ns}]
	if !ok {
		r.mu.Unlock()
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("no symbol (%q,%q)", name, ns))
	}
	if !version.Compatible(e.Version, required) {
		r.mu.Unlock()
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("symbol (%q,%q) version %s incompatible with required %s", name, ns, e.Version, required))
	}
	owner := e.Owner
	r.mu.Unlock()
	info, ok := r.FindModule(owner)
	if !ok {
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("symbol (%q,%q) owner %q no longer registered", name, ns, owner))
	}
	return info, nil
}

// NamespaceExists reports whether name has a live namespace entry.
func (r *Registry) NamespaceExists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.namespaces[name]
	return ok
}

// reachable reports whether, starting from `from`, `to` can be reached by
// following edges (from -> ... -> to). Caller must hold r.mu.
func (r *Registry) reachable(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range r.edges[n] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// addEdgeLocked adds a -> b, rejecting it with modherr.Cycle if doing so
// would make the graph cyclic. Caller must hold r.mu.
func (r *Registry) addEdgeLocked(a, b string) error {
	if r.reachable(b, a) {
		return modherr.New(modherr.Cycle, fmt.Sprintf("edge %s -> %s would create a cycle", a, b))
	}
	if r.edges[a] == nil {
		r.edges[a] = make(map[string]struct{})
	}
	r.edges[a][b] = struct{}{}
	return nil
}

func (r *Registry) removeEdgeLocked(a, b string) {
	if m, ok := r.edges[a]; ok {
		delete(m, b)
	}
}

func (r *Registry) hasInEdgesLocked(name string) bool {
	for _, m := range r.edges {
		if _, ok := m[name]; ok {
			return true
		}
	}
	return false
}

// Add commits info into the registry, all-or-nothing: any failure rolls
// back every mutation this call made.
func (r *Registry) Add(info *Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := info.Name()
	if _, dup := r.modules[name]; dup {
		return modherr.New(modherr.Duplicate, fmt.Sprintf("module %q already registered", name))
	}

	exportKeys := info.ExportedSymbols()
	for _, key := range exportKeys {
		if _, dup := r.symbols[key]; dup {
			return modherr.New(modherr.Duplicate, fmt.Sprintf("symbol (%q,%q) already registered", key.Name, key.Namespace))
		}
	}

	// Namespaces imported must already exist (an earlier module must have
	// exported into them); bump their reference_count.
	namespacesTouched := []string{}
	for ns := range namespacesIncludedOf(info) {
		if _, ok := r.namespaces[ns]; !ok {
			r.rollbackNamespaceRefs(namespacesTouched)
			return modherr.New(modherr.NotFound, fmt.Sprintf("namespace %q does not exist", ns))
		}
		r.namespaces[ns].ReferenceCount++
		namespacesTouched = append(namespacesTouched, ns)
	}

	addedEdges := [][2]string{}
	rollbackEdges := func() {
		for _, e := range addedEdges {
			r.removeEdgeLocked(e[0], e[1])
		}
	}

	for _, depName := range info.Dependencies() {
		if _, ok := r.modules[depName]; !ok {
			rollbackEdges()
			r.rollbackNamespaceRefs(namespacesTouched)
			return modherr.New(modherr.NotFound, fmt.Sprintf("dependency %q not registered", depName))
		}
		if err := r.addEdgeLocked(name, depName); err != nil {
			rollbackEdges()
			r.rollbackNamespaceRefs(namespacesTouched)
			return err
		}
		addedEdges = append(addedEdges, [2]string{name, depName})
	}

	if rec := exportRecordOf(info); rec != nil {
		for _, m := range rec.Modifiers {
			if m.Kind != export.ModifierDependency {
				continue
			}
			depName := m.DependencyModuleName
			if _, ok := r.modules[depName]; !ok {
				rollbackEdges()
				r.rollbackNamespaceRefs(namespacesTouched)
				return modherr.New(modherr.NotFound, fmt.Sprintf("dependency modifier names %q, not registered", depName))
			}
			if err := r.addEdgeLocked(name, depName); err != nil {
				rollbackEdges()
				r.rollbackNamespaceRefs(namespacesTouched)
				return err
			}
			addedEdges = append(addedEdges, [2]string{name, depName})
		}
	}

	// For every export with a namespace not yet present, create the entry.
	newNamespaces := []string{}
	for _, key := range exportKeys {
		if key.Namespace == "" {
			continue
		}
		if _, ok := r.namespaces[key.Namespace]; !ok {
			r.namespaces[key.Namespace] = &NamespaceEntry{}
			newNamespaces = append(newNamespaces, key.Namespace)
		}
	}

	for _, key := range exportKeys {
		es, _ := info.ExportedSymbol(key)
		r.symbols[key] = symbol.Entry{Version: es.Version, Owner: name}
		if key.Namespace != "" {
			r.namespaces[key.Namespace].SymbolCount++
		}
	}

	r.modules[name] = &moduleEntry{info: info}
	r.log.Debug("module registered", "name", name, "exports", len(exportKeys))
	return nil
}

func (r *Registry) rollbackNamespaceRefs(touched []string) {
	for _, ns := range touched {
		if e, ok := r.namespaces[ns]; ok {
			e.ReferenceCount--
			if e.ReferenceCount <= 0 && e.SymbolCount <= 0 {
				delete(r.namespaces, ns)
			}
		}
	}
}

// CanRemove reports whether info may currently be removed: no in-edges (no
// one depends on it), no exported symbol locked, and an unload lock count
// of zero.
func (r *Registry) CanRemove(info *Info) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canRemoveLocked(info)
}

func (r *Registry) canRemoveLocked(info *Info) bool {
	if info.Type() == Pseudo {
		// Pseudo modules were never linked as a dependency target, so they
		// trivially have no in-edges; they are still subject to the
		// lock/unload-count checks.
	}
	if r.hasInEdgesLocked(info.Name()) {
		return false
	}
	if info.AnyExportLocked() {
		return false
	}
	if info.UnloadLockCount() != 0 {
		return false
	}
	return true
}

// Remove removes info from the registry. Does not detach info's inner
// state; that is the orchestrator's job
// (unload calls Remove then Info.Detach).
func (r *Registry) Remove(info *Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(info)
}

func (r *Registry) removeLocked(info *Info) error {
	name := info.Name()
	if _, ok := r.modules[name]; !ok {
		return modherr.New(modherr.NotFound, fmt.Sprintf("module %q not registered", name))
	}
	if !r.canRemoveLocked(info) {
		return modherr.New(modherr.Busy, fmt.Sprintf("module %q is still in use", name))
	}

	exportKeys := info.ExportedSymbols()
	namespacesToCheck := map[string]struct{}{}
	for _, key := range exportKeys {
		delete(r.symbols, key)
		if key.Namespace != "" {
			if ns, ok := r.namespaces[key.Namespace]; ok {
				ns.SymbolCount--
				namespacesToCheck[key.Namespace] = struct{}{}
			}
		}
	}

	for ns := range namespacesIncludedOf(info) {
		if e, ok := r.namespaces[ns]; ok {
			e.ReferenceCount--
			namespacesToCheck[ns] = struct{}{}
		}
	}

	// A namespace left with a nonzero reference count but zero symbols would
	// mean some other module still imports from it after its last exporter
	// is gone; roll back instead, since the removed module is still
	// effectively in use.
	for ns := range namespacesToCheck {
		e := r.namespaces[ns]
		if e != nil && e.ReferenceCount > 0 && e.SymbolCount == 0 {
			// Roll back everything this call did and fail.
			for _, key := range exportKeys {
				es, _ := info.ExportedSymbol(key)
				r.symbols[key] = symbol.Entry{Version: es.Version, Owner: name}
				if key.Namespace != "" {
					r.namespaces[key.Namespace].SymbolCount++
				}
			}
			for rns := range namespacesIncludedOf(info) {
				if re, ok := r.namespaces[rns]; ok {
					re.ReferenceCount++
				}
			}
			return modherr.New(modherr.Busy, fmt.Sprintf("namespace %q would be left referenced with no symbols", ns))
		}
	}

	for ns := range namespacesToCheck {
		if e := r.namespaces[ns]; e != nil && e.ReferenceCount <= 0 && e.SymbolCount <= 0 {
			delete(r.namespaces, ns)
		}
	}

	for depName := range r.edges[name] {
		_ = depName
	}
	delete(r.edges, name)
	for _, m := range r.edges {
		delete(m, name)
	}

	delete(r.modules, name)
	r.log.Debug("module removed", "name", name)
	return nil
}

// Link adds a dynamic dependency a -> b at runtime, outside the
// construction-time dependency graph.
func (r *Registry) Link(a, b *Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.Type() == Pseudo {
		return modherr.New(modherr.PermissionDenied, "cannot depend on a pseudo module")
	}
	if _, ok := a.Dependency(b.Name()); ok {
		return modherr.New(modherr.Duplicate, fmt.Sprintf("%q already depends on %q", a.Name(), b.Name()))
	}
	if err := r.addEdgeLocked(a.Name(), b.Name()); err != nil {
		return err
	}
	a.AddDependency(b.Name(), b, false)
	return nil
}

// Unlink removes a dynamic dependency a -> b added by Link; it rejects a
// link that was established statically at construction time.
func (r *Registry) Unlink(a, b *Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dep, ok := a.Dependency(b.Name())
	if !ok {
		return modherr.New(modherr.NotFound, fmt.Sprintf("%q does not depend on %q", a.Name(), b.Name()))
	}
	if dep.Static {
		return modherr.New(modherr.PermissionDenied, "cannot unlink a static dependency")
	}
	r.removeEdgeLocked(a.Name(), b.Name())
	a.RemoveDependency(b.Name())
	return nil
}

// AcquireNamespace increments ns's reference_count on behalf of module,
// also recording the inclusion on module's own Info (used outside the
// construction path, e.g. a Pseudo module opting into a namespace to query
// symbols from it).
func (r *Registry) AcquireNamespace(module *Info, ns string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.namespaces[ns]
	if !ok {
		return modherr.New(modherr.NotFound, fmt.Sprintf("namespace %q does not exist", ns))
	}
	e.ReferenceCount++
	module.AddNamespaceIncluded(ns, false)
	return nil
}

// ReleaseNamespace is the paired decrement for AcquireNamespace.
func (r *Registry) ReleaseNamespace(module *Info, ns string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.namespaces[ns]
	if !ok {
		return modherr.New(modherr.NotFound, fmt.Sprintf("namespace %q does not exist", ns))
	}
	e.ReferenceCount--
	if e.ReferenceCount <= 0 && e.SymbolCount <= 0 {
		delete(r.namespaces, ns)
	}
	return nil
}

// QueryParam resolves moduleName's parameter named paramName.
func (r *Registry) QueryParam(moduleName, paramName string) (*param.Cell, error) {
	info, ok := r.FindModule(moduleName)
	if !ok {
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("module %q not registered", moduleName))
	}
	cell, ok := info.Parameter(paramName)
	if !ok {
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("module %q has no parameter %q", moduleName, paramName))
	}
	return cell, nil
}

// GetParam reads moduleName's paramName on behalf of caller, enforcing
// ParamCell's access gates.
func (r *Registry) GetParam(caller *Info, moduleName, paramName string) (uint64, export.ParamType, error) {
	cell, err := r.QueryParam(moduleName, paramName)
	if err != nil {
		return 0, 0, err
	}
	if !cell.CanRead(caller) {
		return 0, 0, modherr.New(modherr.PermissionDenied, fmt.Sprintf("caller may not read %s.%s", moduleName, paramName))
	}
	v, t := cell.Read()
	return v, t, nil
}

// SetParam writes moduleName's paramName on behalf of caller.
func (r *Registry) SetParam(caller *Info, moduleName, paramName string, value uint64, typ export.ParamType) error {
	cell, err := r.QueryParam(moduleName, paramName)
	if err != nil {
		return err
	}
	if !cell.CanWrite(caller) {
		return modherr.New(modherr.PermissionDenied, fmt.Sprintf("caller may not write %s.%s", moduleName, paramName))
	}
	if !cell.Write(value, typ) {
		return modherr.New(modherr.TypeMismatch, fmt.Sprintf("%s.%s is not type %v", moduleName, paramName, typ))
	}
	return nil
}

// LoadSymbol resolves (name,ns) to its provider, checks that caller depends
// on the provider and (if ns is non-global) has that namespace included,
// and on success locks and returns the raw pointer. A module is never its own dependency: if caller == provider this returns modherr.NotFound.
func (r *Registry) LoadSymbol(caller *Info, name, ns string, required version.Version) (any, error) {
	key := symbol.Key{Name: name, Namespace: ns}

	r.mu.Lock()
	entry, ok := r.symbols[key]
	if !ok {
		r.mu.Unlock()
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("no symbol (%q,%q)", name, ns))
	}
	if entry.Owner == caller.Name() {
		r.mu.Unlock()
		return nil, modherr.New(modherr.NotFound, "a module is not its own dependency")
	}
	if !version.Compatible(entry.Version, required) {
		r.mu.Unlock()
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("symbol (%q,%q) version %s incompatible with required %s", name, ns, entry.Version, required))
	}
	providerEntry, ok := r.modules[entry.Owner]
	r.mu.Unlock()
	if !ok {
		return nil, modherr.New(modherr.NotFound, fmt.Sprintf("provider %q no longer registered", entry.Owner))
	}

	if _, ok := caller.Dependency(entry.Owner); !ok {
		return nil, modherr.New(modherr.PermissionDenied, fmt.Sprintf("%q does not depend on %q", caller.Name(), entry.Owner))
	}
	if ns != "" && !caller.HasNamespaceIncluded(ns) {
		return nil, modherr.New(modherr.PermissionDenied, fmt.Sprintf("%q has not included namespace %q", caller.Name(), ns))
	}

	return providerEntry.info.LockExport(key)
}

// ResolveImportForBuild looks up (name,ns) and locks the provider's export
// on behalf of a module still under construction,
// before that module has an Info of its own to check dependency/namespace
// preconditions against -- those preconditions are what step 5 is busy
// establishing. The resolver has already guaranteed the import is
// satisfied by a live, compatible registry entry by the time the builder
// runs (modules commit in dependency order), so this only re-validates the
// version and performs the lock.
func (r *Registry) ResolveImportForBuild(name, ns string, required version.Version) (provider *Info, rawPtr any, err error) {
	key := symbol.Key{Name: name, Namespace: ns}

	r.mu.Lock()
	entry, ok := r.symbols[key]
	if !ok {
		r.mu.Unlock()
		return nil, nil, modherr.New(modherr.NotFound, fmt.Sprintf("no symbol (%q,%q)", name, ns))
	}
	if !version.Compatible(entry.Version, required) {
		r.mu.Unlock()
		return nil, nil, modherr.New(modherr.NotFound, fmt.Sprintf("symbol (%q,%q) version %s incompatible with required %s", name, ns, entry.Version, required))
	}
	providerEntry, ok := r.modules[entry.Owner]
	r.mu.Unlock()
	if !ok {
		return nil, nil, modherr.New(modherr.NotFound, fmt.Sprintf("provider %q no longer registered", entry.Owner))
	}

	raw, err := providerEntry.info.LockExport(key)
	if err != nil {
		return nil, nil, err
	}
	return providerEntry.info, raw, nil
}

// ReleaseSymbol is the paired unlock for LoadSymbol's lock increment.
func (r *Registry) ReleaseSymbol(providerName, name, ns string) error {
	info, ok := r.FindModule(providerName)
	if !ok {
		return modherr.New(modherr.NotFound, fmt.Sprintf("module %q not registered", providerName))
	}
	return info.UnlockExport(symbol.Key{Name: name, Namespace: ns})
}

// CleanupLoose repeatedly removes external (no-incoming-edge), removable,
// Regular modules until none remain. Pseudo
// modules are never swept by this pass.
func (r *Registry) CleanupLoose() []*Info {
	var removed []*Info
	for {
		r.mu.Lock()
		var victim *Info
		for name, e := range r.modules {
			if e.info.Type() != Regular {
				continue
			}
			if r.hasInEdgesLocked(name) {
				continue
			}
			if !r.canRemoveLocked(e.info) {
				continue
			}
			victim = e.info
			break
		}
		if victim == nil {
			r.mu.Unlock()
			return removed
		}
		_ = r.removeLocked(victim)
		r.mu.Unlock()
		removed = append(removed, victim)
	}
}

// Snapshot is a read-only, point-in-time view of the registry's
// modules/symbols/namespaces, used by cmd/modhostd and pkg/meshannounce.
type Snapshot struct {
	Modules    []string
	Symbols    map[symbol.Key]symbol.Entry
	Namespaces map[string]NamespaceEntry
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Symbols:    make(map[symbol.Key]symbol.Entry, len(r.symbols)),
		Namespaces: make(map[string]NamespaceEntry, len(r.namespaces)),
	}
	for name := range r.modules {
		s.Modules = append(s.Modules, name)
	}
	for k, v := range r.symbols {
		s.Symbols[k] = v
	}
	for k, v := range r.namespaces {
		s.Namespaces[k] = *v
	}
	return s
}

// namespacesIncludedOf and exportRecordOf reach into Info without exposing
// its maps publicly; kept in this file since only Registry needs them (the
// builder populates Info through its own exported setters instead).
func namespacesIncludedOf(info *Info) map[string]NamespaceInclusion {
	info.mu.Lock()
	defer info.mu.Unlock()
	out := make(map[string]NamespaceInclusion, len(info.namespacesIncluded))
	for k, v := range info.namespacesIncluded {
		out[k] = v
	}
	return out
}

func exportRecordOf(info *Info) *export.ExportRecord {
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.exportRecord
}
