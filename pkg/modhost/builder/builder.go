// Package builder implements ModuleBuilder: it turns one
// resolved PendingModule into a live, registry-ready ModuleInfo plus its
// four instance tables.
package builder

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/loadingset"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modherr"
	"github.com/nmxmxh/inos_v1/pkg/modhost/param"
	"github.com/nmxmxh/inos_v1/pkg/modhost/registry"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
)

// Instance is a struct-of-arrays view of a built module: four
// read-only-after-construction tables indexed by declaration order.
type Instance struct {
	Info *registry.Info

	Parameters []*param.Cell
	Resources  []string // absolute, resolved paths
	Imports    []any    // raw pointers into providers' exports
	Exports    []any    // raw pointers into this module's own exports
}

// lockedImport records an import resolution so Build can roll it back (by
// releasing the lock it took) if a later step fails.
type lockedImport struct {
	provider *registry.Info
	key      symbol.Key
}

// constructedExport records a successfully-built dynamic export so Build
// can tear it down, in reverse order, if a later dynamic export fails.
type constructedExport struct {
	rawPtr     any
	destructor export.DynamicDestructor
}

// Build constructs a live module instance from pm's validated ExportRecord
//. reg must already contain every provider pm
// imports from (the caller -- the orchestrator -- resolves modules in
// dependency order, so this always holds). releaseLocks/reacquireLocks let
// the caller drop the registry/set/info locks it holds across the
// constructor invocation (step 6) and take them back afterward; both may be
// nil if the caller holds no such locks (e.g. in a unit test building a
// module directly against a registry with no orchestrator around it).
// paramBacking, if non-nil, is consulted once per ParameterDecl to obtain
// the Backing its Cell should use instead of a private atomic.Uint64 (see
// pkg/sabmem); a nil return from it falls back to the default too.
//
// On any failure, every resource step 1-7 allocated is released in reverse
// order, the record's modifier-driven destructors and dependency
// back-references are released via export.ReleaseRecord, and the error is
// returned; the caller is expected to mark the pending module Error.
func Build(pm *loadingset.PendingModule, set *loadingset.Set, reg *registry.Registry, releaseLocks, reacquireLocks func(), paramBacking func(ownerName string, decl export.ParameterDecl) param.Backing) (*registry.Info, *Instance, error) {
	rec := pm.ExportRecord
	if rec == nil {
		return nil, nil, modherr.New(modherr.InvalidArgument, "pending module has no export record")
	}

	var handleDir string
	if pm.HandleRef != nil {
		handleDir = pm.HandleRef.Dir()
	}

	// Step 1: allocate the ModuleInfo, lifecycle fields from record metadata.
	info := registry.NewRegular(pm.Name, rec, pm.HandleRef)

	inst := &Instance{Info: info}

	var lockedImports []lockedImport
	var constructedExports []constructedExport
	var state any
	constructed := false

	rollback := func() {
		for i := len(constructedExports) - 1; i >= 0; i-- {
			ce := constructedExports[i]
			if ce.destructor != nil {
				ce.destructor(ce.rawPtr)
			}
		}
		if constructed && rec.Destructor != nil {
			rec.Destructor(inst, state)
		}
		for i := len(lockedImports) - 1; i >= 0; i-- {
			li := lockedImports[i]
			_ = li.provider.UnlockExport(li.key)
		}
		export.ReleaseRecord(rec)
	}

	// Step 2: parameter table.
	for _, decl := range rec.Parameters {
		var cell *param.Cell
		if backing := backingFor(paramBacking, pm.Name, decl); backing != nil {
			cell = param.NewWithBacking(pm.Name, decl, backing)
		} else {
			cell = param.New(pm.Name, decl)
		}
		info.AddParameter(decl.Name, cell)
		inst.Parameters = append(inst.Parameters, cell)
	}

	// Step 3: resource table -- join onto the binary's directory, guarding
	// against a path that escapes it.
	for _, res := range rec.Resources {
		abs, err := resolveResourcePath(handleDir, res.Path)
		if err != nil {
			rollback()
			return nil, nil, fmt.Errorf("module %q: resource %q: %w", pm.Name, res.Path, err)
		}
		inst.Resources = append(inst.Resources, abs)
	}

	// Step 4: namespace imports -- must already exist in the registry.
	for _, ni := range rec.NamespaceImports {
		if !reg.NamespaceExists(ni.Name) {
			rollback()
			return nil, nil, modherr.New(modherr.NotFound, fmt.Sprintf("module %q: namespace %q does not exist", pm.Name, ni.Name))
		}
		info.AddNamespaceIncluded(ni.Name, true)
	}

	// Step 5: symbol imports -- resolve and lock each provider's export,
	// record the dependency as static.
	for _, si := range rec.SymbolImports {
		provider, raw, err := reg.ResolveImportForBuild(si.Name, si.Namespace, si.Version)
		if err != nil {
			rollback()
			return nil, nil, fmt.Errorf("module %q: import (%q,%q): %w", pm.Name, si.Name, si.Namespace, err)
		}
		lockedImports = append(lockedImports, lockedImport{provider: provider, key: symbol.Key{Name: si.Name, Namespace: si.Namespace}})
		info.AddDependency(provider.Name(), provider, true)
		inst.Imports = append(inst.Imports, raw)
	}

	// Step 6: constructor, re-entrant: release every lock the caller holds,
	// invoke it, reacquire. The constructor may append more modules to set
	// via its own append_freestanding/append_from_binary methods.
	if rec.Constructor != nil {
		if releaseLocks != nil {
			releaseLocks()
		}
		var cerr error
		state, cerr = rec.Constructor(inst, set)
		if reacquireLocks != nil {
			reacquireLocks()
		}
		if cerr != nil {
			rollback()
			return nil, nil, fmt.Errorf("module %q: constructor failed: %w", pm.Name, cerr)
		}
		constructed = true
	}
	info.SetConstructed(inst, state)

	// Step 7: exports, static then dynamic; any dynamic failure rolls back
	// already-constructed dynamic exports (in reverse) and the whole module.
	for _, ex := range rec.Exports {
		key := symbol.Key{Name: ex.Name, Namespace: ex.Namespace}
		switch ex.Kind {
		case export.ExportStatic:
			es := &registry.ExportedSymbol{Version: ex.Version, RawPtr: ex.Pointer}
			info.AddExportedSymbol(key, es)
			inst.Exports = append(inst.Exports, ex.Pointer)
		case export.ExportDynamic:
			raw, err := ex.Constructor(inst)
			if err != nil {
				rollback()
				return nil, nil, fmt.Errorf("module %q: dynamic export (%q,%q): %w", pm.Name, ex.Name, ex.Namespace, err)
			}
			constructedExports = append(constructedExports, constructedExport{rawPtr: raw, destructor: ex.Destructor})
			es := &registry.ExportedSymbol{Version: ex.Version, RawPtr: raw, DynDestructor: ex.Destructor}
			info.AddExportedSymbol(key, es)
			inst.Exports = append(inst.Exports, raw)
		}
	}

	// Step 8: hand off to the registry commit step (the orchestrator calls
	// reg.Add(info) once Build returns).
	return info, inst, nil
}

// backingFor calls paramBacking if set, tolerating a nil function (no
// custom backing configured) the same as a nil result from it.
func backingFor(paramBacking func(string, export.ParameterDecl) param.Backing, ownerName string, decl export.ParameterDecl) param.Backing {
	if paramBacking == nil {
		return nil
	}
	return paramBacking(ownerName, decl)
}

// resolveResourcePath joins rel onto dir, rejecting a leading separator and
// any ".." segment that would escape dir.
func resolveResourcePath(dir, rel string) (string, error) {
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return "", modherr.New(modherr.InvalidArgument, "resource path must not begin with a separator")
	}
	joined := filepath.Join(dir, rel)
	cleanDir := filepath.Clean(dir)
	rel2, err := filepath.Rel(cleanDir, joined)
	if err != nil || strings.HasPrefix(rel2, "..") {
		return "", modherr.New(modherr.InvalidArgument, "resource path escapes binary directory")
	}
	return joined, nil
}
