// Package registry implements ModuleInfo and ModuleRegistry: the live,
// process-wide record of loaded modules, their exported symbols, included
// namespaces, and the dependency graph between them.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/handle"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modherr"
	"github.com/nmxmxh/inos_v1/pkg/modhost/param"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
	"github.com/nmxmxh/inos_v1/pkg/modhost/version"
)

// Type distinguishes a Regular module (constructed from a binary's
// ExportRecord) from a Pseudo one (a synthetic identity a host uses to
// query symbols; cannot be depended on).
type Type int

const (
	Regular Type = iota
	Pseudo
)

// ExportedSymbol is one entry of a module's exported_symbols map: the version advertised, the raw backing value, the
// destructor for a dynamic export (nil for static ones), and how many
// importers currently hold it locked.
type ExportedSymbol struct {
	Version       version.Version
	RawPtr        any
	DynDestructor export.DynamicDestructor
	LockCount     int64
}

// NamespaceInclusion records whether a module's namespace membership was
// established statically (at construction, via a NamespaceImport) or
// dynamically (Registry.AcquireNamespace records Static false), mirroring
// DependencyLink's Static flag.
type NamespaceInclusion struct {
	Static bool
}

// DependencyLink is one entry of a module's dependency map: a strong
// reference to the provider's Info plus whether the link was established
// statically (via an import, at construction) or dynamically (via Link).
type DependencyLink struct {
	Info   *Info
	Static bool
}

// Info is ModuleInfo: a shared, mutex-protected per-instance
// record. Its fields are only ever touched with mu held, modelling the
// Live/Detached tagged union the design notes call for: once
// detached is true every inner map has been cleared and every further
// operation must fail with modherr.Detached.
type Info struct {
	mu sync.Mutex

	name        string
	description string
	author      string
	license     string
	modulePath  string
	typ         Type

	handleRef *handle.Handle

	exportedSymbols    map[symbol.Key]*ExportedSymbol
	parameters         map[string]*param.Cell
	namespacesIncluded map[string]NamespaceInclusion
	dependencies       map[string]*DependencyLink

	unloadLockCount int64

	exportRecord *export.ExportRecord // set only for Regular modules

	instance any // the opaque "instance" handle passed to lifecycle hooks
	state    any // constructor-returned opaque state, passed to destructor

	detached bool

	strongRefcount atomic.Int64
}

// NewRegular builds a live Info for a module constructed from rec.
func NewRegular(name string, rec *export.ExportRecord, h *handle.Handle) *Info {
	info := &Info{
		name:               name,
		exportedSymbols:    make(map[symbol.Key]*ExportedSymbol),
		parameters:         make(map[string]*param.Cell),
		namespacesIncluded: make(map[string]NamespaceInclusion),
		dependencies:       make(map[string]*DependencyLink),
		typ:                Regular,
		exportRecord:       rec,
		handleRef:          h,
	}
	if rec != nil {
		info.description = rec.Description
		info.author = rec.Author
		info.license = rec.License
	}
	info.strongRefcount.Store(1)
	return info
}

// NewPseudo builds a synthetic identity with no exports/params/deps that a
// host can use to query symbols. Pseudo modules cannot be linked as a
// dependency target (enforced by Registry.Link).
func NewPseudo(name string) *Info {
	info := &Info{
		name:               name,
		exportedSymbols:    make(map[symbol.Key]*ExportedSymbol),
		parameters:         make(map[string]*param.Cell),
		namespacesIncluded: make(map[string]NamespaceInclusion),
		dependencies:       make(map[string]*DependencyLink),
		typ:                Pseudo,
	}
	info.strongRefcount.Store(1)
	return info
}

func (i *Info) Name() string { return i.name }
func (i *Info) Type() Type   { return i.typ }
func (i *Info) IsPseudo() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.typ == Pseudo
}

// DependsOn reports whether this module has provider in its dependency map,
// satisfying param.CallerInfo for ParamCell's access gates.
func (i *Info) DependsOn(provider string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.dependencies[provider]
	return ok
}

// Retain bumps the strong refcount; paired with Release.
func (i *Info) Retain() { i.strongRefcount.Add(1) }

// Release drops the strong refcount, returning true if it reached zero.
// Dropping to zero does not by itself detach the info (the registry's
// remove() + detach sequencing owns that); Release only reports the
// crossing so the caller (typically the orchestrator) knows to detach.
func (i *Info) Release() bool {
	return i.strongRefcount.Add(-1) == 0
}

func (i *Info) withLock(fn func() error) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.detached {
		return modherr.New(modherr.Detached, "operation on a detached module")
	}
	return fn()
}

// UnloadLockCount returns the current unload-blocking lock count.
func (i *Info) UnloadLockCount() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unloadLockCount
}

// BumpUnloadLock increments the module's own unload lock count, used while
// it owns a freestanding pending module so it cannot be unloaded out from
// under that module.
func (i *Info) BumpUnloadLock(delta int64) {
	i.mu.Lock()
	i.unloadLockCount += delta
	i.mu.Unlock()
}

// AddParameter registers a ParamCell under name. Used by the builder while
// constructing the parameter table.
func (i *Info) AddParameter(name string, cell *param.Cell) {
	i.mu.Lock()
	i.parameters[name] = cell
	i.mu.Unlock()
}

// Parameter returns the named ParamCell, if any.
func (i *Info) Parameter(name string) (*param.Cell, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.parameters[name]
	return c, ok
}

// AddNamespaceIncluded records that this module has opted into namespace ns.
func (i *Info) AddNamespaceIncluded(ns string, static bool) {
	i.mu.Lock()
	i.namespacesIncluded[ns] = NamespaceInclusion{Static: static}
	i.mu.Unlock()
}

// HasNamespaceIncluded reports whether ns is in this module's
// namespaces_included map.
func (i *Info) HasNamespaceIncluded(ns string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.namespacesIncluded[ns]
	return ok
}

// AddDependency records provider in this module's dependency map.
func (i *Info) AddDependency(providerName string, providerInfo *Info, static bool) {
	i.mu.Lock()
	i.dependencies[providerName] = &DependencyLink{Info: providerInfo, Static: static}
	i.mu.Unlock()
}

// RemoveDependency deletes providerName from this module's dependency map.
func (i *Info) RemoveDependency(providerName string) {
	i.mu.Lock()
	delete(i.dependencies, providerName)
	i.mu.Unlock()
}

// Dependency returns the dependency link to providerName, if any.
func (i *Info) Dependency(providerName string) (*DependencyLink, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.dependencies[providerName]
	return d, ok
}

// Dependencies returns a snapshot of this module's dependency names.
func (i *Info) Dependencies() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.dependencies))
	for name := range i.dependencies {
		out = append(out, name)
	}
	return out
}

// AddExportedSymbol registers a built export.
func (i *Info) AddExportedSymbol(key symbol.Key, es *ExportedSymbol) {
	i.mu.Lock()
	i.exportedSymbols[key] = es
	i.mu.Unlock()
}

// ExportedSymbol returns the named export, if any.
func (i *Info) ExportedSymbol(key symbol.Key) (*ExportedSymbol, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	es, ok := i.exportedSymbols[key]
	return es, ok
}

// ExportedSymbols returns a snapshot of every export key this module holds.
func (i *Info) ExportedSymbols() []symbol.Key {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]symbol.Key, 0, len(i.exportedSymbols))
	for k := range i.exportedSymbols {
		out = append(out, k)
	}
	return out
}

// AnyExportLocked reports whether any of this module's exports currently
// has a nonzero lock count; a module with any locked export cannot be
// removed.
func (i *Info) AnyExportLocked() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, es := range i.exportedSymbols {
		if es.LockCount > 0 {
			return true
		}
	}
	return false
}

// LockExport increments the lock count of the named export, returning the
// raw pointer. Used by ModuleRegistry.LoadSymbol after it has verified the
// caller's dependency/namespace preconditions.
func (i *Info) LockExport(key symbol.Key) (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.detached {
		return nil, modherr.New(modherr.Detached, "operation on a detached module")
	}
	es, ok := i.exportedSymbols[key]
	if !ok {
		return nil, modherr.New(modherr.NotFound, "no such exported symbol")
	}
	es.LockCount++
	return es.RawPtr, nil
}

// UnlockExport decrements the lock count of the named export; the paired
// release operation for LockExport.
func (i *Info) UnlockExport(key symbol.Key) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	es, ok := i.exportedSymbols[key]
	if !ok {
		return modherr.New(modherr.NotFound, "no such exported symbol")
	}
	if es.LockCount == 0 {
		return modherr.New(modherr.InvalidArgument, "export is not currently locked")
	}
	es.LockCount--
	return nil
}

// SetConstructed stashes the instance/state pair a successful Constructor
// call produced, for the eventual Destructor invocation at unload.
func (i *Info) SetConstructed(instance, state any) {
	i.mu.Lock()
	i.instance = instance
	i.state = state
	i.mu.Unlock()
}

// InstanceState returns the instance/state pair recorded by SetConstructed.
func (i *Info) InstanceState() (instance, state any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.instance, i.state
}

// ExportRecordForDetach returns the export record Detach needs to run
// modifier destructors and release the record's payload. Only the
// orchestrator's Unload calls this, immediately before calling Detach;
// nothing else needs direct access to a live module's export record.
func (i *Info) ExportRecordForDetach() *export.ExportRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exportRecord
}

// Detach tears down the info's inner state:
// runs every dynamic export's destructor (in map iteration order; the
// registration order is not kept), invokes the
// record's Destructor hook if one was set, releases the binary handle, and
// frees the inner maps. The outer *Info value may still be referenced by
// callers after Detach; every accessor above returns modherr.Detached once
// this has run.
func (i *Info) Detach(rec *export.ExportRecord) {
	i.mu.Lock()
	if i.detached {
		i.mu.Unlock()
		return
	}
	i.detached = true
	instance, state := i.instance, i.state
	h := i.handleRef
	var dynamic []*ExportedSymbol
	for _, es := range i.exportedSymbols {
		if es.DynDestructor != nil {
			dynamic = append(dynamic, es)
		}
	}
	i.exportedSymbols = nil
	i.parameters = nil
	i.namespacesIncluded = nil
	i.dependencies = nil
	i.mu.Unlock()

	for _, es := range dynamic {
		es.DynDestructor(es.RawPtr)
	}
	if rec != nil && rec.Destructor != nil {
		rec.Destructor(instance, state)
	}
	if rec != nil {
		export.ReleaseRecord(rec)
	}
	if h != nil {
		h.Release()
	}
}
