// Package loadingset implements LoadingSet: the mutex-
// guarded staging area that accumulates pending modules and their exported
// symbols before the resolver orders them and the builder constructs them.
package loadingset

import (
	"fmt"
	"sync"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/handle"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modherr"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
)

// Status is a pending module's terminal-or-not state.
type Status int

const (
	Unloaded Status = iota
	Loaded
	Error
)

// Callback is queued by AddCallback and flushed once a pending module
// resolves. Exactly one of Success/Failure runs, exactly once.
type Callback struct {
	UserData any
	Success  func(info any, userData any)
	Failure  func(err error, userData any)
}

// PendingModule is one module staged for construction.
type PendingModule struct {
	Name         string
	HandleRef    *handle.Handle
	Owner        any // set for freestanding modules; nil for binary-sourced ones
	ExportRecord *export.ExportRecord

	Status Status
	Info   any   // set once Status == Loaded
	Err    error // set once Status == Error

	callbacks []Callback
}

// Set is the per-instance staging area. Zero value is not
// usable; construct with New.
type Set struct {
	mu sync.Mutex

	modules map[string]*PendingModule
	symbols map[symbol.Key]symbol.Entry

	isLoading     bool
	needsReorder  bool
}

// New builds an empty LoadingSet.
func New() *Set {
	return &Set{
		modules: make(map[string]*PendingModule),
		symbols: make(map[symbol.Key]symbol.Entry),
	}
}

// Lock and Unlock expose the set's mutex directly so the orchestrator can
// respect the lock order registry -> loading set -> module info, acquiring
// and releasing it alongside the registry's own mutex rather than through a
// method that would hide the ordering.
func (s *Set) Lock()   { s.mu.Lock() }
func (s *Set) Unlock() { s.mu.Unlock() }

// IsLoading reports the set's loading flag. Caller must hold the lock.
func (s *Set) IsLoading() bool { return s.isLoading }

// SetLoading sets the loading flag. Caller must hold the lock.
func (s *Set) SetLoading(v bool) { s.isLoading = v }

// NeedsReorder reports whether a pending append requires the resolver to
// recompute order. Caller
// must hold the lock.
func (s *Set) NeedsReorder() bool { return s.needsReorder }

// ClearReorder resets the flag after the orchestrator has recomputed order.
// Caller must hold the lock.
func (s *Set) ClearReorder() { s.needsReorder = false }

// HasModule reports whether name is already staged in this set.
func (s *Set) HasModule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.modules[name]
	return ok
}

// HasSymbol reports whether (name,ns) is provided within this set and
// returns the stored entry (version and owner). It does not check version
// compatibility; callers compare the returned version themselves.
func (s *Set) HasSymbol(name, ns string) (symbol.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.symbols[symbol.Key{Name: name, Namespace: ns}]
	return e, ok
}

// AppendFreestanding stages a module that did not come from a binary scan:
// an owner instance supplies a single pre-built ExportRecord directly.
// While it is pending, the owner's unload lock count must stay >= 1;
// enforcing that is the caller's responsibility (the owner increments its
// own lock count before calling this), since Set has no view of ModuleInfo.
func (s *Set) AppendFreestanding(owner any, rec *export.ExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLoading {
		return modherr.New(modherr.Busy, "loading set is currently being loaded")
	}
	return s.stage(rec.Name, nil, owner, rec)
}

// AppendFromBinary opens path via provider, validates each export record it
// contains, and stages every record that does not collide with the set's
// existing modules/symbols. Records that fail validation or collide are
// rejected individually (their payload released via export.ReleaseRecord)
// without failing the whole batch. Returns the number accepted and the
// per-record rejection reasons.
func (s *Set) AppendFromBinary(provider handle.BinaryProvider, path string, supportedABI uint32, filter func(*export.ExportRecord) bool) (accepted int, rejections []error, err error) {
	h, err := handle.OpenPlugin(provider, path)
	if err != nil {
		return 0, nil, fmt.Errorf("open plugin %s: %w", path, err)
	}

	records := h.Reader().All()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLoading {
		h.Release()
		return 0, nil, modherr.New(modherr.Busy, "loading set is currently being loaded")
	}

	anyStaged := false
	for _, rec := range records {
		if filter != nil && !filter(rec) {
			continue
		}
		if verr := export.Validate(rec, supportedABI); verr != nil {
			rejections = append(rejections, verr)
			export.ReleaseRecord(rec)
			continue
		}
		h.Retain()
		if serr := s.stage(rec.Name, h, nil, rec); serr != nil {
			rejections = append(rejections, serr)
			export.ReleaseRecord(rec)
			h.Release()
			continue
		}
		anyStaged = true
		accepted++
	}

	// The handle's initial reference (from OpenPlugin) was only held for
	// the duration of the scan; every staged record retained its own.
	h.Release()
	_ = anyStaged
	return accepted, rejections, nil
}

// stage validates name/symbol uniqueness against the set and records the
// pending module. Caller must hold s.mu.
func (s *Set) stage(name string, h *handle.Handle, owner any, rec *export.ExportRecord) error {
	if _, dup := s.modules[name]; dup {
		return modherr.New(modherr.Duplicate, fmt.Sprintf("module %q already staged in this set", name))
	}
	for _, ex := range rec.Exports {
		key := symbol.Key{Name: ex.Name, Namespace: ex.Namespace}
		if _, dup := s.symbols[key]; dup {
			return modherr.New(modherr.Duplicate, fmt.Sprintf("symbol (%q,%q) already staged in this set", ex.Name, ex.Namespace))
		}
	}

	pm := &PendingModule{
		Name:         name,
		HandleRef:    h,
		Owner:        owner,
		ExportRecord: rec,
		Status:       Unloaded,
	}
	s.modules[name] = pm
	for _, ex := range rec.Exports {
		s.symbols[symbol.Key{Name: ex.Name, Namespace: ex.Namespace}] = symbol.Entry{Version: ex.Version, Owner: name}
	}
	s.needsReorder = true
	return nil
}

// AddCallback enqueues success/failure callbacks for moduleName: if the
// module is still Unloaded, the callback is queued; if it already resolved,
// the matching callback runs synchronously, inline, before AddCallback
// returns.
func (s *Set) AddCallback(moduleName string, cb Callback) error {
	s.mu.Lock()
	pm, ok := s.modules[moduleName]
	if !ok {
		s.mu.Unlock()
		return modherr.New(modherr.NotFound, fmt.Sprintf("no pending module %q in this set", moduleName))
	}
	switch pm.Status {
	case Unloaded:
		pm.callbacks = append(pm.callbacks, cb)
		s.mu.Unlock()
	case Loaded:
		info := pm.Info
		s.mu.Unlock()
		if cb.Success != nil {
			cb.Success(info, cb.UserData)
		}
	case Error:
		err := pm.Err
		s.mu.Unlock()
		if cb.Failure != nil {
			cb.Failure(err, cb.UserData)
		}
	}
	return nil
}

// MarkLoaded transitions a pending module to Loaded and flushes its queued
// success callbacks. Caller must hold s.mu (the orchestrator calls this
// while driving finish()).
func (s *Set) MarkLoaded(name string, info any) {
	pm, ok := s.modules[name]
	if !ok {
		return
	}
	pm.Status = Loaded
	pm.Info = info
	cbs := pm.callbacks
	pm.callbacks = nil
	for _, cb := range cbs {
		if cb.Success != nil {
			cb.Success(info, cb.UserData)
		}
	}
}

// MarkError transitions a pending module to Error and flushes its queued
// failure callbacks. Caller must hold s.mu.
func (s *Set) MarkError(name string, err error) {
	pm, ok := s.modules[name]
	if !ok {
		return
	}
	pm.Status = Error
	pm.Err = err
	cbs := pm.callbacks
	pm.callbacks = nil
	for _, cb := range cbs {
		if cb.Failure != nil {
			cb.Failure(err, cb.UserData)
		}
	}
	if pm.ExportRecord != nil {
		export.ReleaseRecord(pm.ExportRecord)
	}
	if pm.HandleRef != nil {
		pm.HandleRef.Release()
	}
}

// Get returns the pending module by name. Caller must hold s.mu if it plans
// to mutate the returned value; safe to call unlocked for read-only use by
// callers that accept a snapshot may already be stale.
func (s *Set) Get(name string) (*PendingModule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.modules[name]
	return pm, ok
}

// GetLocked is Get for a caller that already holds s.mu (resolver/orchestrator
// internals iterating while the set is frozen).
func (s *Set) GetLocked(name string) (*PendingModule, bool) {
	pm, ok := s.modules[name]
	return pm, ok
}

// UnloadedLocked returns every still-pending module, in map order (the resolver
// imposes the real order; callers must not rely on this slice's order for
// anything but iteration). Caller must hold s.mu.
func (s *Set) UnloadedLocked() []*PendingModule {
	var out []*PendingModule
	for _, pm := range s.modules {
		if pm.Status == Unloaded {
			out = append(out, pm)
		}
	}
	return out
}

// AllLocked returns every pending module regardless of status. Caller must
// hold s.mu.
func (s *Set) AllLocked() map[string]*PendingModule { return s.modules }

// SymbolsLocked returns the set's own symbol table (the live map, not a
// copy); caller must hold s.mu. Used by the
// resolver to check "provided by a compatible pending module in the set".
func (s *Set) SymbolsLocked() map[symbol.Key]symbol.Entry { return s.symbols }

// Dismiss fails the whole set: it is an error to dismiss a set that is
// being loaded; otherwise every pending module's failure callbacks run and
// its resources are released.
func (s *Set) Dismiss() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLoading {
		return modherr.New(modherr.Busy, "loading set is currently being loaded")
	}
	for name, pm := range s.modules {
		if pm.Status == Unloaded {
			s.MarkError(name, modherr.New(modherr.Detached, "loading set dismissed"))
		}
	}
	s.modules = make(map[string]*PendingModule)
	s.symbols = make(map[symbol.Key]symbol.Entry)
	return nil
}
