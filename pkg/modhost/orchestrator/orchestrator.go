// Package orchestrator implements LoaderOrchestrator: it
// drives a LoadingSet through resolution and construction, committing each
// resolved module into a ModuleRegistry and signalling its callbacks.
package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/nmxmxh/inos_v1/pkg/modhost/builder"
	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/loadingset"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modherr"
	"github.com/nmxmxh/inos_v1/pkg/modhost/param"
	"github.com/nmxmxh/inos_v1/pkg/modhost/registry"
	"github.com/nmxmxh/inos_v1/pkg/modhost/resolver"
)

// defaultMaxReorderPasses bounds the finish() loop against a constructor
// that keeps appending modules to its own set forever. 64 passes is far
// beyond any legitimate re-entrant append chain observed in practice.
const defaultMaxReorderPasses = 64

// Orchestrator is LoaderOrchestrator: the only component that holds the
// registry and a loading set's locks at the same time, always in that
// order.
type Orchestrator struct {
	Registry         *registry.Registry
	SupportedABI     uint32
	MaxReorderPasses int
	Logger           *slog.Logger

	// ParamBacking, if set, is passed down to every builder.Build call so a
	// module's parameters can be backed by shared memory (pkg/sabmem)
	// instead of a private atomic.Uint64. Nil means every parameter gets
	// the default process-local backing.
	ParamBacking func(ownerName string, decl export.ParameterDecl) param.Backing
}

// New builds an Orchestrator bound to reg. A nil logger falls back to
// slog.Default(); MaxReorderPasses <= 0 falls back to
// defaultMaxReorderPasses.
func New(reg *registry.Registry, supportedABI uint32, maxReorderPasses int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxReorderPasses <= 0 {
		maxReorderPasses = defaultMaxReorderPasses
	}
	return &Orchestrator{Registry: reg, SupportedABI: supportedABI, MaxReorderPasses: maxReorderPasses, Logger: logger}
}

// Finish drives set through resolution and construction to completion.
// Individual module failures are reported through their queued callbacks,
// never through Finish's own return value; Finish only returns an error
// for a structural problem (the registry or the set already loading, a
// dependency cycle among the staged modules, or the re-entrant append
// depth limit exceeded).
func (o *Orchestrator) Finish(set *loadingset.Set) error {
	o.Registry.Lock()
	defer o.Registry.Unlock()
	set.Lock()
	defer set.Unlock()

	if o.Registry.IsLoading() || set.IsLoading() {
		return modherr.New(modherr.Busy, "registry or loading set is already loading")
	}
	o.Registry.SetLoading(true)
	set.SetLoading(true)
	defer func() {
		o.Registry.SetLoading(false)
		set.SetLoading(false)
	}()

	order, err := resolver.Resolve(set, o.Registry)
	if err != nil {
		return err
	}

	passes := 0
	for {
		for _, pm := range order {
			cur, ok := set.GetLocked(pm.Name)
			if !ok || cur.Status != loadingset.Unloaded {
				continue
			}
			o.constructOne(set, cur)
		}

		if !set.NeedsReorder() {
			break
		}

		passes++
		if passes > o.MaxReorderPasses {
			o.Logger.Warn("loader orchestrator exceeded max reorder passes", "max", o.MaxReorderPasses)
			return modherr.New(modherr.Overflow, fmt.Sprintf("exceeded max reorder passes (%d)", o.MaxReorderPasses))
		}

		set.ClearReorder()
		order, err = resolver.Resolve(set, o.Registry)
		if err != nil {
			return err
		}
	}

	return nil
}

// constructOne re-checks pm's preconditions (the registry may have changed
// since Resolve ran, due to a nested finish or a failed sibling), runs the
// Builder, and commits or fails it. Caller must hold both the registry and
// set locks.
func (o *Orchestrator) constructOne(set *loadingset.Set, pm *loadingset.PendingModule) {
	if o.Registry.HasModule(pm.Name) {
		err := modherr.New(modherr.Duplicate, fmt.Sprintf("module %q already live in registry", pm.Name))
		set.MarkError(pm.Name, err)
		o.Logger.Warn("module construction aborted: duplicate", "module", pm.Name)
		return
	}

	release := func() {
		set.Unlock()
		o.Registry.Unlock()
	}
	reacquire := func() {
		o.Registry.Lock()
		set.Lock()
	}

	info, _, err := builder.Build(pm, set, o.Registry, release, reacquire, o.ParamBacking)
	if err != nil {
		set.MarkError(pm.Name, err)
		o.Logger.Warn("module construction failed", "module", pm.Name, "error", err)
		return
	}

	if err := o.Registry.Add(info); err != nil {
		info.Detach(pm.ExportRecord)
		set.MarkError(pm.Name, err)
		o.Logger.Warn("module commit failed", "module", pm.Name, "error", err)
		return
	}

	set.MarkLoaded(pm.Name, info)
	o.Logger.Debug("module loaded", "module", pm.Name)
}

// Dismiss fails set outright, running every queued failure callback.
func (o *Orchestrator) Dismiss(set *loadingset.Set) error {
	return set.Dismiss()
}

// Unload tears a live Regular module down: removes it from the registry,
// detaches its inner state, then sweeps any module that became loose as a
// result. Unloading a Pseudo module only detaches it -- it was never
// registered.
func (o *Orchestrator) Unload(info *registry.Info) error {
	if info.Type() == registry.Pseudo {
		info.Detach(nil)
		return nil
	}

	err := o.Registry.Remove(info)
	if err != nil {
		return err
	}

	info.Detach(info.ExportRecordForDetach())

	o.Registry.CleanupLoose()
	return nil
}
