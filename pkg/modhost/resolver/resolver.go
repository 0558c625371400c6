// Package resolver implements DependencyResolver: it
// checks every pending module's preconditions against a live registry and
// the loading set itself, builds a dependency DAG over the survivors, and
// returns them in topological (providers-first) order.
package resolver

import (
	"fmt"
	"sort"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/loadingset"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modherr"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
	"github.com/nmxmxh/inos_v1/pkg/modhost/version"
)

// RegistrySnapshot is the minimal live-registry view the resolver needs; it
// lets this package avoid importing registry (which never needs to import
// resolver back).
type RegistrySnapshot interface {
	HasModule(name string) bool
	FindSymbol(key symbol.Key) (symbol.Entry, bool)
}

func keyString(k symbol.Key) string { return fmt.Sprintf("%s/%s", k.Namespace, k.Name) }

// Resolve checks every pending module in set against reg and against each
// other, marking any that fails a precondition as Error (flushing its
// callbacks) and returning the survivors in dependency order. Resolve must
// be called with set already locked (the orchestrator holds
// registry -> set locks across the whole Finish call); it does not lock
// set itself.
func Resolve(set *loadingset.Set, reg RegistrySnapshot) ([]*loadingset.PendingModule, error) {
	all := set.AllLocked()
	candidates := set.UnloadedLocked()
	// Stable order by name for deterministic tie-breaking downstream --
	// map iteration order is randomized in Go, so a name sort is the
	// closest stable proxy available without threading insertion sequence
	// numbers through PendingModule.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })

	setSymbols := set.SymbolsLocked()
	survivors := make([]*loadingset.PendingModule, 0, len(candidates))

	for _, pm := range candidates {
		if err := precheck(pm, reg, all, setSymbols); err != nil {
			set.MarkError(pm.Name, err)
			continue
		}
		survivors = append(survivors, pm)
	}

	if len(survivors) == 0 {
		return nil, nil
	}

	order, err := topoSort(survivors, setSymbols)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func precheck(pm *loadingset.PendingModule, reg RegistrySnapshot, all map[string]*loadingset.PendingModule, setSymbols map[symbol.Key]symbol.Entry) error {
	if reg.HasModule(pm.Name) {
		return modherr.New(modherr.Duplicate, fmt.Sprintf("module %q already live in registry", pm.Name))
	}

	for _, si := range pm.ExportRecord.SymbolImports {
		key := symbol.Key{Name: si.Name, Namespace: si.Namespace}
		if e, ok := reg.FindSymbol(key); ok {
			if version.Compatible(e.Version, si.Version) {
				continue
			}
			return modherr.New(modherr.NotFound, fmt.Sprintf("module %q requires %s@%s, registry has incompatible %s", pm.Name, keyString(key), si.Version, e.Version))
		}
		if e, ok := setSymbols[key]; ok {
			provider, exists := all[e.Owner]
			if exists && provider.Status != loadingset.Error && version.Compatible(e.Version, si.Version) {
				continue
			}
		}
		return modherr.New(modherr.NotFound, fmt.Sprintf("module %q: unsatisfied import (%q,%q)@%s", pm.Name, si.Name, si.Namespace, si.Version))
	}

	for _, ex := range pm.ExportRecord.Exports {
		key := symbol.Key{Name: ex.Name, Namespace: ex.Namespace}
		if _, ok := reg.FindSymbol(key); ok {
			return modherr.New(modherr.Duplicate, fmt.Sprintf("module %q: export (%q,%q) already exists in registry", pm.Name, ex.Name, ex.Namespace))
		}
	}

	for _, m := range pm.ExportRecord.Modifiers {
		if m.Kind != export.ModifierDependency {
			continue
		}
		if !reg.HasModule(m.DependencyModuleName) {
			return modherr.New(modherr.NotFound, fmt.Sprintf("module %q: explicit dependency %q not present in registry", pm.Name, m.DependencyModuleName))
		}
	}

	return nil
}

// graphNode is one surviving module; each entry of edgesOut is an edge
// "dependent -> provider": the dependent imports something the provider
// exports.
type graphNode struct {
	pm       *loadingset.PendingModule
	edgesOut map[string]struct{} // names of providers this node depends on
	indegree int
}

// topoSort builds the dependency DAG over survivors (edges point from
// dependent to provider, in-set only) and returns providers-first order via
// Kahn's algorithm, matching the style of the
// ModuleRegistry.GetDependencyOrder (kernel/threads/registry/loader.go).
func topoSort(survivors []*loadingset.PendingModule, setSymbols map[symbol.Key]symbol.Entry) ([]*loadingset.PendingModule, error) {
	nodes := make(map[string]*graphNode, len(survivors))
	for _, pm := range survivors {
		nodes[pm.Name] = &graphNode{pm: pm, edgesOut: make(map[string]struct{})}
	}

	addEdge := func(dependent, provider string) {
		if dependent == provider {
			return
		}
		n, ok := nodes[dependent]
		if !ok {
			return
		}
		if _, dup := n.edgesOut[provider]; dup {
			return
		}
		n.edgesOut[provider] = struct{}{}
	}

	for _, pm := range survivors {
		for _, si := range pm.ExportRecord.SymbolImports {
			key := symbol.Key{Name: si.Name, Namespace: si.Namespace}
			if e, ok := setSymbols[key]; ok {
				if _, providerSurvives := nodes[e.Owner]; providerSurvives {
					addEdge(pm.Name, e.Owner)
				}
			}
		}
		for _, m := range pm.ExportRecord.Modifiers {
			if m.Kind == export.ModifierDependency {
				if _, providerSurvives := nodes[m.DependencyModuleName]; providerSurvives {
					addEdge(pm.Name, m.DependencyModuleName)
				}
			}
		}
	}

	// indegree counts in-edges; an edge dependent->provider means provider
	// must be emitted before dependent, i.e. provider has an out-edge to
	// dependent in Kahn's terms. Build the reverse adjacency for the queue.
	reverse := make(map[string][]string, len(nodes))
	for name, n := range nodes {
		for provider := range n.edgesOut {
			reverse[provider] = append(reverse[provider], name)
		}
		nodes[name].indegree = len(n.edgesOut)
	}

	queue := make([]string, 0, len(nodes))
	var names []string
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if nodes[name].indegree == 0 {
			queue = append(queue, name)
		}
	}

	ordered := make([]*loadingset.PendingModule, 0, len(nodes))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, nodes[name].pm)

		next := reverse[name]
		sort.Strings(next)
		for _, dependent := range next {
			nodes[dependent].indegree--
			if nodes[dependent].indegree == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(nodes) {
		return nil, modherr.New(modherr.Cycle, "dependency graph among staged modules is cyclic")
	}
	return ordered, nil
}
