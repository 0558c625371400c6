// Package wasmplugin backs handle.BinaryProvider with wasmer-go, following
// wasm/executor.go's engine/store/module/instance sequence. It compiles a
// .wasm file and walks its named function exports to emulate a binary
// export-section scan: since a WASM module carries no ExportRecord struct
// of its own, this package synthesizes exactly one per module, with one
// SymbolExport per exported function.
package wasmplugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/handle"
	"github.com/nmxmxh/inos_v1/pkg/modhost/version"
)

// ModuleVersion is stamped onto every synthesized export since a compiled
// .wasm file carries no version metadata of its own; callers that need
// per-module versioning should instead use a sibling ".modversion" file or
// a custom section reader (out of scope here).
var ModuleVersion = version.Version{Major: 1}

// ABIVersion is the fixed supported-ABI tag wasmplugin stamps on every
// synthesized ExportRecord; Provider.Open's caller must pass the same
// value to export.Validate / LoadingSet.AppendFromBinary.
const ABIVersion uint32 = 1

// Provider implements handle.BinaryProvider by compiling a .wasm file with
// wasmer-go and enumerating its instance's exported functions.
type Provider struct {
	engine *wasmer.Engine
}

// NewProvider builds a Provider with a fresh wasmer engine, shared across
// every Open call (matching the one-engine-per-process usage in
// wasm/executor.go, generalized from a single Execute call to a
// long-lived host).
func NewProvider() *Provider {
	return &Provider{engine: wasmer.NewEngine()}
}

// Open compiles path and instantiates it with an empty import object,
// returning a single-slot iterator yielding the synthesized ExportRecord.
// The wasmer.Store/Instance are kept alive by the closure captured in
// release, so they outlive Open and are only torn down when the handle's
// refcount reaches zero.
func (p *Provider) Open(path string) (iter export.IteratorFunc, base uintptr, release func(), err error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read wasm file %s: %w", path, err)
	}

	store := wasmer.NewStore(p.engine)
	module, err := wasmer.NewModule(store, bytes)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("compile wasm module %s: %w", path, err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, 0, nil, fmt.Errorf("instantiate wasm module %s: %w", path, err)
	}

	rec, err := buildRecord(path, instance)
	if err != nil {
		instance.Close()
		return nil, 0, nil, err
	}

	iterFn := func(base uintptr, index int) (*export.ExportRecord, bool) {
		if index == 0 {
			return rec, true
		}
		return nil, false
	}
	releaseFn := func() { instance.Close() }

	return iterFn, 0, releaseFn, nil
}

// buildRecord enumerates instance's exported functions, synthesizing one
// static SymbolExport per function; the raw_ptr is the *wasmer.Function itself, which
// importers invoke via instance.Exports.GetFunction-style calls on the
// retrieved value.
func buildRecord(path string, instance *wasmer.Instance) (*export.ExportRecord, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rec := &export.ExportRecord{
		ABIVersion: ABIVersion,
		Name:       name,
	}

	exportsMap, err := instance.Exports.Exports()
	if err != nil {
		return nil, fmt.Errorf("enumerate exports of %s: %w", path, err)
	}
	for exportName := range exportsMap {
		fn, err := instance.Exports.GetFunction(exportName)
		if err != nil {
			continue // not a callable export (e.g. a memory or global)
		}
		rec.Exports = append(rec.Exports, export.SymbolExport{
			Name:      exportName,
			Namespace: "",
			Version:   ModuleVersion,
			Kind:      export.ExportStatic,
			Pointer:   fn,
		})
	}
	return rec, nil
}

var _ handle.BinaryProvider = (*Provider)(nil)
