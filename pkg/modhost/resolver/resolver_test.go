package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos_v1/pkg/modhost/loadingset"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modhosttest"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
)

// fakeRegistry is a minimal RegistrySnapshot for resolver tests that don't
// need a real ModuleRegistry.
type fakeRegistry struct {
	modules map[string]bool
	symbols map[symbol.Key]symbol.Entry
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{modules: map[string]bool{}, symbols: map[symbol.Key]symbol.Entry{}}
}

func (f *fakeRegistry) HasModule(name string) bool { return f.modules[name] }
func (f *fakeRegistry) FindSymbol(key symbol.Key) (symbol.Entry, bool) {
	e, ok := f.symbols[key]
	return e, ok
}

func TestResolveOrdersProvidersBeforeDependents(t *testing.T) {
	set := loadingset.New()
	provider := modhosttest.NewMockExportRecordBuilder("provider", 1).
		WithStaticExport("sym", "", modhosttest.V(1, 0, 0), struct{}{}).
		Build()
	dependent := modhosttest.NewMockExportRecordBuilder("dependent", 1).
		WithSymbolImport("sym", "", modhosttest.V(1, 0, 0)).
		Build()

	require.NoError(t, set.AppendFreestanding(nil, dependent))
	require.NoError(t, set.AppendFreestanding(nil, provider))

	reg := newFakeRegistry()
	set.Lock()
	order, err := Resolve(set, reg)
	set.Unlock()

	require.NoError(t, err)
	require.Len(t, order, 2)
	require.Equal(t, "provider", order[0].Name)
	require.Equal(t, "dependent", order[1].Name)
}

func TestResolveRejectsCycle(t *testing.T) {
	set := loadingset.New()
	a := modhosttest.NewMockExportRecordBuilder("a", 1).
		WithStaticExport("a-sym", "", modhosttest.V(1, 0, 0), struct{}{}).
		WithSymbolImport("b-sym", "", modhosttest.V(1, 0, 0)).
		Build()
	b := modhosttest.NewMockExportRecordBuilder("b", 1).
		WithStaticExport("b-sym", "", modhosttest.V(1, 0, 0), struct{}{}).
		WithSymbolImport("a-sym", "", modhosttest.V(1, 0, 0)).
		Build()

	require.NoError(t, set.AppendFreestanding(nil, a))
	require.NoError(t, set.AppendFreestanding(nil, b))

	set.Lock()
	_, err := Resolve(set, newFakeRegistry())
	set.Unlock()
	require.Error(t, err)
}

func TestResolveMarksUnsatisfiedImportAsError(t *testing.T) {
	set := loadingset.New()
	dependent := modhosttest.NewMockExportRecordBuilder("dependent", 1).
		WithSymbolImport("missing", "", modhosttest.V(1, 0, 0)).
		Build()
	require.NoError(t, set.AppendFreestanding(nil, dependent))

	set.Lock()
	order, err := Resolve(set, newFakeRegistry())
	set.Unlock()

	require.NoError(t, err)
	require.Len(t, order, 0)

	pm, ok := set.Get("dependent")
	require.True(t, ok)
	require.Equal(t, loadingset.Error, pm.Status)
}

func TestResolveRejectsAlreadyLiveModule(t *testing.T) {
	set := loadingset.New()
	m := modhosttest.NewMockExportRecordBuilder("dup", 1).Build()
	require.NoError(t, set.AppendFreestanding(nil, m))

	reg := newFakeRegistry()
	reg.modules["dup"] = true

	set.Lock()
	_, err := Resolve(set, reg)
	set.Unlock()
	require.NoError(t, err)

	pm, _ := set.Get("dup")
	require.Equal(t, loadingset.Error, pm.Status)
}
