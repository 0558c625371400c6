package builder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/loadingset"
	"github.com/nmxmxh/inos_v1/pkg/modhost/modhosttest"
	"github.com/nmxmxh/inos_v1/pkg/modhost/param"
	"github.com/nmxmxh/inos_v1/pkg/modhost/registry"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
)

func stagePending(t *testing.T, set *loadingset.Set, rec *export.ExportRecord) *loadingset.PendingModule {
	t.Helper()
	require.NoError(t, set.AppendFreestanding(nil, rec))
	pm, ok := set.Get(rec.Name)
	require.True(t, ok)
	return pm
}

func TestBuildStaticExportOnly(t *testing.T) {
	reg := registry.New(nil)
	set := loadingset.New()
	rec := modhosttest.NewMockExportRecordBuilder("alpha", 1).
		WithParameter(export.ParameterDecl{Name: "gain", Type: export.U32, DefaultValue: 3, Read: noop, Write: noopW}).
		WithStaticExport("sym", "", modhosttest.V(1, 0, 0), "payload").
		Build()
	pm := stagePending(t, set, rec)

	info, inst, err := Build(pm, set, reg, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Len(t, inst.Parameters, 1)
	require.Len(t, inst.Exports, 1)
	require.Equal(t, "payload", inst.Exports[0])

	require.NoError(t, reg.Add(info))
}

func TestBuildUsesCustomParamBacking(t *testing.T) {
	reg := registry.New(nil)
	set := loadingset.New()
	rec := modhosttest.NewMockExportRecordBuilder("alpha", 1).
		WithParameter(export.ParameterDecl{Name: "gain", Type: export.U32, DefaultValue: 7, Read: noop, Write: noopW}).
		Build()
	pm := stagePending(t, set, rec)

	backing := &fakeBacking{}
	calls := 0
	paramBacking := func(ownerName string, decl export.ParameterDecl) param.Backing {
		calls++
		require.Equal(t, "alpha", ownerName)
		require.Equal(t, "gain", decl.Name)
		return backing
	}

	_, inst, err := Build(pm, set, reg, nil, nil, paramBacking)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Len(t, inst.Parameters, 1)

	v, _ := inst.Parameters[0].Read()
	require.Equal(t, uint64(7), v)
	require.Equal(t, uint64(7), backing.v)
}

type fakeBacking struct{ v uint64 }

func (b *fakeBacking) Load() uint64   { return b.v }
func (b *fakeBacking) Store(v uint64) { b.v = v }

func TestBuildResolvesImportFromExistingProvider(t *testing.T) {
	reg := registry.New(nil)
	set := loadingset.New()

	providerRec := modhosttest.NewMockExportRecordBuilder("provider", 1).
		WithStaticExport("sym", "", modhosttest.V(1, 0, 0), "providervalue").
		Build()
	providerInfo := registry.NewRegular("provider", providerRec, nil)
	providerInfo.AddExportedSymbol(symbol.Key{Name: "sym"}, &registry.ExportedSymbol{Version: modhosttest.V(1, 0, 0), RawPtr: "providervalue"})
	require.NoError(t, reg.Add(providerInfo))

	dependentRec := modhosttest.NewMockExportRecordBuilder("dependent", 1).
		WithSymbolImport("sym", "", modhosttest.V(1, 0, 0)).
		Build()
	pm := stagePending(t, set, dependentRec)

	info, inst, err := Build(pm, set, reg, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, inst.Imports, 1)
	require.Equal(t, "providervalue", inst.Imports[0])

	_, ok := info.Dependency("provider")
	require.True(t, ok)
}

func TestBuildRunsConstructorWithReleaseReacquireHooks(t *testing.T) {
	reg := registry.New(nil)
	set := loadingset.New()

	var releaseCalled, reacquireCalled bool
	rec := modhosttest.NewMockExportRecordBuilder("alpha", 1).
		WithConstructor(func(instance, loadingSet any) (any, error) { return "state", nil }).
		WithDestructor(func(instance, state any) {}).
		Build()
	pm := stagePending(t, set, rec)

	info, _, err := Build(pm, set, reg, func() { releaseCalled = true }, func() { reacquireCalled = true }, nil)
	require.NoError(t, err)
	require.True(t, releaseCalled)
	require.True(t, reacquireCalled)

	_, state := info.InstanceState()
	require.Equal(t, "state", state)
}

func TestBuildRollsBackOnConstructorFailure(t *testing.T) {
	reg := registry.New(nil)
	set := loadingset.New()
	rec := modhosttest.NewMockExportRecordBuilder("alpha", 1).
		WithConstructor(func(instance, loadingSet any) (any, error) { return nil, errors.New("boom") }).
		WithDestructor(func(instance, state any) {}).
		Build()
	pm := stagePending(t, set, rec)

	_, _, err := Build(pm, set, reg, nil, nil, nil)
	require.Error(t, err)
}

func TestBuildRollsBackDynamicExportFailureReleasingPriorOnes(t *testing.T) {
	reg := registry.New(nil)
	set := loadingset.New()

	var firstDestroyed bool
	rec := modhosttest.NewMockExportRecordBuilder("alpha", 1).
		WithDynamicExport("first", "", modhosttest.V(1, 0, 0),
			func(instance any) (any, error) { return "firstval", nil },
			func(symbol any) { firstDestroyed = symbol == "firstval" }).
		WithDynamicExport("second", "", modhosttest.V(1, 0, 0),
			func(instance any) (any, error) { return nil, errors.New("construction failed") },
			func(symbol any) {}).
		Build()
	pm := stagePending(t, set, rec)

	_, _, err := Build(pm, set, reg, nil, nil, nil)
	require.Error(t, err)
	require.True(t, firstDestroyed)
}

func TestBuildRejectsResourcePathEscapingBinaryDir(t *testing.T) {
	reg := registry.New(nil)
	set := loadingset.New()
	rec := modhosttest.NewMockExportRecordBuilder("alpha", 1).
		WithResource("../../etc/passwd").
		Build()
	pm := stagePending(t, set, rec)

	_, _, err := Build(pm, set, reg, nil, nil, nil)
	require.Error(t, err)
}

func noop(data any, out *uint64) error { return nil }
func noopW(data any, in uint64) error  { return nil }
