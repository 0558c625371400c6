package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/param"
	"github.com/nmxmxh/inos_v1/pkg/modhost/symbol"
	"github.com/nmxmxh/inos_v1/pkg/modhost/version"
)

func staticRec(name string, exportName, ns string) *export.ExportRecord {
	return &export.ExportRecord{
		Name: name,
		Exports: []export.SymbolExport{
			{Name: exportName, Namespace: ns, Version: version.Version{Major: 1}, Kind: export.ExportStatic, Pointer: &struct{}{}},
		},
	}
}

func TestAddThenFindModule(t *testing.T) {
	r := New(nil)
	info := NewRegular("alpha", staticRec("alpha", "sym", ""), nil)
	require.NoError(t, r.Add(info))

	got, ok := r.FindModule("alpha")
	require.True(t, ok)
	require.Equal(t, info, got)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Add(NewRegular("alpha", staticRec("alpha", "a1", ""), nil)))
	err := r.Add(NewRegular("alpha", staticRec("alpha", "a2", ""), nil))
	require.Error(t, err)
}

func TestAddRejectsSymbolCollision(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Add(NewRegular("alpha", staticRec("alpha", "sym", ""), nil)))
	err := r.Add(NewRegular("beta", staticRec("beta", "sym", ""), nil))
	require.Error(t, err)
	require.False(t, r.HasModule("beta"))
}

func TestFindModuleBySymbolVersionGate(t *testing.T) {
	r := New(nil)
	rec := staticRec("alpha", "sym", "")
	rec.Exports[0].Version = version.Version{Major: 1, Minor: 2}
	require.NoError(t, r.Add(NewRegular("alpha", rec, nil)))

	_, err := r.FindModuleBySymbol("sym", "", version.Version{Major: 1, Minor: 1})
	require.NoError(t, err)

	_, err = r.FindModuleBySymbol("sym", "", version.Version{Major: 1, Minor: 3})
	require.Error(t, err)
}

func TestLinkAndUnlink(t *testing.T) {
	r := New(nil)
	a := NewRegular("a", &export.ExportRecord{Name: "a"}, nil)
	b := NewRegular("b", &export.ExportRecord{Name: "b"}, nil)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	require.NoError(t, r.Link(a, b))
	_, ok := a.Dependency("b")
	require.True(t, ok)

	require.NoError(t, r.Unlink(a, b))
	_, ok = a.Dependency("b")
	require.False(t, ok)
}

func TestLinkRejectsPseudoTarget(t *testing.T) {
	r := New(nil)
	a := NewRegular("a", &export.ExportRecord{Name: "a"}, nil)
	p := NewPseudo("p")
	require.NoError(t, r.Add(a))
	err := r.Link(a, p)
	require.Error(t, err)
}

func TestLinkRejectsCycle(t *testing.T) {
	r := New(nil)
	a := NewRegular("a", &export.ExportRecord{Name: "a"}, nil)
	b := NewRegular("b", &export.ExportRecord{Name: "b"}, nil)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	require.NoError(t, r.Link(a, b))
	err := r.Link(b, a)
	require.Error(t, err)
}

func TestUnlinkRejectsStaticLink(t *testing.T) {
	r := New(nil)
	a := NewRegular("a", &export.ExportRecord{Name: "a"}, nil)
	b := NewRegular("b", &export.ExportRecord{Name: "b"}, nil)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	a.AddDependency("b", b, true)

	err := r.Unlink(a, b)
	require.Error(t, err)
}

func TestRemoveRejectsWhileDependedOn(t *testing.T) {
	r := New(nil)
	a := NewRegular("a", &export.ExportRecord{Name: "a"}, nil)
	b := NewRegular("b", &export.ExportRecord{Name: "b"}, nil)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	require.NoError(t, r.Link(a, b))

	require.False(t, r.CanRemove(b))
	require.Error(t, r.Remove(b))

	require.NoError(t, r.Unlink(a, b))
	require.True(t, r.CanRemove(b))
	require.NoError(t, r.Remove(b))
}

func TestRemoveRejectsWhileExportLocked(t *testing.T) {
	r := New(nil)
	info := NewRegular("alpha", staticRec("alpha", "sym", ""), nil)
	require.NoError(t, r.Add(info))

	_, err := info.LockExport(symbol.Key{Name: "sym"})
	require.NoError(t, err)

	require.Error(t, r.Remove(info))
	require.NoError(t, info.UnlockExport(symbol.Key{Name: "sym"}))
	require.NoError(t, r.Remove(info))
}

func TestNamespaceAccounting(t *testing.T) {
	r := New(nil)
	provider := NewRegular("provider", staticRec("provider", "sym", "ns1"), nil)
	require.NoError(t, r.Add(provider))
	require.True(t, r.NamespaceExists("ns1"))

	consumer := NewRegular("consumer", &export.ExportRecord{Name: "consumer"}, nil)
	require.NoError(t, r.AcquireNamespace(consumer, "ns1"))
	require.True(t, consumer.HasNamespaceIncluded("ns1"))

	require.NoError(t, r.ReleaseNamespace(consumer, "ns1"))
	require.True(t, r.NamespaceExists("ns1")) // provider's own export still backs it
}

func TestLoadSymbolEnforcesDependencyAndNamespace(t *testing.T) {
	r := New(nil)
	provider := NewRegular("provider", staticRec("provider", "sym", "ns1"), nil)
	require.NoError(t, r.Add(provider))

	caller := NewRegular("caller", &export.ExportRecord{Name: "caller"}, nil)
	require.NoError(t, r.Add(caller))

	_, err := r.LoadSymbol(caller, "sym", "ns1", version.Version{Major: 1})
	require.Error(t, err) // caller does not depend on provider yet

	require.NoError(t, r.Link(caller, provider))
	_, err = r.LoadSymbol(caller, "sym", "ns1", version.Version{Major: 1})
	require.Error(t, err) // caller has not included namespace ns1

	require.NoError(t, r.AcquireNamespace(caller, "ns1"))
	ptr, err := r.LoadSymbol(caller, "sym", "ns1", version.Version{Major: 1})
	require.NoError(t, err)
	require.NotNil(t, ptr)

	require.NoError(t, r.ReleaseSymbol("provider", "sym", "ns1"))
}

func TestLoadSymbolCallerEqualsProviderIsNotFound(t *testing.T) {
	r := New(nil)
	info := NewRegular("self", staticRec("self", "sym", ""), nil)
	require.NoError(t, r.Add(info))

	_, err := r.LoadSymbol(info, "sym", "", version.Version{Major: 1})
	require.Error(t, err)
}

func TestCleanupLooseRemovesExternalRegularModules(t *testing.T) {
	r := New(nil)
	a := NewRegular("a", &export.ExportRecord{Name: "a"}, nil)
	require.NoError(t, r.Add(a))

	removed := r.CleanupLoose()
	require.Len(t, removed, 1)
	require.False(t, r.HasModule("a"))
}

func TestQuerySetGetParam(t *testing.T) {
	r := New(nil)
	rec := &export.ExportRecord{
		Name:       "alpha",
		Parameters: []export.ParameterDecl{{Name: "gain", Type: export.U32, DefaultValue: 5, ReadAccess: export.AccessPublic, WriteAccess: export.AccessPublic}},
	}
	info := NewRegular("alpha", rec, nil)
	for _, p := range rec.Parameters {
		info.AddParameter(p.Name, param.New("alpha", p))
	}
	require.NoError(t, r.Add(info))

	v, typ, err := r.GetParam(nil, "alpha", "gain")
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
	require.Equal(t, export.U32, typ)

	require.NoError(t, r.SetParam(nil, "alpha", "gain", 9, export.U32))
	v, _, _ = r.GetParam(nil, "alpha", "gain")
	require.Equal(t, uint64(9), v)
}
