package loadingset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/handle"
	"github.com/nmxmxh/inos_v1/pkg/modhost/version"
)

func rec(name string, exports ...export.SymbolExport) *export.ExportRecord {
	return &export.ExportRecord{Name: name, Exports: exports}
}

func TestAppendFreestandingStagesModule(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendFreestanding(nil, rec("alpha")))
	require.True(t, s.HasModule("alpha"))

	s.Lock()
	pm, ok := s.GetLocked("alpha")
	s.Unlock()
	require.True(t, ok)
	require.Equal(t, Unloaded, pm.Status)
}

func TestAppendFreestandingRejectsDuplicateName(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendFreestanding(nil, rec("alpha")))
	err := s.AppendFreestanding(nil, rec("alpha"))
	require.Error(t, err)
}

func TestAppendFreestandingRejectsSymbolCollision(t *testing.T) {
	s := New()
	v1 := version.Version{Major: 1}
	require.NoError(t, s.AppendFreestanding(nil, rec("alpha", export.SymbolExport{Name: "sym", Version: v1})))
	err := s.AppendFreestanding(nil, rec("beta", export.SymbolExport{Name: "sym", Version: v1}))
	require.Error(t, err)
}

func TestAppendFreestandingFailsWhileLoading(t *testing.T) {
	s := New()
	s.Lock()
	s.SetLoading(true)
	s.Unlock()
	err := s.AppendFreestanding(nil, rec("alpha"))
	require.Error(t, err)
}

func TestAddCallbackSynchronousOnResolved(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendFreestanding(nil, rec("alpha")))

	s.Lock()
	s.MarkLoaded("alpha", "info-placeholder")
	s.Unlock()

	var gotInfo any
	require.NoError(t, s.AddCallback("alpha", Callback{
		Success: func(info any, userData any) { gotInfo = info },
	}))
	require.Equal(t, "info-placeholder", gotInfo)
}

func TestAddCallbackQueuedUntilResolved(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendFreestanding(nil, rec("alpha")))

	var called bool
	require.NoError(t, s.AddCallback("alpha", Callback{
		Success: func(info any, userData any) { called = true },
	}))
	require.False(t, called)

	s.Lock()
	s.MarkLoaded("alpha", "info")
	s.Unlock()
	require.True(t, called)
}

func TestAddCallbackErrorPath(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendFreestanding(nil, rec("alpha")))

	var gotErr error
	require.NoError(t, s.AddCallback("alpha", Callback{
		Failure: func(err error, userData any) { gotErr = err },
	}))
	require.Nil(t, gotErr)

	assertionErr := errors.New("boom")
	s.Lock()
	s.MarkError("alpha", assertionErr)
	s.Unlock()

	require.NoError(t, s.AddCallback("alpha", Callback{
		Failure: func(err error, userData any) { gotErr = err },
	}))
	require.Equal(t, assertionErr, gotErr)
}

func TestDismissFlushesErrorsAndClears(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendFreestanding(nil, rec("alpha")))

	var gotErr error
	require.NoError(t, s.AddCallback("alpha", Callback{
		Failure: func(err error, userData any) { gotErr = err },
	}))

	require.NoError(t, s.Dismiss())
	require.Error(t, gotErr)
	require.False(t, s.HasModule("alpha"))
}

func TestDismissFailsWhileLoading(t *testing.T) {
	s := New()
	s.Lock()
	s.SetLoading(true)
	s.Unlock()
	require.Error(t, s.Dismiss())
}

func TestAppendFromBinaryRejectsInvalidRecordsButKeepsBatch(t *testing.T) {
	good := rec("good", export.SymbolExport{Name: "sym", Kind: export.ExportStatic, Pointer: struct{}{}})
	bad := &export.ExportRecord{Name: "", ABIVersion: 1} // fails Validate: ABI 1 differs from the 0 passed below (its name is empty too)

	records := []*export.ExportRecord{good, bad}
	provider := &stubProvider{
		iter: func(base uintptr, index int) (*export.ExportRecord, bool) {
			if index >= len(records) {
				return nil, false
			}
			return records[index], true
		},
	}

	s := New()
	accepted, rejections, err := s.AppendFromBinary(provider, "/plugins/foo.wasm", 0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, accepted)
	require.Len(t, rejections, 1)
	require.True(t, s.HasModule("good"))
}

type stubProvider struct {
	iter export.IteratorFunc
}

func (p *stubProvider) Open(path string) (export.IteratorFunc, uintptr, func(), error) {
	return p.iter, 0, func() {}, nil
}

var _ handle.BinaryProvider = (*stubProvider)(nil)
