package handle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
)

type fakeProvider struct {
	iter    export.IteratorFunc
	base    uintptr
	opened  int
	released int
}

func (p *fakeProvider) Open(path string) (export.IteratorFunc, uintptr, func(), error) {
	p.opened++
	return p.iter, p.base, func() { p.released++ }, nil
}

func TestOpenLocalStartsAtOne(t *testing.T) {
	h := OpenLocal(func(base uintptr, index int) (*export.ExportRecord, bool) { return nil, false }, 0, "/binary/dir")
	require.Equal(t, int64(1), h.RefCount())
	require.Equal(t, "/binary/dir", h.Dir())
}

func TestRetainReleaseRefcounts(t *testing.T) {
	p := &fakeProvider{iter: func(base uintptr, index int) (*export.ExportRecord, bool) { return nil, false }}
	h, err := OpenPlugin(p, "/plugins/foo.wasm")
	require.NoError(t, err)
	require.Equal(t, 1, p.opened)
	require.Equal(t, "/plugins", h.Dir())

	h.Retain()
	require.Equal(t, int64(2), h.RefCount())

	require.False(t, h.Release())
	require.Equal(t, 0, p.released)

	require.True(t, h.Release())
	require.Equal(t, 1, p.released)
}

func TestReaderEnumeratesOverHandle(t *testing.T) {
	rec := &export.ExportRecord{Name: "x"}
	h := OpenLocal(func(base uintptr, index int) (*export.ExportRecord, bool) {
		if index == 0 {
			return rec, true
		}
		return nil, false
	}, 0, "/dir")
	all := h.Reader().All()
	require.Len(t, all, 1)
	require.Equal(t, "x", all[0].Name)
}
