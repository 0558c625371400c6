// Package handle implements ModuleHandle: a reference
// counted owner of a loaded binary image and its export iterator. Dropping
// the last reference releases the underlying binary image.
package handle

import (
	"path/filepath"
	"sync/atomic"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
)

// BinaryProvider resolves a plugin path into an export iterator plus a
// closer for the underlying image. Out-of-core collaborators implement this; pkg/wasmplugin
// is this repo's implementation backed by wasmer-go.
type BinaryProvider interface {
	// Open resolves path, returning the export-section iterator, the
	// binary's own base address/handle for IteratorFunc, and a release
	// function invoked when the image should be unmapped.
	Open(path string) (iter export.IteratorFunc, base uintptr, release func(), err error)
}

// Handle owns a reference to a loaded binary image (local or plugin) and
// the export iterator used to enumerate it. Shared by every pending/live
// module instance that originated from the same image; the image is only
// released when the last reference drops.
type Handle struct {
	dir      string
	iter     export.IteratorFunc
	base     uintptr
	release  func()
	refcount atomic.Int64
}

// OpenLocal wraps an iterator the host itself provides, used when the host's own binary carries export records
// rather than a plugin on disk.
func OpenLocal(iter export.IteratorFunc, addressInBinary uintptr, binaryDir string) *Handle {
	h := &Handle{dir: binaryDir, iter: iter, base: addressInBinary}
	h.refcount.Store(1)
	return h
}

// OpenPlugin resolves and loads a plugin at path via provider, retrieving
// its exported iterator symbol. The handle's
// directory is computed once at open time.
func OpenPlugin(provider BinaryProvider, path string) (*Handle, error) {
	iter, base, release, err := provider.Open(path)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		dir:     filepath.Dir(path),
		iter:    iter,
		base:    base,
		release: release,
	}
	h.refcount.Store(1)
	return h, nil
}

// Dir returns the binary's directory, used to resolve ResourceDecl paths.
func (h *Handle) Dir() string { return h.dir }

// Reader returns a fresh Reader over this handle's export section.
func (h *Handle) Reader() *export.Reader {
	return export.NewReader(h.base, h.iter)
}

// Retain increments the reference count; callers must pair each Retain with
// a Release.
func (h *Handle) Retain() {
	h.refcount.Add(1)
}

// Release decrements the reference count, releasing the underlying binary
// image when it reaches zero. Returns true if this call released the image.
func (h *Handle) Release() bool {
	n := h.refcount.Add(-1)
	if n < 0 {
		// Defensive: refcount must never go negative; restore and no-op.
		h.refcount.Add(1)
		return false
	}
	if n == 0 {
		if h.release != nil {
			h.release()
		}
		return true
	}
	return false
}

// RefCount returns the current reference count, for diagnostics and tests.
func (h *Handle) RefCount() int64 { return h.refcount.Load() }
