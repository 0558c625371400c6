// Package sabmem backs param.Cell with the kernel/threads/sab
// shared-memory abstraction instead of a private atomic.Uint64, so a
// module's parameters live at stable offsets a SharedArrayBuffer-style
// front end can observe directly (ground: kernel/threads/sab/hal_memory.go,
// kernel/threads/arena/allocator.go's bump-style offset bookkeeping).
package sabmem

import (
	"fmt"
	"sync"

	"github.com/nmxmxh/inos_v1/kernel/threads/sab"
)

const slotSize = 4 // one ParamType word; sab.MemoryProvider's atomics are 32-bit

// Store allocates fixed-size, 4-byte-aligned slots out of a
// sab.MemoryProvider and hands back param.Backing values bound to them.
// One Store is typically shared by every module loaded into a host process.
type Store struct {
	mu       sync.Mutex
	provider sab.MemoryProvider
	next     uint32
}

// NewStore wraps provider, starting allocation at byte offset 0. Callers
// that also keep sab-managed arenas in the same buffer (per
// kernel/threads/arena's OFFSET_ARENA convention) should pass a
// sub-range-aware provider or reserve the low region themselves before
// constructing a Store.
func NewStore(provider sab.MemoryProvider) *Store {
	return &Store{provider: provider}
}

// Allocate reserves the next slot and returns a Backing bound to it.
// Allocate is safe for concurrent use; slots are never freed individually
// since they back parameters for the lifetime of the module that owns them.
func (s *Store) Allocate() (*Backing, error) {
	s.mu.Lock()
	offset := s.next
	if offset+slotSize > s.provider.Size() {
		s.mu.Unlock()
		return nil, fmt.Errorf("sabmem: exhausted %d-byte region at offset %d", s.provider.Size(), offset)
	}
	s.next += slotSize
	s.mu.Unlock()

	if err := s.provider.AtomicStore32(offset, 0); err != nil {
		return nil, fmt.Errorf("sabmem: initialize slot at %d: %w", offset, err)
	}
	return &Backing{provider: s.provider, offset: offset}, nil
}

// Backing implements param.Backing over one 4-byte slot of a
// sab.MemoryProvider. Only the low 32 bits of a param.Cell's uint64 value
// round-trip through shared memory; modhost's ParamType set tops out at
// U32/I32 equivalents for any parameter actually routed through sabmem, so
// this is not a truncation in practice.
type Backing struct {
	provider sab.MemoryProvider
	offset   uint32
}

// Load reads the current value, returning 0 if the underlying provider
// reports an error (a param.Cell has no room in its Backing interface for
// a returned error; a failed load after a Store has been validly
// constructed means the provider itself has since gone away).
func (b *Backing) Load() uint64 {
	v, err := b.provider.AtomicLoad32(b.offset)
	if err != nil {
		return 0
	}
	return uint64(v)
}

// Store writes the low 32 bits of v to the slot.
func (b *Backing) Store(v uint64) {
	_ = b.provider.AtomicStore32(b.offset, uint32(v))
}
