package export

// IteratorFunc enumerates the raw export-section slots of a binary image.
// Index runs from 0; IteratorFunc returns (nil, false) once past the end of
// the section. A nil record with ok=true represents a linker-inserted null
// slot (padding) that the reader must tolerate and skip.
type IteratorFunc func(base uintptr, index int) (record *ExportRecord, ok bool)

// Reader walks a binary's export section in link order, skipping null
// slots. It performs no validation and is finite and
// non-restartable: once Next returns false, the Reader is exhausted.
type Reader struct {
	iter  IteratorFunc
	base  uintptr
	index int
	done  bool
}

// NewReader builds a Reader over the section enumerated by iter, starting at
// the given binary base address.
func NewReader(base uintptr, iter IteratorFunc) *Reader {
	return &Reader{iter: iter, base: base}
}

// Next returns the next non-null export record, or (nil, false) once the
// section is exhausted. Null slots are skipped transparently.
func (r *Reader) Next() (*ExportRecord, bool) {
	if r.done {
		return nil, false
	}
	for {
		rec, ok := r.iter(r.base, r.index)
		if !ok {
			r.done = true
			return nil, false
		}
		r.index++
		if rec == nil {
			continue // linker-inserted padding
		}
		return rec, true
	}
}

// All drains the reader into a slice. Convenience for callers (LoadingSet)
// that want to iterate without managing reader state themselves.
func (r *Reader) All() []*ExportRecord {
	var out []*ExportRecord
	for {
		rec, ok := r.Next()
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}
