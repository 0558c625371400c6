// Package param implements an atomic-typed parameter value gated by
// per-direction access modes, mirroring the atomic-counter idiom used
// throughout kernel/threads/foundation (epoch values, stats) rather than a
// stdlib-only approach.
package param

import (
	"sync/atomic"

	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
)

// CallerInfo is the minimal view of a caller's ModuleInfo that ParamCell's
// access checks need: its own identity and whether it depends on the
// owner. Implemented by registry.ModuleInfo; kept minimal here so param has
// no import-cycle on registry.
type CallerInfo interface {
	Name() string
	DependsOn(ownerName string) bool
}

// Backing is the storage a Cell reads and writes its raw uint64 through.
// The default, used by New, is an in-process atomic.Uint64; NewWithBacking
// accepts any other implementation, letting pkg/sabmem back a Cell with a
// shared-memory offset instead.
type Backing interface {
	Load() uint64
	Store(uint64)
}

// localBacking is the default in-process Backing.
type localBacking struct{ v atomic.Uint64 }

func (b *localBacking) Load() uint64     { return b.v.Load() }
func (b *localBacking) Store(v uint64)   { b.v.Store(v) }

// Cell is one parameter's live state: a backed value plus the access gates
// and optional hooks declared by its ParameterDecl.
type Cell struct {
	ownerName   string
	typ         export.ParamType
	value       Backing
	readAccess  export.AccessMode
	writeAccess export.AccessMode

	readHookData  any
	readHook      export.ParamReadHook
	writeHookData any
	writeHook     export.ParamWriteHook
}

// New builds a Cell from a ParameterDecl, seeded with its default value and
// owned by ownerName,
// backed by process-local storage.
func New(ownerName string, decl export.ParameterDecl) *Cell {
	return NewWithBacking(ownerName, decl, &localBacking{})
}

// NewWithBacking builds a Cell the same way as New but stores its value
// through backing instead of a private atomic.Uint64, letting a caller
// share the parameter's storage outside the process (pkg/sabmem).
func NewWithBacking(ownerName string, decl export.ParameterDecl, backing Backing) *Cell {
	c := &Cell{
		ownerName:     ownerName,
		typ:           decl.Type,
		value:         backing,
		readAccess:    decl.ReadAccess,
		writeAccess:   decl.WriteAccess,
		readHookData:  decl.ReadHookData,
		readHook:      decl.Read,
		writeHookData: decl.WriteHookData,
		writeHook:     decl.Write,
	}
	c.value.Store(decl.DefaultValue)
	return c
}

func (c *Cell) Type() export.ParamType { return c.typ }

// Read returns the current value and type using acquire ordering. It runs
// the read hook, if any, but does not perform any access check itself; the
// can_read_* helpers below are what callers must consult first.
func (c *Cell) Read() (uint64, export.ParamType) {
	v := c.value.Load()
	if c.readHook != nil {
		var hookOut uint64 = v
		if err := c.readHook(c.readHookData, &hookOut); err == nil {
			v = hookOut
		}
	}
	return v, c.typ
}

// Write stores value iff typ matches the cell's declared type, using
// release ordering. Returns false on type mismatch.
func (c *Cell) Write(value uint64, typ export.ParamType) bool {
	if typ != c.typ {
		return false
	}
	c.value.Store(value)
	if c.writeHook != nil {
		c.writeHook(c.writeHookData, value)
	}
	return true
}

// CanReadPublic reports whether the parameter's read access permits any
// caller to read it.
func (c *Cell) CanReadPublic() bool { return c.readAccess == export.AccessPublic }

// CanWritePublic mirrors CanReadPublic for writes.
func (c *Cell) CanWritePublic() bool { return c.writeAccess == export.AccessPublic }

// CanReadDependency reports whether caller may read this parameter by
// virtue of depending on its owner: true iff caller has a dependency link
// to the owner AND read access is at least `dependency`.
func (c *Cell) CanReadDependency(caller CallerInfo) bool {
	if c.readAccess == export.AccessPrivate {
		return false
	}
	return caller != nil && caller.DependsOn(c.ownerName)
}

// CanWriteDependency mirrors CanReadDependency for writes.
func (c *Cell) CanWriteDependency(caller CallerInfo) bool {
	if c.writeAccess == export.AccessPrivate {
		return false
	}
	return caller != nil && caller.DependsOn(c.ownerName)
}

// CanReadPrivate reports whether caller is the owner itself.
func (c *Cell) CanReadPrivate(caller CallerInfo) bool {
	return caller != nil && caller.Name() == c.ownerName
}

// CanWritePrivate mirrors CanReadPrivate for writes.
func (c *Cell) CanWritePrivate(caller CallerInfo) bool {
	return caller != nil && caller.Name() == c.ownerName
}

// CanRead resolves the full access policy for a read from caller, combining
// the public/dependency/private checks per the parameter's ReadAccess mode.
func (c *Cell) CanRead(caller CallerInfo) bool {
	switch c.readAccess {
	case export.AccessPublic:
		return true
	case export.AccessDependency:
		return c.CanReadDependency(caller) || c.CanReadPrivate(caller)
	default: // AccessPrivate
		return c.CanReadPrivate(caller)
	}
}

// CanWrite mirrors CanRead for writes.
func (c *Cell) CanWrite(caller CallerInfo) bool {
	switch c.writeAccess {
	case export.AccessPublic:
		return true
	case export.AccessDependency:
		return c.CanWriteDependency(caller) || c.CanWritePrivate(caller)
	default: // AccessPrivate
		return c.CanWritePrivate(caller)
	}
}
