// Package export models the data an independently-built module binary
// declares about itself, the lazy reader that walks a binary's export
// section, the validator that rejects malformed records before they reach
// any map, and the cleanup hook invoked when a record is discarded.
package export

import "github.com/nmxmxh/inos_v1/pkg/modhost/version"

// AccessMode gates who may read or write a ParameterDecl.
type AccessMode int

const (
	AccessPublic AccessMode = iota
	AccessDependency
	AccessPrivate
)

// ParamType is one of the fixed-width integer types a parameter may hold.
type ParamType int

const (
	U8 ParamType = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
)

func (t ParamType) valid() bool { return t >= U8 && t <= I64 }

// ParamReadHook, if set, is invoked under the owning module's info mutex
// whenever a parameter is read.
type ParamReadHook func(data any, out *uint64) error

// ParamWriteHook mirrors ParamReadHook for writes.
type ParamWriteHook func(data any, in uint64) error

// ParameterDecl declares one typed, access-gated parameter a module exposes.
type ParameterDecl struct {
	Name         string
	Type         ParamType
	DefaultValue uint64
	ReadAccess   AccessMode
	WriteAccess  AccessMode
	ReadHookData any
	Read         ParamReadHook
	WriteHookData any
	Write        ParamWriteHook
}

// ResourceDecl declares a relative file path the module expects to be
// resolved against its binary's directory.
type ResourceDecl struct {
	Path string
}

// NamespaceImport declares that a module wants to import symbols under a
// namespace; it must be declared before any SymbolImport into that namespace.
type NamespaceImport struct {
	Name string
}

// GlobalNamespace is the empty-string namespace meaning "no namespace".
const GlobalNamespace = ""

// SymbolImport declares a required symbol and the minimum version the
// module is compatible with.
type SymbolImport struct {
	Name      string
	Namespace string
	Version   version.Version
}

// ExportKind distinguishes a statically-provided symbol from one
// constructed dynamically at build time.
type ExportKind int

const (
	ExportStatic ExportKind = iota
	ExportDynamic
)

// DynamicConstructor builds a dynamic export's backing value for a given
// module instance, returning an opaque pointer to hand to importers.
type DynamicConstructor func(instance any) (any, error)

// DynamicDestructor tears down a value built by a DynamicConstructor.
type DynamicDestructor func(symbol any)

// SymbolExport declares one export. For ExportStatic, Pointer is the backing
// value; for ExportDynamic, Constructor/Destructor build and tear it down.
type SymbolExport struct {
	Name        string
	Namespace   string
	Version     version.Version
	Kind        ExportKind
	Pointer     any
	Constructor DynamicConstructor
	Destructor  DynamicDestructor
}

// ModifierKind tags the variants of ModifierDecl.
type ModifierKind int

const (
	ModifierDestructor ModifierKind = iota
	ModifierDependency
	ModifierDebugInfo
	// modifierUnknown is never produced by a conforming record; it stands
	// for a tag the validator does not recognize, which Validate rejects.
	modifierUnknown
)

// DestructorFn is invoked by the cleanup hook with the data
// the modifier was created with.
type DestructorFn func(data any)

// ModifierDecl is a tagged union of record-level extension points. The core
// never interprets DebugInfo; it is preserved and handed back unexamined.
type ModifierDecl struct {
	Kind ModifierKind

	// Destructor variant
	DestructorData any
	DestructorFn   DestructorFn

	// Dependency variant: names another module this record depends on by
	// construction time (distinct from a SymbolImport-induced dependency).
	DependencyModuleName string
	// DependencyRelease, if set, is called once when the modifier's back
	// reference is no longer needed (record rejected, module unloaded).
	DependencyRelease func()

	// DebugInfo variant: opaque to the core.
	DebugInfo any
}

// ConstructorFn is invoked once per instance, after imports are wired and
// before exports are registered. It may append more modules to
// the loading set it is handed.
type ConstructorFn func(instance any, loadingSet any) (state any, err error)

// DestructorInstanceFn is invoked once at unload.
type DestructorInstanceFn func(instance any, state any)

// LifecycleFn are the optional on_start/on_stop hooks driven by the external
// event-loop executor, out of scope for the core beyond not calling them
// while any lock is held.
type LifecycleFn func(instance any)

// ExportRecord aggregates everything one module binary declares about
// itself.
type ExportRecord struct {
	ABIVersion  uint32
	Name        string
	Description string
	Author      string
	License     string

	Parameters  []ParameterDecl
	Resources   []ResourceDecl
	NamespaceImports []NamespaceImport
	SymbolImports    []SymbolImport
	Exports          []SymbolExport
	Modifiers        []ModifierDecl

	Constructor ConstructorFn
	Destructor  DestructorInstanceFn
	OnStart     LifecycleFn
	OnStop      LifecycleFn

	// raw is an opaque handle back to the binary-format record this
	// ExportRecord was parsed from, so the cleanup hook and the builder can
	// release the same underlying allocation. Never interpreted by the core.
	raw any
}

// SetRaw / Raw let an ExportRecord reader attach the original binary-format
// pointer without the rest of the core needing to know its representation.
func (r *ExportRecord) SetRaw(v any) { r.raw = v }
func (r *ExportRecord) Raw() any     { return r.raw }
