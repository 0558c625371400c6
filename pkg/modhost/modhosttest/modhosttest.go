// Package modhosttest builds synthetic ExportRecords and supporting
// fixtures for resolver/builder/registry tests, without needing a real
// compiled plugin binary. Mirrors the naming convention of the
// kernel/threads/testutil.MockSABBuilder.
package modhosttest

import (
	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/version"
)

// ExportRecordBuilder accumulates declarations for one synthetic
// ExportRecord, mirroring MockSABBuilder's fluent chain style.
type ExportRecordBuilder struct {
	rec *export.ExportRecord
}

// NewMockExportRecordBuilder seeds a builder for a module named name at the
// given ABI version.
func NewMockExportRecordBuilder(name string, abiVersion uint32) *ExportRecordBuilder {
	return &ExportRecordBuilder{rec: &export.ExportRecord{
		ABIVersion: abiVersion,
		Name:       name,
	}}
}

func (b *ExportRecordBuilder) WithDescription(desc string) *ExportRecordBuilder {
	b.rec.Description = desc
	return b
}

// WithStaticExport adds a statically-backed export at v.
func (b *ExportRecordBuilder) WithStaticExport(name, ns string, v version.Version, ptr any) *ExportRecordBuilder {
	b.rec.Exports = append(b.rec.Exports, export.SymbolExport{
		Name: name, Namespace: ns, Version: v, Kind: export.ExportStatic, Pointer: ptr,
	})
	return b
}

// WithDynamicExport adds a dynamically-constructed export at v.
func (b *ExportRecordBuilder) WithDynamicExport(name, ns string, v version.Version, ctor export.DynamicConstructor, dtor export.DynamicDestructor) *ExportRecordBuilder {
	b.rec.Exports = append(b.rec.Exports, export.SymbolExport{
		Name: name, Namespace: ns, Version: v, Kind: export.ExportDynamic, Constructor: ctor, Destructor: dtor,
	})
	return b
}

// WithSymbolImport adds a required import.
func (b *ExportRecordBuilder) WithSymbolImport(name, ns string, required version.Version) *ExportRecordBuilder {
	b.rec.SymbolImports = append(b.rec.SymbolImports, export.SymbolImport{Name: name, Namespace: ns, Version: required})
	return b
}

// WithNamespaceImport adds a namespace the module wants to read/export into.
func (b *ExportRecordBuilder) WithNamespaceImport(ns string) *ExportRecordBuilder {
	b.rec.NamespaceImports = append(b.rec.NamespaceImports, export.NamespaceImport{Name: ns})
	return b
}

// WithParameter adds a parameter declaration.
func (b *ExportRecordBuilder) WithParameter(decl export.ParameterDecl) *ExportRecordBuilder {
	b.rec.Parameters = append(b.rec.Parameters, decl)
	return b
}

// WithResource adds a resource declaration.
func (b *ExportRecordBuilder) WithResource(path string) *ExportRecordBuilder {
	b.rec.Resources = append(b.rec.Resources, export.ResourceDecl{Path: path})
	return b
}

// WithDependencyModifier adds an explicit Dependency modifier on moduleName.
func (b *ExportRecordBuilder) WithDependencyModifier(moduleName string) *ExportRecordBuilder {
	b.rec.Modifiers = append(b.rec.Modifiers, export.ModifierDecl{
		Kind: export.ModifierDependency, DependencyModuleName: moduleName,
	})
	return b
}

// WithConstructor sets the record's constructor hook.
func (b *ExportRecordBuilder) WithConstructor(fn export.ConstructorFn) *ExportRecordBuilder {
	b.rec.Constructor = fn
	return b
}

// WithDestructor sets the record's destructor hook.
func (b *ExportRecordBuilder) WithDestructor(fn export.DestructorInstanceFn) *ExportRecordBuilder {
	b.rec.Destructor = fn
	return b
}

// Build returns the assembled ExportRecord.
func (b *ExportRecordBuilder) Build() *export.ExportRecord { return b.rec }

// V is a terse constructor for version.Version, used throughout tests that
// don't care about the build field.
func V(major, minor, patch uint32) version.Version {
	return version.Version{Major: major, Minor: minor, Patch: patch}
}
