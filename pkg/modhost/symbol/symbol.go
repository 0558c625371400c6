// Package symbol holds the small shared types both LoadingSet and
// ModuleRegistry key their symbol maps on, so neither package
// has to import the other's map-entry type.
package symbol

import "github.com/nmxmxh/inos_v1/pkg/modhost/version"

// Key identifies a symbol by name and namespace. The empty namespace is the
// global namespace.
type Key struct {
	Name      string
	Namespace string
}

// Entry is the {version, owning/providing module name} pair both the
// LoadingSet's and the ModuleRegistry's symbol maps store.
type Entry struct {
	Version version.Version
	Owner   string
}
