package export

import "fmt"

// RejectReason explains why ExportValidator rejected a record. It is never
// wrapped in modherr: validation rejects are warn-logged and the record is
// dropped, not surfaced as a caller-facing error.
type RejectReason struct {
	msg string
}

func (r *RejectReason) Error() string { return r.msg }

func reject(format string, args ...any) *RejectReason {
	return &RejectReason{msg: fmt.Sprintf(format, args...)}
}

// symKey identifies a symbol by (name, namespace) within one record, for
// the within-record collision checks below.
type symKey struct{ name, ns string }

// Validate runs every structural check a record must pass, in order,
// returning the first violation. It mutates nothing; rejecting a record is
// always the caller's job via the cleanup hook (ReleaseRecord).
func Validate(rec *ExportRecord, supportedABI uint32) error {
	if rec == nil {
		return reject("nil record")
	}
	if rec.ABIVersion != supportedABI {
		return reject("unsupported ABI version %d (host supports %d)", rec.ABIVersion, supportedABI)
	}
	if rec.Name == "" {
		return reject("record name is empty")
	}
	if (rec.Constructor == nil) != (rec.Destructor == nil) {
		return reject("constructor and destructor must both be set or both be nil")
	}

	seenParam := make(map[string]struct{}, len(rec.Parameters))
	for _, p := range rec.Parameters {
		if p.Name == "" {
			return reject("parameter with empty name")
		}
		if !p.Type.valid() {
			return reject("parameter %q has invalid type %d", p.Name, p.Type)
		}
		if p.ReadAccess < AccessPublic || p.ReadAccess > AccessPrivate {
			return reject("parameter %q has invalid read access %d", p.Name, p.ReadAccess)
		}
		if p.WriteAccess < AccessPublic || p.WriteAccess > AccessPrivate {
			return reject("parameter %q has invalid write access %d", p.Name, p.WriteAccess)
		}
		if p.Read == nil || p.Write == nil {
			return reject("parameter %q missing read or write hook", p.Name)
		}
		if _, dup := seenParam[p.Name]; dup {
			return reject("duplicate parameter name %q", p.Name)
		}
		seenParam[p.Name] = struct{}{}
	}

	for _, res := range rec.Resources {
		if res.Path == "" {
			return reject("resource with empty path")
		}
		if res.Path[0] == '/' || res.Path[0] == '\\' {
			return reject("resource path %q must be relative", res.Path)
		}
	}

	nsImports := make(map[string]struct{}, len(rec.NamespaceImports))
	for _, ns := range rec.NamespaceImports {
		if ns.Name == "" {
			return reject("namespace import with empty name")
		}
		nsImports[ns.Name] = struct{}{}
	}

	occupied := make(map[symKey]struct{})
	for _, si := range rec.SymbolImports {
		if si.Name == "" {
			return reject("symbol import with empty name")
		}
		if si.Namespace != GlobalNamespace {
			if _, ok := nsImports[si.Namespace]; !ok {
				return reject("symbol import %q references namespace %q with no matching namespace import", si.Name, si.Namespace)
			}
		}
		occupied[symKey{si.Name, si.Namespace}] = struct{}{}
	}

	for i, ex := range rec.Exports {
		if ex.Name == "" {
			return reject("export %d has empty name", i)
		}
		key := symKey{ex.Name, ex.Namespace}
		switch ex.Kind {
		case ExportStatic:
			if ex.Pointer == nil {
				return reject("static export %q has nil pointer", ex.Name)
			}
		case ExportDynamic:
			if ex.Constructor == nil || ex.Destructor == nil {
				return reject("dynamic export %q missing constructor or destructor", ex.Name)
			}
		default:
			return reject("export %q has invalid kind %d", ex.Name, ex.Kind)
		}
		if _, dup := occupied[key]; dup {
			return reject("export (%q,%q) collides with an import or earlier export in this record", ex.Name, ex.Namespace)
		}
		occupied[key] = struct{}{}
	}

	for i, m := range rec.Modifiers {
		switch m.Kind {
		case ModifierDestructor:
			if m.DestructorFn == nil {
				return reject("modifier %d: Destructor variant missing fn", i)
			}
		case ModifierDependency:
			if m.DependencyModuleName == "" {
				return reject("modifier %d: Dependency variant missing module name", i)
			}
		case ModifierDebugInfo:
			// opaque, nothing to check
		default:
			return reject("modifier %d: unrecognized key", i)
		}
	}

	return nil
}
