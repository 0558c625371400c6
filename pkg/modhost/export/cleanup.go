package export

// ReleaseRecord runs the record's cleanup path: invoked when
// an export is definitively not going to be used, whether because the
// validator rejected it, the resolver marked its pending module Error, or a
// Regular module carrying it was unloaded. It walks the record's modifiers,
// invoking each Destructor modifier's function and releasing each
// Dependency modifier's back-reference. Unknown modifiers are skipped; they
// were already preserved rather than rejected by Validate.
func ReleaseRecord(rec *ExportRecord) {
	if rec == nil {
		return
	}
	for _, m := range rec.Modifiers {
		switch m.Kind {
		case ModifierDestructor:
			if m.DestructorFn != nil {
				m.DestructorFn(m.DestructorData)
			}
		case ModifierDependency:
			if m.DependencyRelease != nil {
				m.DependencyRelease()
			}
		}
	}
}
