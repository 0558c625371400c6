package export

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MarshalMeta encodes a record's identifying metadata (name, description,
// author, license, and any string-valued debug info attached via a
// ModifierDebugInfo modifier) as a protobuf message, so a sidecar process
// scanning a directory of plugin binaries can ship what it found back to a
// host over a pipe or socket without hand-rolling a wire format.
func MarshalMeta(r *ExportRecord) ([]byte, error) {
	fields := map[string]any{
		"name":        r.Name,
		"description": r.Description,
		"author":      r.Author,
		"license":     r.License,
		"abi_version": float64(r.ABIVersion),
	}
	if debug := debugInfoString(r); debug != "" {
		fields["debug_info"] = debug
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("export: build meta struct: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("export: marshal meta: %w", err)
	}
	return data, nil
}

// Meta is the decoded form MarshalMeta produces, independent of the rest of
// an ExportRecord's build-time-only fields (hooks, constructors, raw
// handles -- none of which can cross a process boundary).
type Meta struct {
	Name        string
	Description string
	Author      string
	License     string
	ABIVersion  uint32
	DebugInfo   string
}

// UnmarshalMeta decodes the bytes MarshalMeta produced.
func UnmarshalMeta(data []byte) (Meta, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Meta{}, fmt.Errorf("export: unmarshal meta: %w", err)
	}
	fields := s.GetFields()
	return Meta{
		Name:        fields["name"].GetStringValue(),
		Description: fields["description"].GetStringValue(),
		Author:      fields["author"].GetStringValue(),
		License:     fields["license"].GetStringValue(),
		ABIVersion:  uint32(fields["abi_version"].GetNumberValue()),
		DebugInfo:   fields["debug_info"].GetStringValue(),
	}, nil
}

func debugInfoString(r *ExportRecord) string {
	for _, m := range r.Modifiers {
		if m.Kind == ModifierDebugInfo {
			if s, ok := m.DebugInfo.(string); ok {
				return s
			}
		}
	}
	return ""
}
