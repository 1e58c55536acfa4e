// Package convert maps domain values to and from the protobuf Struct messages
// carried by the control API.
package convert

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct renders v through its JSON form. v must encode as a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%T is not a JSON object", v)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into dst through JSON. A nil s leaves dst untouched.
func FromStruct(s *structpb.Struct, dst any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode %T: %w", dst, err)
	}
	return nil
}

// String returns the string field key of s, or "" when absent or not a string.
func String(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
