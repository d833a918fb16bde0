package models

import (
	"fmt"
	"strings"
)

// Metadata is the open key/value bag attached to events and sessions.
// Unknown keys are carried through untouched; the engine only reads
// the two flags exposed by RequiresResponse and IsSubAgentFlag.
type Metadata map[string]any

const (
	MetaRequiresResponse = "requires_response"
	MetaIsSubAgent       = "isSubAgent"
)

// RequiresResponse reports whether a notification is waiting on the user.
func (m Metadata) RequiresResponse() bool {
	return m.Bool(MetaRequiresResponse)
}

// IsSubAgentFlag reports whether session metadata marks the run as a sub-agent.
func (m Metadata) IsSubAgentFlag() bool {
	return m.Bool(MetaIsSubAgent)
}

// Bool reads key as a boolean. JSON producers are inconsistent, so the
// string forms "true"/"1" are accepted as well.
func (m Metadata) Bool(key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		return s == "true" || s == "1"
	case float64:
		return val != 0
	case int:
		return val != 0
	}
	return false
}

// String reads key as a string, formatting non-string scalars.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a shallow copy so callers can't mutate buffered records.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
