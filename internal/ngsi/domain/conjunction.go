package ngsi

import "strings"

// Conjunction is the rule combining a device id with an attribute-supplied entity name.
//
// The empty value means "not configured" and defers to the process default.
// "none" lets the binding replace the device id, "space" joins with a single
// space (deprecated) and any other value is used verbatim as the separator.
type Conjunction string

const (
	ConjunctionUnset Conjunction = ""
	ConjunctionNone  Conjunction = "none"
	ConjunctionSpace Conjunction = "space"
)

// Or returns c, or fallback when c is unset.
func (c Conjunction) Or(fallback Conjunction) Conjunction {
	if c == ConjunctionUnset {
		return fallback
	}
	return c
}

// Separator returns the literal joined between device id and entity name.
func (c Conjunction) Separator() (string, bool) {
	switch c {
	case ConjunctionUnset, ConjunctionNone:
		return "", false
	case ConjunctionSpace:
		return " ", true
	default:
		return string(c), true
	}
}

// Resolve builds the target entity id for an attribute bound to entityName.
// URN bindings are always taken literally.
func (c Conjunction) Resolve(deviceID, entityName string) string {
	if entityName == "" {
		return deviceID
	}
	if IsURN(entityName) {
		return entityName
	}
	sep, ok := c.Separator()
	if !ok || deviceID == "" {
		return entityName
	}
	return deviceID + sep + entityName
}

// IsURN reports whether id is already URN shaped.
func IsURN(id string) bool {
	return strings.HasPrefix(strings.ToLower(id), "urn:")
}
