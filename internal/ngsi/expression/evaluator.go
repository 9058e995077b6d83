// Package expression computes derived attribute values from sibling attributes.
package expression

import (
	"encoding/json"

	"ngsi-gateway/internal/ngsi/casting"
	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// Context holds the values an expression may reference.
type Context map[string]any

// Evaluator evaluates an expression source against a context.
// A reference to a value missing from the context yields nil, not an error.
type Evaluator interface {
	Evaluate(source string, ctx Context) (any, error)
}

var (
	legacyEvaluator = NewLegacyEvaluator()
	jexlEvaluator   = NewJEXLEvaluator()
)

// ForLanguage returns the evaluator of a dialect; legacy unless jexl is asked for.
func ForLanguage(lang ngsi.ExpressionLanguage) Evaluator {
	if lang == ngsi.LanguageJEXL {
		return jexlEvaluator
	}
	return legacyEvaluator
}

// NewContext builds the evaluation context of one device update. Numeric and
// boolean siblings are cast first so that "0" is seen as the number 0.
func NewContext(attrs []ngsi.Attribute, typeInfo ngsi.TypeInformation, caster *casting.Caster) Context {
	if caster == nil {
		caster = casting.NewCaster()
	}
	ctx := Context{
		"id":         typeInfo.DeviceID,
		"type":       typeInfo.EntityType,
		"service":    typeInfo.Service,
		"subservice": typeInfo.Subservice,
	}
	for _, attr := range typeInfo.StaticAttributes {
		ctx[attr.Name] = contextValue(caster, attr.Value, attr.Type)
	}
	for _, attr := range attrs {
		mappings := typeInfo.MappingsFor(attr.Name)
		ctx[attr.Name] = contextValue(caster, attr.Value, sourceType(attr, mappings))
		for _, m := range mappings {
			if m.Name == "" || m.Name == attr.Name {
				continue
			}
			attrType := m.Type
			if attrType == "" {
				attrType = attr.Type
			}
			ctx[m.Name] = contextValue(caster, attr.Value, attrType)
		}
	}
	return ctx
}

// sourceType is the type the source value is read as: the first mapping that
// declares one, else the type the device sent.
func sourceType(attr ngsi.Attribute, mappings []ngsi.AttributeMapping) string {
	for _, m := range mappings {
		if m.Type != "" {
			return m.Type
		}
	}
	return attr.Type
}

func contextValue(caster *casting.Caster, value any, attrType string) any {
	switch casting.KindOf(attrType) {
	case casting.KindNumber, casting.KindInteger, casting.KindFloat, casting.KindBoolean:
		if v, err := caster.Cast(value, attrType); err == nil {
			return v
		}
	}
	if n, ok := value.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return value
}

func missing(ctx Context, refs []string) bool {
	for _, ref := range refs {
		if v, ok := ctx[ref]; !ok || v == nil {
			return true
		}
	}
	return false
}
