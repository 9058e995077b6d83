package encoding

import (
	"encoding/json"

	"ngsi-gateway/internal/ngsi/casting"
	ngsi "ngsi-gateway/internal/ngsi/domain"
)

const datasetPrefix = "urn:ngsi-ld:Dataset:"

// LinkedDataEntity is a JSON-LD entity.
type LinkedDataEntity struct {
	Context    []string
	ID         string
	Type       string
	Attributes map[string]any
}

func (e *LinkedDataEntity) DataModel() ngsi.DataModel { return ngsi.DataModelLD }
func (e *LinkedDataEntity) EntityID() string          { return e.ID }
func (e *LinkedDataEntity) EntityType() string        { return e.Type }

// UpdateBody is the full envelope; the broker needs @context to expand attribute names.
func (e *LinkedDataEntity) UpdateBody() ([]byte, error) {
	return e.MarshalJSON()
}

// MarshalJSON renders {"@context", id, type, <name>: {...}}.
func (e *LinkedDataEntity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Attributes)+3)
	for name, attr := range e.Attributes {
		out[name] = attr
	}
	out["@context"] = e.Context
	out["id"] = e.ID
	out["type"] = e.Type
	return json.Marshal(out)
}

// LinkedDataEncoder builds NGSI-LD entities.
type LinkedDataEncoder struct {
	opts options
}

// NewLinkedDataEncoder constructs the NGSI-LD encoder.
func NewLinkedDataEncoder(opts ...Option) *LinkedDataEncoder {
	return &LinkedDataEncoder{opts: buildOptions(opts)}
}

// Encode implements Encoder. The root timestamp attribute never reaches the
// envelope, it becomes observedAt of every attribute instead.
func (e *LinkedDataEncoder) Encode(entity ngsi.TargetEntity, typeInfo ngsi.TypeInformation) (Envelope, error) {
	attrs, ts := partition(entity.Attributes)

	var observedAt string
	switch {
	case ts != nil:
		observedAt = observed(ts.Value)
	case typeInfo.Timestamp:
		observedAt = e.opts.now().UTC().Format(casting.DateTimeLayout)
	}

	out := &LinkedDataEntity{
		Context:    typeInfo.LDContext(),
		ID:         LinkedDataID(entity.Type, entity.ID),
		Type:       entity.Type,
		Attributes: make(map[string]any, len(attrs)),
	}
	for _, attr := range attrs {
		encoded := linkedAttribute(attr, observedAt)
		switch prev := out.Attributes[attr.Name].(type) {
		case nil:
			out.Attributes[attr.Name] = encoded
		case []map[string]any:
			out.Attributes[attr.Name] = append(prev, encoded)
		case map[string]any:
			out.Attributes[attr.Name] = []map[string]any{prev, encoded}
		}
	}
	return out, nil
}

func linkedAttribute(attr ngsi.Attribute, observedAt string) map[string]any {
	out := linkedValue(attr.Type, attr.Value)
	for key, md := range attr.Metadata {
		switch key {
		case ngsi.TimestampAttribute:
			observedAt = observed(md.Value)
		case "unitCode":
			out["unitCode"] = wireValue(md.Value)
		default:
			out[key] = linkedValue(md.Type, md.Value)
		}
	}
	if observedAt != "" {
		out["observedAt"] = observedAt
	}
	if attr.DatasetID != "" {
		out["datasetId"] = datasetPrefix + attr.DatasetID
	}
	return out
}

// linkedValue applies the per-type conversion shared by attributes and metadata.
func linkedValue(attrType string, value any) map[string]any {
	if casting.KindOf(attrType) == casting.KindRelationship {
		return map[string]any{"type": "Relationship", "object": value}
	}
	switch v := value.(type) {
	case casting.Geometry:
		return map[string]any{"type": "GeoProperty", "value": v}
	case casting.Temporal:
		return map[string]any{
			"type":  "Property",
			"value": map[string]any{"@type": v.TypeTag(), "@value": v.String()},
		}
	case casting.Opaque:
		return map[string]any{
			"type":  "Property",
			"value": map[string]any{"@type": v.Type, "@value": v.Value},
		}
	default:
		return map[string]any{"type": "Property", "value": value}
	}
}

// observed formats a device timestamp, falling back to the default instant
// when the value is unusable.
func observed(value any) string {
	parsed, err := casting.ParseTime(value)
	if err != nil || parsed.Unix() <= 0 {
		return casting.DefaultDateTime
	}
	return parsed.Format(casting.DateTimeLayout)
}
