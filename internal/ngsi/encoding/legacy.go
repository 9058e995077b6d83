package encoding

import (
	"encoding/json"
	"errors"

	"ngsi-gateway/internal/ngsi/casting"
	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// injectedLayout keeps the device timezone offset on generated timestamps.
const injectedLayout = "2006-01-02T15:04:05.000Z07:00"

// LegacyAttribute is one attribute of a v2 entity.
type LegacyAttribute struct {
	Type     string                     `json:"type"`
	Value    any                        `json:"value"`
	Metadata map[string]LegacyAttribute `json:"metadata,omitempty"`
}

// LegacyEntity is a flat v2 entity.
type LegacyEntity struct {
	ID         string
	Type       string
	Attributes map[string]LegacyAttribute
}

func (e *LegacyEntity) DataModel() ngsi.DataModel { return ngsi.DataModelV2 }
func (e *LegacyEntity) EntityID() string          { return e.ID }
func (e *LegacyEntity) EntityType() string        { return e.Type }

// UpdateBody is the attribute map sent to /v2/entities/<id>/attrs.
func (e *LegacyEntity) UpdateBody() ([]byte, error) {
	return json.Marshal(e.Attributes)
}

// MarshalJSON renders {id, type, <name>: {...}}.
func (e *LegacyEntity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Attributes)+2)
	for name, attr := range e.Attributes {
		out[name] = attr
	}
	out["id"] = e.ID
	out["type"] = e.Type
	return json.Marshal(out)
}

// LegacyEncoder builds v2 entities.
type LegacyEncoder struct {
	opts options
}

// NewLegacyEncoder constructs the v2 encoder.
func NewLegacyEncoder(opts ...Option) *LegacyEncoder {
	return &LegacyEncoder{opts: buildOptions(opts)}
}

// Encode implements Encoder.
func (e *LegacyEncoder) Encode(entity ngsi.TargetEntity, typeInfo ngsi.TypeInformation) (Envelope, error) {
	attrs, ts := partition(entity.Attributes)

	var stamp string
	switch {
	case ts != nil && typeInfo.Timestamp:
		parsed, err := casting.ParseTime(ts.Value)
		if err != nil {
			return nil, annotateEntity(err, entity.ID)
		}
		stamp = parsed.Format(casting.DateTimeLayout)
	case ts != nil:
		stamp, _ = ts.Value.(string)
	case typeInfo.Timestamp:
		stamp = e.opts.now().In(location(typeInfo.Timezone)).Format(injectedLayout)
	}

	out := &LegacyEntity{ID: entity.ID, Type: entity.Type, Attributes: make(map[string]LegacyAttribute, len(attrs)+1)}
	for _, attr := range attrs {
		encoded := legacyAttribute(attr)
		if typeInfo.Timestamp && stamp != "" {
			if _, ok := encoded.Metadata[ngsi.TimestampAttribute]; !ok {
				if encoded.Metadata == nil {
					encoded.Metadata = make(map[string]LegacyAttribute, 1)
				}
				encoded.Metadata[ngsi.TimestampAttribute] = LegacyAttribute{Type: "DateTime", Value: stamp}
			}
		}
		name := attr.Name
		if _, taken := out.Attributes[name]; taken && attr.DatasetID != "" {
			name = attr.Name + "_" + attr.DatasetID
		}
		out.Attributes[name] = encoded
	}
	if stamp != "" {
		out.Attributes[ngsi.TimestampAttribute] = LegacyAttribute{Type: "DateTime", Value: stamp}
	} else if ts != nil {
		out.Attributes[ngsi.TimestampAttribute] = LegacyAttribute{Type: ts.Type, Value: ts.Value}
	}
	return out, nil
}

func legacyAttribute(attr ngsi.Attribute) LegacyAttribute {
	out := LegacyAttribute{Type: attr.Type, Value: wireValue(attr.Value)}
	if _, ok := attr.Value.(casting.Geometry); ok {
		out.Type = "geo:json"
	}
	if len(attr.Metadata) > 0 {
		out.Metadata = make(map[string]LegacyAttribute, len(attr.Metadata))
		for key, md := range attr.Metadata {
			out.Metadata[key] = LegacyAttribute{Type: md.Type, Value: wireValue(md.Value)}
		}
	}
	return out
}

func annotateEntity(err error, id string) error {
	var e *ngsi.Error
	if errors.As(err, &e) {
		copied := *e
		copied.Entity = id
		return &copied
	}
	return err
}
