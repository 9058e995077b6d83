package ngsi

import "strings"

// TimestampAttribute is the attribute and metadata name carrying the measurement time.
const TimestampAttribute = "TimeInstant"

// Metadata is a typed value attached to an attribute.
type Metadata struct {
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value" yaml:"value"`
}

// Attribute is a single named measurement on its way to the broker.
type Attribute struct {
	Name     string              `json:"name"`
	Type     string              `json:"type"`
	Value    any                 `json:"value"`
	Metadata map[string]Metadata `json:"metadata,omitempty"`

	// ObjectID is the source field the attribute was mapped from. It only
	// disambiguates attributes during expansion and is never encoded.
	ObjectID string `json:"-"`
	// Expression is set while the value still has to be computed.
	Expression string `json:"-"`
	// Mandatory attributes fail the translation when their expression yields nothing.
	Mandatory bool `json:"-"`
	// DatasetID is stamped on attributes that share a name on the same entity.
	DatasetID string `json:"-"`
}

// Validate checks the attribute carries the fields every encoder needs.
func (a Attribute) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return NewError(KindBadRequest, "attribute without name")
	}
	if strings.TrimSpace(a.Type) == "" {
		return NewError(KindBadRequest, "attribute "+a.Name+" without type")
	}
	return nil
}

// Clone returns a copy that does not share the metadata map.
func (a Attribute) Clone() Attribute {
	if a.Metadata != nil {
		md := make(map[string]Metadata, len(a.Metadata))
		for k, v := range a.Metadata {
			md[k] = v
		}
		a.Metadata = md
	}
	return a
}

// Stripped drops the expansion-only fields.
func (a Attribute) Stripped() Attribute {
	a.ObjectID = ""
	a.Expression = ""
	a.Mandatory = false
	return a
}

// TargetEntity is one broker entity produced from a device update.
type TargetEntity struct {
	ID         string
	Type       string
	Attributes []Attribute
}

// Empty reports whether there is nothing to send for the entity.
func (e TargetEntity) Empty() bool {
	return len(e.Attributes) == 0
}

// Attribute returns the first attribute with the given name.
func (e TargetEntity) Attribute(name string) (Attribute, bool) {
	for _, attr := range e.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}
