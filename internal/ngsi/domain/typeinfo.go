package ngsi

import (
	"strings"
)

// DataModel selects the wire representation sent to the broker.
type DataModel string

const (
	DataModelV2    DataModel = "v2"
	DataModelLD    DataModel = "ld"
	DataModelMixed DataModel = "mixed"
)

// ParseDataModel normalizes a configured data model name.
func ParseDataModel(value string) (DataModel, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "v2", "ngsiv2", "ngsi-v2", "legacy":
		return DataModelV2, true
	case "ld", "ngsi-ld", "linked-data":
		return DataModelLD, true
	case "mixed":
		return DataModelMixed, true
	default:
		return "", false
	}
}

// ExpressionLanguage selects the expression dialect of a device.
type ExpressionLanguage string

const (
	LanguageLegacy ExpressionLanguage = "legacy"
	LanguageJEXL   ExpressionLanguage = "jexl"
)

// DuplicatePolicy decides what happens to attributes sharing a final name on one entity.
type DuplicatePolicy string

const (
	// DuplicateUnion keeps every attribute and tags each with its source dataset.
	DuplicateUnion DuplicatePolicy = "union"
	DuplicateFirst DuplicatePolicy = "first"
	DuplicateLast  DuplicatePolicy = "last"
)

// DefaultLDContext is used when a device does not configure its own @context.
const DefaultLDContext = "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld"

// DefaultEntityNameTemplate builds the device entity id when none is configured.
const DefaultEntityNameTemplate = "{id}"

// AttributeMapping binds a device field to an entity attribute.
type AttributeMapping struct {
	ObjectID   string              `yaml:"object_id" json:"object_id,omitempty"`
	Name       string              `yaml:"name" json:"name"`
	Type       string              `yaml:"type" json:"type"`
	EntityName string              `yaml:"entity_name" json:"entity_name,omitempty"`
	EntityType string              `yaml:"entity_type" json:"entity_type,omitempty"`
	Expression string              `yaml:"expression" json:"expression,omitempty"`
	Mandatory  bool                `yaml:"mandatory" json:"mandatory,omitempty"`
	Metadata   map[string]Metadata `yaml:"metadata" json:"metadata,omitempty"`
}

// Source is the incoming attribute name the mapping consumes.
func (m AttributeMapping) Source() string {
	if m.ObjectID != "" {
		return m.ObjectID
	}
	return m.Name
}

// TypeInformation is the static configuration of one device.
type TypeInformation struct {
	Service          string             `yaml:"service"`
	Subservice       string             `yaml:"subservice"`
	DeviceID         string             `yaml:"device_id"`
	EntityType       string             `yaml:"entity_type"`
	EntityName       string             `yaml:"entity_name"`
	Attributes       []AttributeMapping `yaml:"attributes"`
	StaticAttributes []Attribute        `yaml:"static_attributes"`
	Timezone         string             `yaml:"timezone"`
	Timestamp        bool               `yaml:"timestamp"`
	DataModel        DataModel          `yaml:"data_model"`
	DeviceDataModel  DataModel          `yaml:"device_data_model"`
	Context          []string           `yaml:"context"`
	Conjunction      Conjunction        `yaml:"conjunction"`
	Language         ExpressionLanguage `yaml:"expression_language"`
	DuplicatePolicy  DuplicatePolicy    `yaml:"duplicate_policy"`
	ExplicitAttrs    bool               `yaml:"explicit_attrs"`
}

// ActiveModel resolves the data model used for this device.
func (t TypeInformation) ActiveModel() DataModel {
	switch t.DataModel {
	case DataModelLD:
		return DataModelLD
	case DataModelMixed:
		if t.DeviceDataModel == DataModelLD {
			return DataModelLD
		}
		return DataModelV2
	default:
		return DataModelV2
	}
}

// EntityID renders the device's own entity id.
func (t TypeInformation) EntityID() string {
	tpl := t.EntityName
	if tpl == "" {
		tpl = DefaultEntityNameTemplate
	}
	return strings.NewReplacer("{type}", t.EntityType, "{id}", t.DeviceID).Replace(tpl)
}

// LDContext returns the configured @context or the core context.
func (t TypeInformation) LDContext() []string {
	if len(t.Context) == 0 {
		return []string{DefaultLDContext}
	}
	return t.Context
}

// ExpressionLanguage returns the configured dialect, legacy by default.
func (t TypeInformation) ExpressionLanguage() ExpressionLanguage {
	if t.Language == LanguageJEXL {
		return LanguageJEXL
	}
	return LanguageLegacy
}

// Duplicates returns the configured duplicate policy, union by default.
func (t TypeInformation) Duplicates() DuplicatePolicy {
	switch t.DuplicatePolicy {
	case DuplicateFirst, DuplicateLast:
		return t.DuplicatePolicy
	default:
		return DuplicateUnion
	}
}

// MappingsFor returns every mapping consuming the given incoming attribute.
func (t TypeInformation) MappingsFor(source string) []AttributeMapping {
	var out []AttributeMapping
	for _, m := range t.Attributes {
		if m.Source() == source {
			out = append(out, m)
		}
	}
	return out
}
