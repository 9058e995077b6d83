package casting

import "strings"

// Kind is the casting strategy selected by an attribute type.
type Kind int

const (
	KindOpaque Kind = iota
	KindText
	KindNumber
	KindInteger
	KindFloat
	KindBoolean
	KindDateTime
	KindDate
	KindTime
	KindGeometry
	KindGeoJSON
	KindRelationship
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindDateTime:
		return "datetime"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindGeometry:
		return "geometry"
	case KindGeoJSON:
		return "geojson"
	case KindRelationship:
		return "relationship"
	default:
		return "opaque"
	}
}

type typeEntry struct {
	kind    Kind
	geoType string
}

// kinds is the full dispatch table. Anything missing is KindOpaque.
var kinds = map[string]typeEntry{
	"text":             {kind: KindText},
	"string":           {kind: KindText},
	"property":         {kind: KindText},
	"textunrestricted": {kind: KindText},

	"number":  {kind: KindNumber},
	"integer": {kind: KindInteger},
	"float":   {kind: KindFloat},
	"boolean": {kind: KindBoolean},

	"datetime": {kind: KindDateTime},
	"date":     {kind: KindDate},
	"time":     {kind: KindTime},

	"point":               {kind: KindGeometry, geoType: "Point"},
	"geo:point":           {kind: KindGeometry, geoType: "Point"},
	"linestring":          {kind: KindGeometry, geoType: "LineString"},
	"geo:linestring":      {kind: KindGeometry, geoType: "LineString"},
	"polygon":             {kind: KindGeometry, geoType: "Polygon"},
	"geo:polygon":         {kind: KindGeometry, geoType: "Polygon"},
	"multipoint":          {kind: KindGeometry, geoType: "MultiPoint"},
	"geo:multipoint":      {kind: KindGeometry, geoType: "MultiPoint"},
	"multilinestring":     {kind: KindGeometry, geoType: "MultiLineString"},
	"geo:multilinestring": {kind: KindGeometry, geoType: "MultiLineString"},
	"multipolygon":        {kind: KindGeometry, geoType: "MultiPolygon"},
	"geo:multipolygon":    {kind: KindGeometry, geoType: "MultiPolygon"},
	"geo:json":            {kind: KindGeoJSON},
	"geoproperty":         {kind: KindGeoJSON},

	"relationship": {kind: KindRelationship},
}

// KindOf returns the strategy for a declared attribute type.
func KindOf(attrType string) Kind {
	return lookup(attrType).kind
}

// GeoJSONType returns the GeoJSON geometry type for geometry attribute types.
func GeoJSONType(attrType string) (string, bool) {
	entry := lookup(attrType)
	return entry.geoType, entry.kind == KindGeometry
}

// IsNumeric reports whether the type casts to a JSON number.
func IsNumeric(attrType string) bool {
	switch KindOf(attrType) {
	case KindNumber, KindInteger, KindFloat:
		return true
	default:
		return false
	}
}

func lookup(attrType string) typeEntry {
	entry, ok := kinds[strings.ToLower(strings.TrimSpace(attrType))]
	if !ok {
		return typeEntry{kind: KindOpaque}
	}
	return entry
}
