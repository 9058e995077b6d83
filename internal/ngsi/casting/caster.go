package casting

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// Opaque preserves a value whose declared type has no casting strategy.
type Opaque struct {
	Type  string
	Value any
}

// Caster converts raw attribute values into the native shape of their declared type.
type Caster struct {
	numericDefault float64
}

// Option configures the caster.
type Option func(*Caster)

// WithNumericDefault sets the value substituted for unparseable numbers.
func WithNumericDefault(value float64) Option {
	return func(c *Caster) {
		if !math.IsNaN(value) && !math.IsInf(value, 0) {
			c.numericDefault = value
		}
	}
}

// NewCaster constructs a caster.
func NewCaster(opts ...Option) *Caster {
	c := &Caster{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cast converts value according to attrType. Unknown types never fail.
func (c *Caster) Cast(value any, attrType string) (any, error) {
	kind := KindOf(attrType)
	switch kind {
	case KindNumber, KindInteger, KindFloat:
		return c.castNumber(value, kind), nil
	case KindBoolean:
		return castBool(value), nil
	case KindDateTime, KindDate, KindTime:
		if t, ok := value.(Temporal); ok {
			return Temporal{Kind: kind, Time: t.Time}, nil
		}
		parsed, err := ParseTime(value)
		if err != nil {
			return nil, err
		}
		return Temporal{Kind: kind, Time: parsed}, nil
	case KindGeometry:
		geoType, _ := GeoJSONType(attrType)
		return parseGeometry(geoType, value)
	case KindGeoJSON:
		return parseGeometry("", value)
	case KindText, KindRelationship:
		return value, nil
	default:
		if o, ok := value.(Opaque); ok {
			return o, nil
		}
		return Opaque{Type: attrType, Value: value}, nil
	}
}

// CastAttribute casts the attribute value and every metadata value except the timestamp,
// which encoders handle themselves.
func (c *Caster) CastAttribute(attr ngsi.Attribute) (ngsi.Attribute, error) {
	out := attr.Clone()
	if attr.Name == ngsi.TimestampAttribute {
		return out, nil
	}
	value, err := c.Cast(attr.Value, attr.Type)
	if err != nil {
		return ngsi.Attribute{}, annotate(err, attr.Name)
	}
	out.Value = value
	for key, md := range out.Metadata {
		if key == ngsi.TimestampAttribute || md.Type == "" {
			continue
		}
		v, err := c.Cast(md.Value, md.Type)
		if err != nil {
			return ngsi.Attribute{}, annotate(err, attr.Name+"."+key)
		}
		md.Value = v
		out.Metadata[key] = md
	}
	return out, nil
}

func annotate(err error, name string) error {
	var e *ngsi.Error
	if errors.As(err, &e) {
		copied := *e
		copied.Detail = strings.TrimSpace("attribute " + name + " " + copied.Detail)
		return &copied
	}
	return err
}

func (c *Caster) castNumber(value any, kind Kind) any {
	n, ok := toFloat(value)
	if !ok || math.IsNaN(n) {
		n = c.numericDefault
	}
	switch kind {
	case KindInteger:
		return clampInt(n)
	case KindFloat:
		return n
	default:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	}
}

// clampInt truncates n, saturating at the int64 bounds.
func clampInt(n float64) int64 {
	switch {
	case n >= math.MaxInt64:
		return math.MaxInt64
	case n <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(n)
	}
}

func castBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		n, ok := toFloat(value)
		return ok && n != 0
	}
}

func toFloat(value any) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int32:
		n = float64(v)
	case int64:
		n = float64(v)
	case uint:
		n = float64(v)
	case uint64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = f
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
