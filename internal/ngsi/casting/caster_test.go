package casting

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

func TestCastZeroStringIsNumberZero(t *testing.T) {
	c := NewCaster(WithNumericDefault(42))
	for _, attrType := range []string{"number", "Number", "integer", "float"} {
		got, err := c.Cast("0", attrType)
		if err != nil {
			t.Fatalf("cast %s: %v", attrType, err)
		}
		n, ok := toFloat(got)
		if !ok || n != 0 {
			t.Fatalf("expected 0 for %s, got %#v", attrType, got)
		}
	}
}

func TestCastNumbers(t *testing.T) {
	c := NewCaster()
	got, _ := c.Cast("21.5", "float")
	if got != 21.5 {
		t.Fatalf("expected 21.5, got %#v", got)
	}
	got, _ = c.Cast("21.5", "integer")
	if got != int64(21) {
		t.Fatalf("expected int64 21, got %#v", got)
	}
	got, _ = c.Cast("7", "number")
	if got != int64(7) {
		t.Fatalf("expected int64 7, got %#v", got)
	}
	got, _ = c.Cast("7.25", "number")
	if got != 7.25 {
		t.Fatalf("expected 7.25, got %#v", got)
	}
}

func TestCastUnparseableNumberUsesDefault(t *testing.T) {
	c := NewCaster(WithNumericDefault(-1))
	got, err := c.Cast("not-a-number", "float")
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if got != -1.0 {
		t.Fatalf("expected default -1, got %#v", got)
	}
	got, _ = NewCaster().Cast("NaN", "number")
	if got != int64(0) {
		t.Fatalf("expected 0 for NaN, got %#v", got)
	}
}

func TestCastIntegerSaturatesOutOfRange(t *testing.T) {
	c := NewCaster()
	cases := map[string]int64{
		"1e30":  math.MaxInt64,
		"-1e30": math.MinInt64,
		"12.9":  12,
	}
	for in, want := range cases {
		got, err := c.Cast(in, "integer")
		if err != nil {
			t.Fatalf("cast %s: %v", in, err)
		}
		if got != want {
			t.Fatalf("cast %s: expected %d, got %#v", in, want, got)
		}
	}
	got, _ := c.Cast("1e30", "Number")
	if got != 1e30 {
		t.Fatalf("large numbers stay float, got %#v", got)
	}
}

func TestCastBoolean(t *testing.T) {
	c := NewCaster()
	cases := map[any]bool{"true": true, "false": false, "1": true, "junk": false, 0.0: false, 3.0: true, true: true}
	for in, want := range cases {
		got, _ := c.Cast(in, "Boolean")
		if got != want {
			t.Fatalf("cast %#v: expected %v, got %#v", in, want, got)
		}
	}
}

func TestCastPointSwapsToLongitudeFirst(t *testing.T) {
	c := NewCaster()
	for _, attrType := range []string{"geo:point", "point", "Point"} {
		got, err := c.Cast("40.4,-3.7", attrType)
		if err != nil {
			t.Fatalf("cast %s: %v", attrType, err)
		}
		geo, ok := got.(Geometry)
		if !ok {
			t.Fatalf("expected geometry, got %T", got)
		}
		if geo.Type != "Point" {
			t.Fatalf("expected Point, got %s", geo.Type)
		}
		if !reflect.DeepEqual(geo.Coordinates, []float64{-3.7, 40.4}) {
			t.Fatalf("unexpected coordinates %#v", geo.Coordinates)
		}
	}
}

func TestCastOddCoordinatesFails(t *testing.T) {
	c := NewCaster()
	_, err := c.Cast("1,2,3", "linestring")
	if !errors.Is(err, ngsi.ErrBadGeocoordinates) {
		t.Fatalf("expected BadGeocoordinates, got %v", err)
	}
	_, err = c.Cast([]any{1.0, 2.0, 3.0}, "geo:multipoint")
	if !errors.Is(err, ngsi.ErrBadGeocoordinates) {
		t.Fatalf("expected BadGeocoordinates for list, got %v", err)
	}
}

func TestCastPolygonWrapsRing(t *testing.T) {
	got, err := NewCaster().Cast("0,0,0,1,1,1,0,0", "geo:polygon")
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	geo := got.(Geometry)
	rings, ok := geo.Coordinates.([][][]float64)
	if !ok || len(rings) != 1 || len(rings[0]) != 4 {
		t.Fatalf("unexpected polygon %#v", geo.Coordinates)
	}
	if !reflect.DeepEqual(rings[0][1], []float64{1, 0}) {
		t.Fatalf("expected swapped pair, got %#v", rings[0][1])
	}
}

func TestCastGeoJSONPassThrough(t *testing.T) {
	got, err := NewCaster().Cast(`{"type":"Point","coordinates":[1,2]}`, "geo:json")
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	geo := got.(Geometry)
	if geo.Type != "Point" || !reflect.DeepEqual(geo.Coordinates, []any{1.0, 2.0}) {
		t.Fatalf("unexpected geometry %#v", geo)
	}
}

func TestCastTemporal(t *testing.T) {
	c := NewCaster()
	got, err := c.Cast("2026-01-26T09:30:00+01:00", "DateTime")
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	tv := got.(Temporal)
	if tv.String() != "2026-01-26T08:30:00.000Z" || tv.TypeTag() != "DateTime" {
		t.Fatalf("unexpected datetime %s %s", tv.String(), tv.TypeTag())
	}
	got, _ = c.Cast("2026-01-26", "date")
	if got.(Temporal).String() != "2026-01-26" {
		t.Fatalf("unexpected date %s", got.(Temporal).String())
	}
	got, _ = c.Cast("10:11:12", "time")
	if got.(Temporal).String() != "10:11:12" || got.(Temporal).TypeTag() != "Time" {
		t.Fatalf("unexpected time %s", got.(Temporal).String())
	}
	got, _ = c.Cast(int64(1769416200000), "datetime")
	if !got.(Temporal).Time.Equal(time.UnixMilli(1769416200000)) {
		t.Fatalf("unexpected epoch conversion %v", got)
	}
	if _, err := c.Cast("yesterday", "datetime"); !errors.Is(err, ngsi.ErrBadTimestamp) {
		t.Fatalf("expected BadTimestamp, got %v", err)
	}
}

func TestCastUnknownTypeIsOpaque(t *testing.T) {
	got, err := NewCaster().Cast("raw", "WeirdType")
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	o, ok := got.(Opaque)
	if !ok || o.Type != "WeirdType" || o.Value != "raw" {
		t.Fatalf("unexpected opaque %#v", got)
	}
}

func TestCastAttributeKeepsTimestampMetadataRaw(t *testing.T) {
	attr := ngsi.Attribute{
		Name:  "t",
		Type:  "Number",
		Value: "3",
		Metadata: map[string]ngsi.Metadata{
			ngsi.TimestampAttribute: {Type: "DateTime", Value: "bogus"},
			"accuracy":              {Type: "Number", Value: "0.5"},
		},
	}
	out, err := NewCaster().CastAttribute(attr)
	if err != nil {
		t.Fatalf("cast attribute: %v", err)
	}
	if out.Value != int64(3) {
		t.Fatalf("unexpected value %#v", out.Value)
	}
	if out.Metadata["accuracy"].Value != 0.5 {
		t.Fatalf("unexpected metadata %#v", out.Metadata["accuracy"])
	}
	if out.Metadata[ngsi.TimestampAttribute].Value != "bogus" {
		t.Fatalf("timestamp metadata must stay raw")
	}
	if attr.Metadata["accuracy"].Value != "0.5" {
		t.Fatalf("input metadata mutated")
	}
}
