package encoding

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ngsi-gateway/internal/ngsi/casting"
	ngsi "ngsi-gateway/internal/ngsi/domain"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func clock() time.Time { return fixedNow }

func cast(t *testing.T, attrs ...ngsi.Attribute) []ngsi.Attribute {
	t.Helper()
	c := casting.NewCaster()
	out := make([]ngsi.Attribute, 0, len(attrs))
	for _, a := range attrs {
		cast, err := c.CastAttribute(a)
		if err != nil {
			t.Fatalf("cast %s: %v", a.Name, err)
		}
		out = append(out, cast)
	}
	return out
}

func decode(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestLinkedDataFloatExample(t *testing.T) {
	typeInfo := ngsi.TypeInformation{DeviceID: "s1", EntityType: "Sensor", DataModel: ngsi.DataModelLD}
	entity := ngsi.TargetEntity{ID: "s1", Type: "Sensor", Attributes: cast(t, ngsi.Attribute{Name: "t", Type: "float", Value: "21.5"})}

	env, err := New(typeInfo.ActiveModel(), WithClock(clock)).Encode(entity, typeInfo)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if env.EntityID() != "urn:ngsi-ld:Sensor:s1" || env.DataModel() != ngsi.DataModelLD {
		t.Fatalf("unexpected envelope identity %s %s", env.EntityID(), env.DataModel())
	}
	got := decode(t, env)
	ctx, ok := got["@context"].([]any)
	if !ok || len(ctx) != 1 || ctx[0] != ngsi.DefaultLDContext {
		t.Fatalf("unexpected @context %#v", got["@context"])
	}
	if got["type"] != "Sensor" {
		t.Fatalf("unexpected type %#v", got["type"])
	}
	attr, ok := got["t"].(map[string]any)
	if !ok || attr["type"] != "Property" || attr["value"] != 21.5 {
		t.Fatalf("unexpected attribute %#v", got["t"])
	}
	if _, ok := attr["observedAt"]; ok {
		t.Fatalf("no timestamp policy, no observedAt expected")
	}
}

func TestLinkedDataTypePromotion(t *testing.T) {
	typeInfo := ngsi.TypeInformation{DeviceID: "d", EntityType: "T", DataModel: ngsi.DataModelLD}
	entity := ngsi.TargetEntity{ID: "urn:ngsi-ld:T:d", Type: "T", Attributes: cast(t,
		ngsi.Attribute{Name: "loc", Type: "geo:point", Value: "40.4,-3.7"},
		ngsi.Attribute{Name: "owner", Type: "Relationship", Value: "urn:ngsi-ld:Person:1"},
		ngsi.Attribute{Name: "since", Type: "Date", Value: "2024-02-03"},
		ngsi.Attribute{Name: "blob", Type: "Custom", Value: "x"},
		ngsi.Attribute{Name: "temp", Type: "Number", Value: "20", Metadata: map[string]ngsi.Metadata{
			"unitCode": {Type: "Text", Value: "CEL"},
			"accuracy": {Type: "Number", Value: "0.5"},
		}},
	)}

	env, err := NewLinkedDataEncoder().Encode(entity, typeInfo)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if env.EntityID() != "urn:ngsi-ld:T:d" {
		t.Fatalf("urn ids must be kept, got %s", env.EntityID())
	}
	got := decode(t, env)

	loc := got["loc"].(map[string]any)
	geo := loc["value"].(map[string]any)
	coords := geo["coordinates"].([]any)
	if loc["type"] != "GeoProperty" || geo["type"] != "Point" || coords[0] != -3.7 || coords[1] != 40.4 {
		t.Fatalf("unexpected geo property %#v", loc)
	}
	owner := got["owner"].(map[string]any)
	if owner["type"] != "Relationship" || owner["object"] != "urn:ngsi-ld:Person:1" {
		t.Fatalf("unexpected relationship %#v", owner)
	}
	if _, ok := owner["value"]; ok {
		t.Fatalf("relationship must not carry value")
	}
	since := got["since"].(map[string]any)["value"].(map[string]any)
	if since["@type"] != "Date" || since["@value"] != "2024-02-03" {
		t.Fatalf("unexpected temporal %#v", since)
	}
	blob := got["blob"].(map[string]any)["value"].(map[string]any)
	if blob["@type"] != "Custom" || blob["@value"] != "x" {
		t.Fatalf("unexpected opaque %#v", blob)
	}
	temp := got["temp"].(map[string]any)
	if temp["unitCode"] != "CEL" {
		t.Fatalf("unitCode not promoted: %#v", temp)
	}
	accuracy := temp["accuracy"].(map[string]any)
	if accuracy["type"] != "Property" || accuracy["value"] != 0.5 {
		t.Fatalf("metadata not converted: %#v", accuracy)
	}
}

func TestLinkedDataTimestampBecomesObservedAt(t *testing.T) {
	typeInfo := ngsi.TypeInformation{DeviceID: "d", EntityType: "T", DataModel: ngsi.DataModelLD, Timestamp: true}
	entity := ngsi.TargetEntity{ID: "d", Type: "T", Attributes: cast(t,
		ngsi.Attribute{Name: "a", Type: "Number", Value: 1},
		ngsi.Attribute{Name: ngsi.TimestampAttribute, Type: "DateTime", Value: "2024-01-02T03:04:05Z"},
	)}
	got := decodeLD(t, entity, typeInfo)
	if _, ok := got[ngsi.TimestampAttribute]; ok {
		t.Fatalf("root timestamp must not be emitted")
	}
	if a := got["a"].(map[string]any); a["observedAt"] != "2024-01-02T03:04:05.000Z" {
		t.Fatalf("unexpected observedAt %#v", a["observedAt"])
	}

	entity.Attributes = cast(t, ngsi.Attribute{Name: "a", Type: "Number", Value: 1})
	got = decodeLD(t, entity, typeInfo)
	if a := got["a"].(map[string]any); a["observedAt"] != "2024-05-06T07:08:09.000Z" {
		t.Fatalf("missing timestamp must be injected, got %#v", a["observedAt"])
	}

	entity.Attributes = cast(t,
		ngsi.Attribute{Name: "a", Type: "Number", Value: 1},
		ngsi.Attribute{Name: ngsi.TimestampAttribute, Type: "DateTime", Value: "garbage"},
	)
	got = decodeLD(t, entity, typeInfo)
	if a := got["a"].(map[string]any); a["observedAt"] != casting.DefaultDateTime {
		t.Fatalf("invalid timestamp must fall back, got %#v", a["observedAt"])
	}
}

func decodeLD(t *testing.T, entity ngsi.TargetEntity, typeInfo ngsi.TypeInformation) map[string]any {
	t.Helper()
	env, err := NewLinkedDataEncoder(WithClock(clock)).Encode(entity, typeInfo)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return decode(t, env)
}

func TestLinkedDataUnionEmitsDatasets(t *testing.T) {
	entity := ngsi.TargetEntity{ID: "d", Type: "T", Attributes: []ngsi.Attribute{
		{Name: "v", Type: "Number", Value: int64(220), DatasetID: "v1"},
		{Name: "v", Type: "Number", Value: int64(231), DatasetID: "v2"},
	}}
	got := decodeLD(t, entity, ngsi.TypeInformation{EntityType: "T"})
	list, ok := got["v"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected two instances, got %#v", got["v"])
	}
	second := list[1].(map[string]any)
	if second["datasetId"] != "urn:ngsi-ld:Dataset:v2" || second["value"] != float64(231) {
		t.Fatalf("unexpected instance %#v", second)
	}
}

func TestLegacyEncodesFlatEntity(t *testing.T) {
	typeInfo := ngsi.TypeInformation{DeviceID: "d", EntityType: "T"}
	entity := ngsi.TargetEntity{ID: "d", Type: "T", Attributes: cast(t,
		ngsi.Attribute{Name: "t", Type: "Number", Value: "0"},
		ngsi.Attribute{Name: "loc", Type: "geo:point", Value: "40.4,-3.7"},
		ngsi.Attribute{Name: "at", Type: "DateTime", Value: "2024-01-02T03:04:05Z"},
	)}
	env, err := NewLegacyEncoder().Encode(entity, typeInfo)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := decode(t, env)
	if got["id"] != "d" || got["type"] != "T" {
		t.Fatalf("unexpected identity %#v", got)
	}
	tAttr := got["t"].(map[string]any)
	if tAttr["value"] != float64(0) || tAttr["type"] != "Number" {
		t.Fatalf("unexpected number %#v", tAttr)
	}
	loc := got["loc"].(map[string]any)
	if loc["type"] != "geo:json" || loc["value"].(map[string]any)["type"] != "Point" {
		t.Fatalf("geometry should stay geometry, got %#v", loc)
	}
	if at := got["at"].(map[string]any); at["value"] != "2024-01-02T03:04:05.000Z" {
		t.Fatalf("unexpected datetime %#v", at)
	}

	body, err := env.UpdateBody()
	if err != nil {
		t.Fatalf("update body: %v", err)
	}
	var attrs map[string]any
	if err := json.Unmarshal(body, &attrs); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if _, ok := attrs["id"]; ok {
		t.Fatalf("update body must only carry attributes")
	}
}

func TestEncodersAgreeOnNumbersAndGeometry(t *testing.T) {
	attrs := cast(t,
		ngsi.Attribute{Name: "t", Type: "Number", Value: "21.5"},
		ngsi.Attribute{Name: "n", Type: "Integer", Value: "7"},
		ngsi.Attribute{Name: "loc", Type: "geo:point", Value: "40.4,-3.7"},
	)
	entity := ngsi.TargetEntity{ID: "d", Type: "T", Attributes: attrs}
	models := map[ngsi.DataModel]map[string]any{}
	for _, model := range []ngsi.DataModel{ngsi.DataModelV2, ngsi.DataModelLD} {
		typeInfo := ngsi.TypeInformation{DeviceID: "d", EntityType: "T", DataModel: model}
		env, err := New(model, WithClock(clock)).Encode(entity, typeInfo)
		if err != nil {
			t.Fatalf("%s encode: %v", model, err)
		}
		models[model] = decode(t, env)
	}

	for model, got := range models {
		if v := got["t"].(map[string]any)["value"]; v != 21.5 {
			t.Fatalf("%s: float changed to %#v", model, v)
		}
		if v := got["n"].(map[string]any)["value"]; v != float64(7) {
			t.Fatalf("%s: integer changed to %#v", model, v)
		}
		geometry, ok := got["loc"].(map[string]any)["value"].(map[string]any)
		if !ok || geometry["type"] != "Point" {
			t.Fatalf("%s: geometry lost, got %#v", model, got["loc"])
		}
		coords, ok := geometry["coordinates"].([]any)
		if !ok || len(coords) != 2 || coords[0] != -3.7 || coords[1] != 40.4 {
			t.Fatalf("%s: coordinates should be lon,lat, got %#v", model, geometry["coordinates"])
		}
	}
	if got := models[ngsi.DataModelV2]["loc"].(map[string]any)["type"]; got != "geo:json" {
		t.Fatalf("v2 geometry type %#v", got)
	}
	if got := models[ngsi.DataModelLD]["loc"].(map[string]any)["type"]; got != "GeoProperty" {
		t.Fatalf("ld geometry type %#v", got)
	}
}

func TestLegacyTimestampPolicy(t *testing.T) {
	typeInfo := ngsi.TypeInformation{DeviceID: "d", EntityType: "T", Timestamp: true, Timezone: "Europe/Madrid"}
	entity := ngsi.TargetEntity{ID: "d", Type: "T", Attributes: cast(t, ngsi.Attribute{Name: "a", Type: "Number", Value: 1})}

	env, err := NewLegacyEncoder(WithClock(clock)).Encode(entity, typeInfo)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := decode(t, env)
	ts, ok := got[ngsi.TimestampAttribute].(map[string]any)
	if !ok || ts["value"] != "2024-05-06T09:08:09.000+02:00" {
		t.Fatalf("expected injected timestamp in device zone, got %#v", got[ngsi.TimestampAttribute])
	}
	md := got["a"].(map[string]any)["metadata"].(map[string]any)
	if md[ngsi.TimestampAttribute].(map[string]any)["value"] != ts["value"] {
		t.Fatalf("timestamp not propagated to metadata: %#v", md)
	}

	entity.Attributes = append(entity.Attributes, ngsi.Attribute{Name: ngsi.TimestampAttribute, Type: "DateTime", Value: "nope"})
	if _, err := NewLegacyEncoder().Encode(entity, typeInfo); !errors.Is(err, ngsi.ErrBadTimestamp) {
		t.Fatalf("expected BadTimestamp, got %v", err)
	}
}

func TestLegacyUnionSuffixesDatasets(t *testing.T) {
	entity := ngsi.TargetEntity{ID: "d", Type: "T", Attributes: []ngsi.Attribute{
		{Name: "v", Type: "Number", Value: int64(220), DatasetID: "v1"},
		{Name: "v", Type: "Number", Value: int64(231), DatasetID: "v2"},
	}}
	env, err := NewLegacyEncoder().Encode(entity, ngsi.TypeInformation{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := decode(t, env)
	if got["v"].(map[string]any)["value"] != float64(220) || got["v_v2"].(map[string]any)["value"] != float64(231) {
		t.Fatalf("expected both voltages, got %#v", got)
	}
}

func TestReferenceResolvesModelID(t *testing.T) {
	ref := NewReference(ngsi.TypeInformation{DeviceID: "s1", EntityType: "Sensor", DataModel: ngsi.DataModelLD})
	if ref.EntityID() != "urn:ngsi-ld:Sensor:s1" || ref.DataModel() != ngsi.DataModelLD {
		t.Fatalf("unexpected reference %#v", ref)
	}
	ref = NewReference(ngsi.TypeInformation{DeviceID: "s1", EntityType: "Sensor"})
	if ref.EntityID() != "s1" {
		t.Fatalf("unexpected v2 reference %#v", ref)
	}
}
