package cbadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	alarms "ngsi-gateway/internal/alarms/domain"
	"ngsi-gateway/internal/audit"
	ngsi "ngsi-gateway/internal/ngsi/domain"
	"ngsi-gateway/internal/observability/metrics"
)

type stubEntity struct {
	model ngsi.DataModel
	id    string
	typ   string
	body  string
}

func (s stubEntity) DataModel() ngsi.DataModel   { return s.model }
func (s stubEntity) EntityID() string            { return s.id }
func (s stubEntity) EntityType() string          { return s.typ }
func (s stubEntity) UpdateBody() ([]byte, error) { return []byte(s.body), nil }

type scripted struct {
	resp Response
	err  error
}

type stubTransport struct {
	mu       sync.Mutex
	script   []scripted
	requests []Request
}

func (s *stubTransport) Send(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		return Response{StatusCode: http.StatusNoContent}, nil
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next.resp, next.err
}

type memoryRecorder struct {
	entries []audit.Entry
}

func (m *memoryRecorder) Log(_ context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func newTestClient(t *testing.T, transport Transport, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTransport(transport), WithLogger(discardLogger())}, opts...)
	c, err := NewClient("http://broker:1026/", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestSequentialUpdateStopsAtFirstFailure(t *testing.T) {
	transport := &stubTransport{script: []scripted{
		{resp: Response{StatusCode: http.StatusNoContent}},
		{resp: Response{StatusCode: http.StatusBadRequest, Body: []byte(`{"error":"BadRequest","description":"invalid attribute"}`)}},
		{resp: Response{StatusCode: http.StatusNoContent}},
	}}
	rec := &memoryRecorder{}
	c := newTestClient(t, transport, WithRecorder(rec))

	entities := []Update{
		stubEntity{model: ngsi.DataModelV2, id: "e1", typ: "T", body: `{"a":{}}`},
		stubEntity{model: ngsi.DataModelV2, id: "e2", typ: "T", body: `{"b":{}}`},
		stubEntity{model: ngsi.DataModelV2, id: "e3", typ: "T", body: `{"c":{}}`},
	}
	outcome, err := c.UpdateEntities(context.Background(), Scope{Service: "smart"}, entities)
	if !errors.Is(err, ngsi.ErrBrokerRejected) {
		t.Fatalf("expected BrokerRejected, got %v", err)
	}
	var typed *ngsi.Error
	if !errors.As(err, &typed) || typed.Entity != "e2" || typed.Status != http.StatusBadRequest {
		t.Fatalf("error should carry the second entity, got %#v", typed)
	}
	if outcome.Entities != 1 {
		t.Fatalf("first entity should be counted as applied, got %d", outcome.Entities)
	}
	if len(transport.requests) != 2 {
		t.Fatalf("third entity must never be attempted, got %d requests", len(transport.requests))
	}
	if len(rec.entries) != 2 || rec.entries[0].CorrelationID != rec.entries[1].CorrelationID {
		t.Fatalf("exchanges of one call should share a correlator: %#v", rec.entries)
	}
	if rec.entries[1].ErrorKind != string(ngsi.KindBrokerRejected) {
		t.Fatalf("unexpected audit kind %q", rec.entries[1].ErrorKind)
	}
}

func TestUpdateRequestShape(t *testing.T) {
	transport := &stubTransport{}
	c := newTestClient(t, transport)
	scope := Scope{Service: "smart", Subservice: "/north", Token: "tok"}

	_, err := c.UpdateEntities(context.Background(), scope, []Update{
		stubEntity{model: ngsi.DataModelV2, id: "s1", typ: "Sensor", body: "{}"},
		stubEntity{model: ngsi.DataModelLD, id: "urn:ngsi-ld:Sensor:s1", typ: "Sensor", body: "{}"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	v2, ld := transport.requests[0], transport.requests[1]
	if v2.Method != http.MethodPatch || v2.URL != "http://broker:1026/v2/entities/s1/attrs?type=Sensor" {
		t.Fatalf("unexpected v2 request %s %s", v2.Method, v2.URL)
	}
	if v2.Header.Get("Fiware-Service") != "smart" || v2.Header.Get("Fiware-ServicePath") != "/north" ||
		v2.Header.Get("X-Auth-Token") != "tok" || v2.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected v2 headers %v", v2.Header)
	}
	if ld.URL != "http://broker:1026/ngsi-ld/v1/entities/urn:ngsi-ld:Sensor:s1/attrs" {
		t.Fatalf("unexpected ld url %s", ld.URL)
	}
	if ld.Header.Get("NGSILD-Tenant") != "smart" || ld.Header.Get("Content-Type") != "application/ld+json" {
		t.Fatalf("unexpected ld headers %v", ld.Header)
	}
	if v2.Header.Get("Fiware-Correlator") == "" || v2.Header.Get("Fiware-Correlator") != ld.Header.Get("Fiware-Correlator") {
		t.Fatalf("correlator must be shared across the call")
	}
}

func TestUpdateWithoutEntitiesIsSkipped(t *testing.T) {
	transport := &stubTransport{}
	outcome, err := newTestClient(t, transport).UpdateEntities(context.Background(), Scope{}, nil)
	if err != nil || outcome.Kind != ngsi.OutcomeSkipped || len(transport.requests) != 0 {
		t.Fatalf("unexpected outcome %#v %v", outcome, err)
	}
}

func TestCancelledSequenceStops(t *testing.T) {
	transport := &stubTransport{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, transport).UpdateEntities(ctx, Scope{}, []Update{stubEntity{model: ngsi.DataModelV2, id: "e1"}})
	if !errors.Is(err, ngsi.ErrTransport) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled transport error, got %v", err)
	}
	if len(transport.requests) != 0 {
		t.Fatalf("no request expected after cancellation")
	}
}

func TestClassification(t *testing.T) {
	entity := stubEntity{model: ngsi.DataModelV2, id: "s1", typ: "Sensor"}
	cases := []struct {
		name  string
		query bool
		resp  Response
		err   error
		want  ngsi.ErrorKind
	}{
		{name: "transport", err: errors.New("dial tcp: refused"), want: ngsi.KindTransport},
		{name: "2xx structured", resp: Response{StatusCode: 200, Body: []byte(`{"orionError":{"code":"400","reasonPhrase":"Bad Request","details":"bad"}}`)}, want: ngsi.KindBrokerRejected},
		{name: "query empty", query: true, resp: Response{StatusCode: 200}, want: ngsi.KindBadAnswer},
		{name: "401", resp: Response{StatusCode: 401}, want: ngsi.KindAccessForbidden},
		{name: "403", resp: Response{StatusCode: 403, Body: []byte(`{"error":"Forbidden"}`)}, want: ngsi.KindAccessForbidden},
		{name: "404 device", resp: Response{StatusCode: 404, Body: []byte(`{"orionError":{"code":"404","details":"no entity of type Sensor"}}`)}, want: ngsi.KindDeviceNotFound},
		{name: "404 attribute", resp: Response{StatusCode: 404, Body: []byte(`{"error":"NotFound","description":"The requested attribute has not been found"}`)}, want: ngsi.KindAttributeNotFound},
		{name: "404 ld", resp: Response{StatusCode: 404, Body: []byte(`{"type":"https://uri.etsi.org/ngsi-ld/errors/ResourceNotFound","title":"Entity not found"}`)}, want: ngsi.KindAttributeNotFound},
		{name: "404 bare", resp: Response{StatusCode: 404, Body: []byte(`gone`)}, want: ngsi.KindEntityGeneric},
		{name: "422 structured", resp: Response{StatusCode: 422, Body: []byte(`{"error":"Unprocessable","description":"already exists"}`)}, want: ngsi.KindBrokerRejected},
		{name: "500 opaque", resp: Response{StatusCode: 500, Body: []byte(`<html>`)}, want: ngsi.KindEntityGeneric},
	}
	for _, tc := range cases {
		_, err := classify(tc.query, entity, tc.resp, tc.err)
		if got := ngsi.KindOf(err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s (%v)", tc.name, tc.want, got, err)
		}
	}

	outcome, err := classify(false, entity, Response{StatusCode: 204}, nil)
	if err != nil || outcome.Kind != ngsi.OutcomeUpdated {
		t.Fatalf("unexpected update outcome %#v %v", outcome, err)
	}
	outcome, err = classify(true, entity, Response{StatusCode: 200, Body: []byte(`{"t":{"type":"Number","value":1}}`)}, nil)
	if err != nil || outcome.Kind != ngsi.OutcomeQueried || !strings.Contains(string(outcome.Payload), `"t"`) {
		t.Fatalf("unexpected query outcome %#v %v", outcome, err)
	}
}

func TestGateRaisedOnTransportAndReleasedOnSuccess(t *testing.T) {
	gate := alarms.NewGate()
	transport := &stubTransport{script: []scripted{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{resp: Response{StatusCode: http.StatusNoContent}},
	}}
	c := newTestClient(t, transport, WithGate(gate))
	update := []Update{stubEntity{model: ngsi.DataModelV2, id: "s1", typ: "Sensor", body: "{}"}}

	for i := 0; i < 2; i++ {
		if _, err := c.UpdateEntities(context.Background(), Scope{}, update); !errors.Is(err, ngsi.ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
		if !gate.Active(alarms.BrokerAlarm) {
			t.Fatalf("alarm should be raised after transport failure")
		}
	}
	if _, err := c.UpdateEntities(context.Background(), Scope{}, update); err != nil {
		t.Fatalf("update: %v", err)
	}
	if gate.Active(alarms.BrokerAlarm) {
		t.Fatalf("a single success must release the alarm")
	}
}

func TestQueryOverHTTP(t *testing.T) {
	var gotURL, gotLink string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotLink = r.Header.Get("Link")
		w.Header().Set("Content-Type", "application/ld+json")
		_, _ = io.WriteString(w, `{"id":"urn:ngsi-ld:Sensor:s1","type":"Sensor","t":{"type":"Property","value":21.5}}`)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	entity := stubEntity{model: ngsi.DataModelLD, id: "urn:ngsi-ld:Sensor:s1", typ: "Sensor"}
	scope := Scope{Context: []string{"https://example.org/context.jsonld"}}
	outcome, err := c.QueryEntity(context.Background(), scope, entity, []string{"t", "h"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if outcome.Kind != ngsi.OutcomeQueried {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
	if gotURL != "/ngsi-ld/v1/entities/urn:ngsi-ld:Sensor:s1?attrs=t%2Ch" {
		t.Fatalf("unexpected url %s", gotURL)
	}
	if !strings.Contains(gotLink, "https://example.org/context.jsonld") {
		t.Fatalf("expected Link header, got %q", gotLink)
	}
}

func TestQueryLinkSkipsCoreContext(t *testing.T) {
	var links []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		links = append(links, r.Header.Get("Link"))
		w.Header().Set("Content-Type", "application/ld+json")
		_, _ = io.WriteString(w, `{"id":"urn:ngsi-ld:Sensor:s1","type":"Sensor"}`)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	entity := stubEntity{model: ngsi.DataModelLD, id: "urn:ngsi-ld:Sensor:s1", typ: "Sensor"}
	scopes := []Scope{
		{Context: []string{ngsi.DefaultLDContext, "https://example.org/context.jsonld"}},
		{Context: []string{ngsi.DefaultLDContext}},
	}
	for _, scope := range scopes {
		if _, err := c.QueryEntity(context.Background(), scope, entity, nil); err != nil {
			t.Fatalf("query: %v", err)
		}
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(links))
	}
	if !strings.Contains(links[0], "<https://example.org/context.jsonld>") {
		t.Fatalf("expected custom context in Link, got %q", links[0])
	}
	if links[1] != "" {
		t.Fatalf("core context alone must not send a Link, got %q", links[1])
	}
}

func TestExchangeResultLabels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, metrics.ResultSuccess},
		{ngsi.NewError(ngsi.KindTransport, "down"), string(ngsi.KindTransport)},
		{errors.New("plain"), metrics.ResultError},
	}
	for _, tc := range cases {
		if got := exchangeResult(tc.err); got != tc.want {
			t.Fatalf("exchangeResult(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
