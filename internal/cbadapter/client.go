package cbadapter

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	alarms "ngsi-gateway/internal/alarms/domain"
	"ngsi-gateway/internal/audit"
	ngsi "ngsi-gateway/internal/ngsi/domain"
	"ngsi-gateway/internal/observability/metrics"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeJSONLD = "application/ld+json"
)

// Entity identifies a broker entity.
type Entity interface {
	DataModel() ngsi.DataModel
	EntityID() string
	EntityType() string
}

// Update is an entity with an encoded update body.
type Update interface {
	Entity
	UpdateBody() ([]byte, error)
}

// AlarmGate receives reachability transitions.
type AlarmGate interface {
	Raise(ctx context.Context, key, detail string) error
	Release(ctx context.Context, key string) error
}

// Scope carries the tenancy and credentials of one device-update call.
type Scope struct {
	Service    string
	Subservice string
	Token      string
	// Context is the device @context, sent as a Link header on NGSI-LD queries.
	Context []string
}

// Client is the context broker exchange client.
type Client struct {
	baseURL   string
	transport Transport
	gate      AlarmGate
	recorder  audit.Logger
	logger    *log.Logger
	alarmKey  string
}

// Option configures the client.
type Option func(*Client)

// WithTransport overrides the HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithGate sets the alarm gate toggled by exchange outcomes.
func WithGate(g AlarmGate) Option {
	return func(c *Client) {
		c.gate = g
	}
}

// WithRecorder records every exchange.
func WithRecorder(r audit.Logger) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a broker client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("cbadapter: empty base url")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: NewHTTPTransport(0),
		logger:    log.Default(),
		alarmKey:  alarms.BrokerAlarm,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UpdateEntities sends the updates one at a time, in order. The first failure
// stops the sequence; entities already applied stay applied and are counted
// in the returned outcome.
func (c *Client) UpdateEntities(ctx context.Context, scope Scope, entities []Update) (ngsi.Outcome, error) {
	if len(entities) == 0 {
		return ngsi.Outcome{Kind: ngsi.OutcomeSkipped}, nil
	}
	correlator := uuid.NewString()
	applied := 0
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return ngsi.Outcome{Kind: ngsi.OutcomeUpdated, Entities: applied}, &ngsi.Error{
				Kind:   ngsi.KindTransport,
				Entity: entity.EntityID(),
				Detail: "update sequence cancelled",
				Err:    err,
			}
		}
		body, err := entity.UpdateBody()
		if err != nil {
			return ngsi.Outcome{Kind: ngsi.OutcomeUpdated, Entities: applied}, ngsi.Wrap(ngsi.KindBadRequest, err, "encode "+entity.EntityID())
		}
		req := Request{
			Method: http.MethodPatch,
			URL:    c.updateURL(entity),
			Header: c.headers(scope, entity.DataModel(), correlator, true),
			Body:   body,
		}
		if _, err := c.exchange(ctx, scope, correlator, entity, req, false); err != nil {
			return ngsi.Outcome{Kind: ngsi.OutcomeUpdated, Entities: applied}, err
		}
		applied++
	}
	return ngsi.Outcome{Kind: ngsi.OutcomeUpdated, Entities: applied}, nil
}

// QueryEntity reads attrs of one entity; an empty list reads them all.
func (c *Client) QueryEntity(ctx context.Context, scope Scope, entity Entity, attrs []string) (ngsi.Outcome, error) {
	correlator := uuid.NewString()
	header := c.headers(scope, entity.DataModel(), correlator, false)
	if link := linkContext(scope.Context); entity.DataModel() == ngsi.DataModelLD && link != "" {
		header.Set("Link", `<`+link+`>; rel="http://www.w3.org/ns/json-ld#context"; type="application/ld+json"`)
	}
	req := Request{
		Method: http.MethodGet,
		URL:    c.queryURL(entity, attrs),
		Header: header,
	}
	return c.exchange(ctx, scope, correlator, entity, req, true)
}

// exchangeResult is the metrics label for an exchange outcome.
func exchangeResult(err error) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	if kind := ngsi.KindOf(err); kind != "" {
		return string(kind)
	}
	return metrics.ResultError
}

// linkContext picks the first context other than the core one. A GET carries a
// single Link, and the broker always applies the core context itself.
func linkContext(contexts []string) string {
	for _, c := range contexts {
		if c != "" && c != ngsi.DefaultLDContext {
			return c
		}
	}
	return ""
}

func (c *Client) exchange(ctx context.Context, scope Scope, correlator string, entity Entity, req Request, query bool) (ngsi.Outcome, error) {
	start := time.Now()
	resp, sendErr := c.transport.Send(ctx, req)
	elapsed := time.Since(start)
	outcome, err := classify(query, entity, resp, sendErr)

	model := string(entity.DataModel())
	metrics.ObserveExchange(model, req.Method, exchangeResult(err), elapsed)
	c.record(ctx, audit.Entry{
		CorrelationID: correlator,
		Service:       scope.Service,
		Subservice:    scope.Subservice,
		EntityID:      entity.EntityID(),
		EntityType:    entity.EntityType(),
		Model:         model,
		Method:        req.Method,
		StatusCode:    resp.StatusCode,
		Outcome:       string(outcome.Kind),
		ErrorKind:     string(ngsi.KindOf(err)),
		PayloadDigest: audit.DigestJSON(req.Body),
		Duration:      elapsed,
	})

	switch {
	case err == nil:
		c.release(ctx)
	case ngsi.KindOf(err) == ngsi.KindTransport:
		c.logger.Printf("cbadapter: broker unreachable: entity=%s correlator=%s err=%v", entity.EntityID(), correlator, sendErr)
		c.raise(ctx, sendErr)
	default:
		c.logger.Printf("cbadapter: exchange failed: entity=%s correlator=%s err=%v", entity.EntityID(), correlator, err)
	}
	return outcome, err
}

func (c *Client) raise(ctx context.Context, cause error) {
	if c.gate == nil {
		return
	}
	detail := "broker unreachable"
	if cause != nil {
		detail = cause.Error()
	}
	if err := c.gate.Raise(ctx, c.alarmKey, detail); err != nil {
		c.logger.Printf("cbadapter: raise alarm: %v", err)
	}
}

func (c *Client) release(ctx context.Context) {
	if c.gate == nil {
		return
	}
	if err := c.gate.Release(ctx, c.alarmKey); err != nil {
		c.logger.Printf("cbadapter: release alarm: %v", err)
	}
}

func (c *Client) record(ctx context.Context, entry audit.Entry) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Log(ctx, entry); err != nil {
		c.logger.Printf("cbadapter: audit: entity=%s err=%v", entry.EntityID, err)
	}
}

func (c *Client) headers(scope Scope, model ngsi.DataModel, correlator string, withBody bool) http.Header {
	h := http.Header{}
	if model == ngsi.DataModelLD {
		h.Set("Accept", contentTypeJSONLD)
		if withBody {
			h.Set("Content-Type", contentTypeJSONLD)
		}
		if scope.Service != "" {
			h.Set("NGSILD-Tenant", scope.Service)
		}
		if scope.Subservice != "" {
			h.Set("NGSILD-Path", scope.Subservice)
		}
	} else {
		h.Set("Accept", contentTypeJSON)
		if withBody {
			h.Set("Content-Type", contentTypeJSON)
		}
		if scope.Service != "" {
			h.Set("Fiware-Service", scope.Service)
		}
		subservice := scope.Subservice
		if subservice == "" {
			subservice = "/"
		}
		h.Set("Fiware-ServicePath", subservice)
	}
	if scope.Token != "" {
		h.Set("X-Auth-Token", scope.Token)
	}
	h.Set("Fiware-Correlator", correlator)
	return h
}

func (c *Client) updateURL(entity Entity) string {
	if entity.DataModel() == ngsi.DataModelLD {
		return c.baseURL + "/ngsi-ld/v1/entities/" + url.PathEscape(entity.EntityID()) + "/attrs"
	}
	u := c.baseURL + "/v2/entities/" + url.PathEscape(entity.EntityID()) + "/attrs"
	if entity.EntityType() != "" {
		u += "?type=" + url.QueryEscape(entity.EntityType())
	}
	return u
}

func (c *Client) queryURL(entity Entity, attrs []string) string {
	q := url.Values{}
	if len(attrs) > 0 {
		q.Set("attrs", strings.Join(attrs, ","))
	}
	var u string
	if entity.DataModel() == ngsi.DataModelLD {
		u = c.baseURL + "/ngsi-ld/v1/entities/" + url.PathEscape(entity.EntityID())
	} else {
		u = c.baseURL + "/v2/entities/" + url.PathEscape(entity.EntityID()) + "/attrs"
		if entity.EntityType() != "" {
			q.Set("type", entity.EntityType())
		}
	}
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}
