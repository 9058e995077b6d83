// Package application runs the device-update translation pipeline.
package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"ngsi-gateway/internal/auth"
	"ngsi-gateway/internal/cbadapter"
	"ngsi-gateway/internal/ngsi/casting"
	ngsi "ngsi-gateway/internal/ngsi/domain"
	"ngsi-gateway/internal/ngsi/encoding"
	"ngsi-gateway/internal/ngsi/expression"
	"ngsi-gateway/internal/ngsi/multientity"
	"ngsi-gateway/internal/observability/metrics"
)

// Broker is the exchange surface the pipeline drives.
type Broker interface {
	UpdateEntities(ctx context.Context, scope cbadapter.Scope, entities []cbadapter.Update) (ngsi.Outcome, error)
	QueryEntity(ctx context.Context, scope cbadapter.Scope, entity cbadapter.Entity, attrs []string) (ngsi.Outcome, error)
}

// Service translates device updates and exchanges them with the broker.
type Service struct {
	broker   Broker
	expander *multientity.Expander
	caster   *casting.Caster
	tokens   auth.TokenSource
	logger   *log.Logger
	now      func() time.Time
	encoders map[ngsi.DataModel]encoding.Encoder
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithExpander overrides the multi-entity expander.
func WithExpander(x *multientity.Expander) ServiceOption {
	return func(s *Service) {
		if x != nil {
			s.expander = x
		}
	}
}

// WithCaster overrides the attribute caster.
func WithCaster(c *casting.Caster) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.caster = c
		}
	}
}

// WithTokenSource supplies a broker token when the caller passes none.
func WithTokenSource(src auth.TokenSource) ServiceOption {
	return func(s *Service) {
		s.tokens = src
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for injected timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the pipeline.
func NewService(broker Broker, opts ...ServiceOption) (*Service, error) {
	if broker == nil {
		return nil, errors.New("ngsi application: nil broker")
	}
	s := &Service{
		broker:   broker,
		expander: multientity.NewExpander(),
		caster:   casting.NewCaster(),
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.encoders = map[ngsi.DataModel]encoding.Encoder{
		ngsi.DataModelV2: encoding.New(ngsi.DataModelV2, encoding.WithClock(s.now)),
		ngsi.DataModelLD: encoding.New(ngsi.DataModelLD, encoding.WithClock(s.now)),
	}
	return s, nil
}

// TranslateAndSend maps attrs onto their entities and updates each of them in
// order. An empty token falls back to the configured token source.
func (s *Service) TranslateAndSend(ctx context.Context, attrs []ngsi.Attribute, typeInfo ngsi.TypeInformation, token string) (ngsi.Outcome, error) {
	outcome, err := s.translateAndSend(ctx, attrs, typeInfo, token)
	if err != nil {
		s.fail(typeInfo, "update", err)
	}
	return outcome, err
}

// TranslateAndQuery reads names from the device entity; no names reads them all.
func (s *Service) TranslateAndQuery(ctx context.Context, names []string, typeInfo ngsi.TypeInformation, token string) (ngsi.Outcome, error) {
	outcome, err := s.translateAndQuery(ctx, names, typeInfo, token)
	if err != nil {
		s.fail(typeInfo, "query", err)
	}
	return outcome, err
}

func (s *Service) translateAndSend(ctx context.Context, attrs []ngsi.Attribute, typeInfo ngsi.TypeInformation, token string) (ngsi.Outcome, error) {
	entities, err := s.expander.Expand(attrs, typeInfo)
	if err != nil {
		return ngsi.Outcome{}, err
	}

	evaluator := expression.ForLanguage(typeInfo.ExpressionLanguage())
	exprCtx := expression.NewContext(attrs, typeInfo, s.caster)
	encoder := s.encoders[typeInfo.ActiveModel()]

	updates := make([]cbadapter.Update, 0, len(entities))
	for _, entity := range entities {
		resolved, err := s.resolve(entity, evaluator, exprCtx)
		if err != nil {
			return ngsi.Outcome{}, err
		}
		if !hasMeasurements(resolved) {
			continue
		}
		envelope, err := encoder.Encode(resolved, typeInfo)
		if err != nil {
			return ngsi.Outcome{}, err
		}
		updates = append(updates, envelope)
	}
	if len(updates) == 0 {
		return ngsi.Outcome{Kind: ngsi.OutcomeSkipped}, nil
	}

	scope, err := s.scope(ctx, typeInfo, token)
	if err != nil {
		return ngsi.Outcome{}, err
	}
	return s.broker.UpdateEntities(ctx, scope, updates)
}

func (s *Service) translateAndQuery(ctx context.Context, names []string, typeInfo ngsi.TypeInformation, token string) (ngsi.Outcome, error) {
	if strings.TrimSpace(typeInfo.EntityType) == "" {
		return ngsi.Outcome{}, ngsi.NewError(ngsi.KindBadRequest, "device "+typeInfo.DeviceID+" without entity type")
	}
	attrs := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			attrs = append(attrs, name)
		}
	}
	scope, err := s.scope(ctx, typeInfo, token)
	if err != nil {
		return ngsi.Outcome{}, err
	}
	return s.broker.QueryEntity(ctx, scope, encoding.NewReference(typeInfo), attrs)
}

// resolve computes pending expressions and casts every attribute of entity.
func (s *Service) resolve(entity ngsi.TargetEntity, evaluator expression.Evaluator, exprCtx expression.Context) (ngsi.TargetEntity, error) {
	out := ngsi.TargetEntity{ID: entity.ID, Type: entity.Type, Attributes: make([]ngsi.Attribute, 0, len(entity.Attributes))}
	for _, attr := range entity.Attributes {
		if attr.Expression != "" {
			value, err := evaluator.Evaluate(attr.Expression, exprCtx)
			if err != nil {
				return out, ngsi.Wrap(ngsi.KindBadRequest, err, "attribute "+attr.Name)
			}
			if value == nil {
				if attr.Mandatory {
					return out, ngsi.NewError(ngsi.KindBadRequest, "mandatory attribute "+attr.Name+" has no value")
				}
				continue
			}
			attr.Value = value
		}
		cast, err := s.caster.CastAttribute(attr.Stripped())
		if err != nil {
			return out, err
		}
		out.Attributes = append(out.Attributes, cast)
	}
	return out, nil
}

func (s *Service) scope(ctx context.Context, typeInfo ngsi.TypeInformation, token string) (cbadapter.Scope, error) {
	if token == "" && s.tokens != nil {
		minted, err := s.tokens.Token(ctx, typeInfo.Service, typeInfo.Subservice)
		if err != nil {
			return cbadapter.Scope{}, ngsi.Wrap(ngsi.KindAccessForbidden, err, "broker token")
		}
		token = minted
	}
	return cbadapter.Scope{
		Service:    typeInfo.Service,
		Subservice: typeInfo.Subservice,
		Token:      token,
		Context:    typeInfo.LDContext(),
	}, nil
}

func (s *Service) fail(typeInfo ngsi.TypeInformation, op string, err error) {
	kind := ngsi.KindOf(err)
	metrics.IncTranslateError(string(kind))
	s.logger.Printf("ngsi: %s failed: device=%s kind=%s err=%v", op, typeInfo.DeviceID, kind, err)
}

// hasMeasurements reports whether entity carries more than its timestamp.
func hasMeasurements(entity ngsi.TargetEntity) bool {
	for _, attr := range entity.Attributes {
		if attr.Name != ngsi.TimestampAttribute {
			return true
		}
	}
	return false
}
