// Package encoding builds the broker wire envelopes for the two data models.
package encoding

import (
	"strings"
	"time"
	// Device timezones must resolve on minimal images without a zoneinfo tree.
	_ "time/tzdata"

	"ngsi-gateway/internal/ngsi/casting"
	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// Envelope is one encoded entity ready for the exchange client.
type Envelope interface {
	DataModel() ngsi.DataModel
	EntityID() string
	EntityType() string
	UpdateBody() ([]byte, error)
}

// Encoder turns an expanded, cast entity into its wire envelope.
type Encoder interface {
	Encode(entity ngsi.TargetEntity, typeInfo ngsi.TypeInformation) (Envelope, error)
}

// Option configures an encoder.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for injected timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the encoder for model. Mixed resolves per device, so callers
// pass TypeInformation.ActiveModel().
func New(model ngsi.DataModel, opts ...Option) Encoder {
	if model == ngsi.DataModelLD {
		return NewLinkedDataEncoder(opts...)
	}
	return NewLegacyEncoder(opts...)
}

// Reference identifies an entity on the broker without carrying a body.
type Reference struct {
	Model ngsi.DataModel
	ID    string
	Type  string
}

// NewReference resolves the broker-side id for the device entity.
func NewReference(typeInfo ngsi.TypeInformation) Reference {
	model := typeInfo.ActiveModel()
	id := typeInfo.EntityID()
	if model == ngsi.DataModelLD {
		id = LinkedDataID(typeInfo.EntityType, id)
	}
	return Reference{Model: model, ID: id, Type: typeInfo.EntityType}
}

func (r Reference) DataModel() ngsi.DataModel { return r.Model }
func (r Reference) EntityID() string          { return r.ID }
func (r Reference) EntityType() string        { return r.Type }

// LinkedDataID prefixes id with urn:ngsi-ld:<type>: unless it already is a URN.
func LinkedDataID(entityType, id string) string {
	if ngsi.IsURN(id) {
		return id
	}
	return "urn:ngsi-ld:" + entityType + ":" + id
}

// partition splits off the root timestamp attribute.
func partition(attrs []ngsi.Attribute) ([]ngsi.Attribute, *ngsi.Attribute) {
	var (
		rest []ngsi.Attribute
		ts   *ngsi.Attribute
	)
	for i := range attrs {
		if attrs[i].Name == ngsi.TimestampAttribute {
			a := attrs[i]
			ts = &a
			continue
		}
		rest = append(rest, attrs[i])
	}
	return rest, ts
}

func location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// wireValue renders cast values in their plain JSON shape.
func wireValue(value any) any {
	switch v := value.(type) {
	case casting.Temporal:
		return v.String()
	case casting.Opaque:
		return v.Value
	default:
		return value
	}
}
