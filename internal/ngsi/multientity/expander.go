// Package multientity distributes the attributes of one device update across
// the entities they are bound to.
package multientity

import (
	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// Expander partitions attributes into target entities.
type Expander struct {
	conjunction ngsi.Conjunction
}

// Option configures the expander.
type Option func(*Expander)

// WithDefaultConjunction sets the process-wide conjunction used by devices
// that do not configure their own.
func WithDefaultConjunction(c ngsi.Conjunction) Option {
	return func(x *Expander) {
		x.conjunction = c
	}
}

// NewExpander constructs an expander. The default conjunction is "none".
func NewExpander(opts ...Option) *Expander {
	x := &Expander{conjunction: ngsi.ConjunctionNone}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

type entityKey struct {
	id  string
	typ string
}

type plan struct {
	policy   ngsi.DuplicatePolicy
	order    []entityKey
	entities map[entityKey]*ngsi.TargetEntity
}

func (p *plan) entity(key entityKey) *ngsi.TargetEntity {
	if e, ok := p.entities[key]; ok {
		return e
	}
	e := &ngsi.TargetEntity{ID: key.id, Type: key.typ}
	p.entities[key] = e
	p.order = append(p.order, key)
	return e
}

// place adds attr to the entity, honouring the duplicate policy. Repeats of the
// same source replace the earlier value.
func (p *plan) place(key entityKey, attr ngsi.Attribute) {
	e := p.entity(key)
	collision := -1
	for i, existing := range e.Attributes {
		if existing.Name != attr.Name {
			continue
		}
		if existing.ObjectID == attr.ObjectID {
			attr.DatasetID = existing.DatasetID
			e.Attributes[i] = attr
			return
		}
		if collision < 0 {
			collision = i
		}
	}
	if collision < 0 {
		e.Attributes = append(e.Attributes, attr)
		return
	}
	switch p.policy {
	case ngsi.DuplicateFirst:
		return
	case ngsi.DuplicateLast:
		e.Attributes[collision] = attr
	default:
		if e.Attributes[collision].DatasetID == "" {
			e.Attributes[collision].DatasetID = datasetOf(e.Attributes[collision])
		}
		attr.DatasetID = datasetOf(attr)
		e.Attributes = append(e.Attributes, attr)
	}
}

func datasetOf(attr ngsi.Attribute) string {
	if attr.ObjectID != "" {
		return attr.ObjectID
	}
	return attr.Name
}

// Expand maps the update onto its target entities. The device entity comes
// first; bound entities follow in order of first appearance.
func (x *Expander) Expand(attrs []ngsi.Attribute, typeInfo ngsi.TypeInformation) ([]ngsi.TargetEntity, error) {
	p := &plan{
		policy:   typeInfo.Duplicates(),
		entities: make(map[entityKey]*ngsi.TargetEntity),
	}
	device := entityKey{id: typeInfo.EntityID(), typ: typeInfo.EntityType}
	p.entity(device)
	conjunction := typeInfo.Conjunction.Or(x.conjunction)

	var timestamp *ngsi.Attribute
	consumed := make(map[int]bool)

	for _, attr := range attrs {
		if err := attr.Validate(); err != nil {
			return nil, err
		}
		if attr.Name == ngsi.TimestampAttribute {
			ts := attr.Clone()
			timestamp = &ts
			continue
		}
		matched := false
		for i, m := range typeInfo.Attributes {
			if m.Source() != attr.Name {
				continue
			}
			matched = true
			consumed[i] = true
			p.place(x.target(m, device, typeInfo, conjunction), mapped(attr, m))
		}
		if matched || typeInfo.ExplicitAttrs {
			continue
		}
		placed := attr.Clone()
		placed.ObjectID = attr.Name
		p.place(device, placed)
	}

	for i, m := range typeInfo.Attributes {
		if consumed[i] || m.Expression == "" {
			continue
		}
		p.place(x.target(m, device, typeInfo, conjunction), computed(m))
	}

	for _, static := range typeInfo.StaticAttributes {
		if err := static.Validate(); err != nil {
			return nil, err
		}
		attr := static.Clone()
		attr.ObjectID = "static:" + static.Name
		p.place(device, attr)
	}

	out := make([]ngsi.TargetEntity, 0, len(p.order))
	for _, key := range p.order {
		e := p.entities[key]
		if e.Empty() {
			continue
		}
		if timestamp != nil {
			e.Attributes = append(e.Attributes, timestamp.Clone())
		}
		for i := range e.Attributes {
			e.Attributes[i].ObjectID = ""
		}
		out = append(out, *e)
	}
	return out, nil
}

func (x *Expander) target(m ngsi.AttributeMapping, device entityKey, typeInfo ngsi.TypeInformation, conjunction ngsi.Conjunction) entityKey {
	if m.EntityName == "" {
		return device
	}
	typ := m.EntityType
	if typ == "" {
		typ = typeInfo.EntityType
	}
	return entityKey{id: conjunction.Resolve(typeInfo.DeviceID, m.EntityName), typ: typ}
}

func mapped(attr ngsi.Attribute, m ngsi.AttributeMapping) ngsi.Attribute {
	out := attr.Clone()
	out.ObjectID = attr.Name
	if m.Name != "" {
		out.Name = m.Name
	}
	if m.Type != "" {
		out.Type = m.Type
	}
	out.Expression = m.Expression
	out.Mandatory = m.Mandatory
	out.Metadata = mergeMetadata(m.Metadata, out.Metadata)
	return out
}

func computed(m ngsi.AttributeMapping) ngsi.Attribute {
	return ngsi.Attribute{
		Name:       m.Name,
		Type:       m.Type,
		Metadata:   mergeMetadata(m.Metadata, nil),
		ObjectID:   m.Source(),
		Expression: m.Expression,
		Mandatory:  m.Mandatory,
	}
}

// mergeMetadata layers measured metadata over the configured one.
func mergeMetadata(configured, measured map[string]ngsi.Metadata) map[string]ngsi.Metadata {
	if len(configured) == 0 {
		return measured
	}
	out := make(map[string]ngsi.Metadata, len(configured)+len(measured))
	for k, v := range configured {
		out[k] = v
	}
	for k, v := range measured {
		out[k] = v
	}
	return out
}
