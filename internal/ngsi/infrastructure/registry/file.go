// Package registry loads device TypeInformation from a YAML file.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// ErrNotRegistered indicates an unknown device id.
var ErrNotRegistered = errors.New("registry: device not registered")

// Defaults apply to every device that leaves the field empty.
type Defaults struct {
	Service     string                  `yaml:"service"`
	Subservice  string                  `yaml:"subservice"`
	EntityType  string                  `yaml:"entity_type"`
	Timezone    string                  `yaml:"timezone"`
	DataModel   string                  `yaml:"data_model"`
	Context     []string                `yaml:"context"`
	Conjunction ngsi.Conjunction        `yaml:"conjunction"`
	Language    ngsi.ExpressionLanguage `yaml:"expression_language"`
	Duplicates  ngsi.DuplicatePolicy    `yaml:"duplicate_policy"`
}

// File is the on-disk layout.
type File struct {
	Defaults Defaults                        `yaml:"defaults"`
	Devices  map[string]ngsi.TypeInformation `yaml:"devices"`
}

// or returns d with empty fields taken from fallback.
func (d Defaults) or(fallback Defaults) Defaults {
	pick := func(v, f string) string {
		if v == "" {
			return f
		}
		return v
	}
	d.Service = pick(d.Service, fallback.Service)
	d.Subservice = pick(d.Subservice, fallback.Subservice)
	d.EntityType = pick(d.EntityType, fallback.EntityType)
	d.Timezone = pick(d.Timezone, fallback.Timezone)
	d.DataModel = pick(d.DataModel, fallback.DataModel)
	if len(d.Context) == 0 {
		d.Context = fallback.Context
	}
	d.Conjunction = d.Conjunction.Or(fallback.Conjunction)
	if d.Language == "" {
		d.Language = fallback.Language
	}
	if d.Duplicates == "" {
		d.Duplicates = fallback.Duplicates
	}
	return d
}

// Option configures a registry.
type Option func(*FileRegistry)

// WithFallback sets process-wide defaults applied after the file defaults.
func WithFallback(d Defaults) Option {
	return func(r *FileRegistry) {
		r.fallback = d
	}
}

// FileRegistry serves TypeInformation keyed by device id.
type FileRegistry struct {
	path     string
	fallback Defaults

	mu      sync.RWMutex
	devices map[string]ngsi.TypeInformation
}

// Load reads and validates the registry at path.
func Load(path string, opts ...Option) (*FileRegistry, error) {
	if path == "" {
		return nil, errors.New("registry: empty path")
	}
	r := &FileRegistry{path: path}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Parse builds an in-memory registry from YAML.
func Parse(data []byte, opts ...Option) (*FileRegistry, error) {
	r := &FileRegistry{}
	for _, opt := range opts {
		opt(r)
	}
	devices, err := decode(data, r.fallback)
	if err != nil {
		return nil, err
	}
	r.devices = devices
	return r, nil
}

// Reload re-reads the file; the previous content is kept on error.
func (r *FileRegistry) Reload() error {
	if r.path == "" {
		return errors.New("registry: not file backed")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	devices, err := decode(data, r.fallback)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()
	return nil
}

// Lookup returns the configuration of deviceID.
func (r *FileRegistry) Lookup(_ context.Context, deviceID string) (ngsi.TypeInformation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.devices[deviceID]
	if !ok {
		return ngsi.TypeInformation{}, fmt.Errorf("%w: %s", ErrNotRegistered, deviceID)
	}
	return ti, nil
}

// Devices lists registered device ids in order.
func (r *FileRegistry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func decode(data []byte, fallback Defaults) (map[string]ngsi.TypeInformation, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	defaults := file.Defaults.or(fallback)
	out := make(map[string]ngsi.TypeInformation, len(file.Devices))
	for id, ti := range file.Devices {
		if ti.DeviceID == "" {
			ti.DeviceID = id
		}
		resolved, err := applyDefaults(ti, defaults)
		if err != nil {
			return nil, fmt.Errorf("registry: device %s: %w", id, err)
		}
		out[id] = resolved
	}
	return out, nil
}

func applyDefaults(ti ngsi.TypeInformation, d Defaults) (ngsi.TypeInformation, error) {
	if ti.Service == "" {
		ti.Service = d.Service
	}
	if ti.Subservice == "" {
		ti.Subservice = d.Subservice
	}
	if ti.EntityType == "" {
		ti.EntityType = d.EntityType
	}
	if ti.Timezone == "" {
		ti.Timezone = d.Timezone
	}
	if len(ti.Context) == 0 {
		ti.Context = d.Context
	}
	if ti.Conjunction == ngsi.ConjunctionUnset {
		ti.Conjunction = d.Conjunction
	}
	if ti.Language == "" {
		ti.Language = d.Language
	}
	if ti.DuplicatePolicy == "" {
		ti.DuplicatePolicy = d.Duplicates
	}

	raw := string(ti.DataModel)
	if raw == "" {
		raw = d.DataModel
	}
	model, ok := ngsi.ParseDataModel(raw)
	if !ok {
		return ti, fmt.Errorf("unknown data model %q", raw)
	}
	ti.DataModel = model
	if ti.DeviceDataModel != "" {
		deviceModel, ok := ngsi.ParseDataModel(string(ti.DeviceDataModel))
		if !ok {
			return ti, fmt.Errorf("unknown device data model %q", ti.DeviceDataModel)
		}
		ti.DeviceDataModel = deviceModel
	}
	if ti.EntityType == "" {
		return ti, errors.New("entity_type required")
	}
	return ti, nil
}
