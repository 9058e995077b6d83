// Package http exposes the device ingest API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ngsi-gateway/internal/auth"
	ngsi "ngsi-gateway/internal/ngsi/domain"
	"ngsi-gateway/internal/ngsi/infrastructure/registry"
)

const maxBodyBytes = 1 << 20

// Registry resolves the configuration of a device.
type Registry interface {
	Lookup(ctx context.Context, deviceID string) (ngsi.TypeInformation, error)
}

// Translator runs the translation pipeline.
type Translator interface {
	TranslateAndSend(ctx context.Context, attrs []ngsi.Attribute, typeInfo ngsi.TypeInformation, token string) (ngsi.Outcome, error)
	TranslateAndQuery(ctx context.Context, names []string, typeInfo ngsi.TypeInformation, token string) (ngsi.Outcome, error)
}

// Handler provides the ingest endpoints.
type Handler struct {
	registry   Registry
	translator Translator
	logger     *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(reg Registry, translator Translator, logger *log.Logger) (*Handler, error) {
	if reg == nil {
		return nil, errors.New("ingest handler: nil registry")
	}
	if translator == nil {
		return nil, errors.New("ingest handler: nil translator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{registry: reg, translator: translator, logger: logger}, nil
}

// Routes mounts the device endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/iot/devices/{deviceID}", func(r chi.Router) {
		r.Post("/attrs", h.handleUpdate)
		r.Get("/attrs", h.handleQuery)
	})
}

type attributeRequest struct {
	Name     string                   `json:"name"`
	Type     string                   `json:"type"`
	Value    any                      `json:"value"`
	Metadata map[string]ngsi.Metadata `json:"metadata,omitempty"`
}

type outcomeResponse struct {
	Outcome  ngsi.OutcomeKind `json:"outcome"`
	Entities int              `json:"entities"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Applied int    `json:"applied,omitempty"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	typeInfo, ok := h.device(w, r)
	if !ok {
		return
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.UseNumber()
	var body []attributeRequest
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(ngsi.KindBadRequest), "invalid payload: "+err.Error(), 0)
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, string(ngsi.KindBadRequest), "no attributes", 0)
		return
	}
	attrs := make([]ngsi.Attribute, 0, len(body))
	for _, a := range body {
		attrs = append(attrs, ngsi.Attribute{Name: a.Name, Type: a.Type, Value: a.Value, Metadata: a.Metadata})
	}

	outcome, err := h.translator.TranslateAndSend(r.Context(), attrs, typeInfo, r.Header.Get("X-Auth-Token"))
	if err != nil {
		h.respondError(w, typeInfo.DeviceID, err, outcome.Entities)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Outcome: outcome.Kind, Entities: outcome.Entities})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	typeInfo, ok := h.device(w, r)
	if !ok {
		return
	}
	var names []string
	if raw := r.URL.Query().Get("attrs"); raw != "" {
		names = strings.Split(raw, ",")
	}
	outcome, err := h.translator.TranslateAndQuery(r.Context(), names, typeInfo, r.Header.Get("X-Auth-Token"))
	if err != nil {
		h.respondError(w, typeInfo.DeviceID, err, 0)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(outcome.Payload); err != nil {
		h.logger.Printf("ingest: write query response: device=%s err=%v", typeInfo.DeviceID, err)
	}
}

// device resolves the path device and checks the caller may act on it.
func (h *Handler) device(w http.ResponseWriter, r *http.Request) (ngsi.TypeInformation, bool) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, string(ngsi.KindBadRequest), "device id is required", 0)
		return ngsi.TypeInformation{}, false
	}
	typeInfo, err := h.registry.Lookup(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			writeError(w, http.StatusNotFound, "DeviceNotRegistered", err.Error(), 0)
			return ngsi.TypeInformation{}, false
		}
		h.logger.Printf("ingest: registry lookup: device=%s err=%v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "RegistryError", "registry lookup failed", 0)
		return ngsi.TypeInformation{}, false
	}
	if err := auth.EnsureService(r.Context(), typeInfo.Service, typeInfo.Subservice); err != nil {
		writeError(w, http.StatusForbidden, string(ngsi.KindAccessForbidden), "forbidden", 0)
		return ngsi.TypeInformation{}, false
	}
	return typeInfo, true
}

func (h *Handler) respondError(w http.ResponseWriter, deviceID string, err error, applied int) {
	kind := ngsi.KindOf(err)
	status := StatusFor(kind)
	if kind == "" {
		kind = "InternalError"
		h.logger.Printf("ingest: untyped failure: device=%s err=%v", deviceID, err)
	}
	writeError(w, status, string(kind), err.Error(), applied)
}

// StatusFor maps an error kind onto the HTTP status returned to the device.
func StatusFor(kind ngsi.ErrorKind) int {
	switch kind {
	case ngsi.KindBadRequest, ngsi.KindBadGeocoordinates, ngsi.KindBadTimestamp:
		return http.StatusBadRequest
	case ngsi.KindAccessForbidden:
		return http.StatusForbidden
	case ngsi.KindDeviceNotFound, ngsi.KindAttributeNotFound:
		return http.StatusNotFound
	case ngsi.KindTransport, ngsi.KindBrokerRejected, ngsi.KindEntityGeneric, ngsi.KindBadAnswer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, applied int) {
	writeJSON(w, status, errorResponse{Error: code, Message: message, Applied: applied})
}
