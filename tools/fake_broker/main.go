package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

type fakeBroker struct {
	start    time.Time
	latency  time.Duration
	failRate float64
	token    string

	mu         sync.Mutex
	entities   map[string]map[string]any
	byEntity   map[string]int64
	byStatus   map[int]int64
	totalCalls int64
}

func main() {
	addr := getenvDefault("FAKE_CB_ADDR", ":11026")
	latencyMs := getenvIntDefault("FAKE_CB_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_CB_FAIL_RATE", 0)

	srv := &fakeBroker{
		start:    time.Now().UTC(),
		latency:  time.Duration(latencyMs) * time.Millisecond,
		failRate: failRate,
		token:    getenvDefault("FAKE_CB_TOKEN", ""),
		entities: make(map[string]map[string]any),
		byEntity: make(map[string]int64),
		byStatus: make(map[int]int64),
	}

	r := chi.NewRouter()
	r.Get("/healthz", srv.handleHealth)
	r.Get("/metrics", srv.handleMetrics)
	r.Patch("/v2/entities/{id}/attrs", srv.handleUpdate)
	r.Get("/v2/entities/{id}/attrs", srv.handleQuery)
	r.Patch("/ngsi-ld/v1/entities/{id}/attrs", srv.handleUpdate)
	r.Get("/ngsi-ld/v1/entities/{id}", srv.handleQuery)

	log.Printf("fake context broker listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeBroker) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeBroker) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStatus := make(map[string]int64, len(s.byStatus))
	for status, n := range s.byStatus {
		byStatus[strconv.Itoa(status)] = n
	}
	payload := map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"by_entity":  s.byEntity,
		"by_status":  byStatus,
		"entities":   len(s.entities),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *fakeBroker) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if status, ok := s.precheck(w, r, id); !ok {
		s.recordCall(id, status)
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.recordCall(id, http.StatusBadRequest)
		writeBrokerError(w, r, http.StatusBadRequest, "ParseError", "Errors found in incoming JSON buffer")
		return
	}
	delete(payload, "@context")
	delete(payload, "id")
	delete(payload, "type")

	key := tenantKey(r, id)
	s.mu.Lock()
	current, ok := s.entities[key]
	if !ok {
		current = make(map[string]any, len(payload))
		s.entities[key] = current
	}
	for name, value := range payload {
		current[name] = value
	}
	s.mu.Unlock()

	s.recordCall(id, http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeBroker) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if status, ok := s.precheck(w, r, id); !ok {
		s.recordCall(id, status)
		return
	}

	s.mu.Lock()
	current, ok := s.entities[tenantKey(r, id)]
	out := make(map[string]any, len(current))
	wanted := strings.Split(r.URL.Query().Get("attrs"), ",")
	for name, value := range current {
		if r.URL.Query().Get("attrs") == "" || contains(wanted, name) {
			out[name] = value
		}
	}
	s.mu.Unlock()

	if !ok {
		s.recordCall(id, http.StatusNotFound)
		writeBrokerError(w, r, http.StatusNotFound, "NotFound", "The requested entity has not been found. Check type and id")
		return
	}
	if strings.HasPrefix(r.URL.Path, "/ngsi-ld/") {
		out["id"] = id
	}
	s.recordCall(id, http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// precheck applies the configured latency, token and failure injection.
func (s *fakeBroker) precheck(w http.ResponseWriter, r *http.Request, id string) (int, bool) {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.token != "" && r.Header.Get("X-Auth-Token") != s.token {
		writeBrokerError(w, r, http.StatusUnauthorized, "Unauthorized", "missing or invalid token")
		return http.StatusUnauthorized, false
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		writeBrokerError(w, r, http.StatusInternalServerError, "InternalError", "injected failure for "+id)
		return http.StatusInternalServerError, false
	}
	return 0, true
}

func (s *fakeBroker) recordCall(id string, status int) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		s.byEntity[id]++
	}
	if status != 0 {
		s.byStatus[status]++
	}
}

func tenantKey(r *http.Request, id string) string {
	tenant := r.Header.Get("Fiware-Service")
	if tenant == "" {
		tenant = r.Header.Get("NGSILD-Tenant")
	}
	return tenant + "|" + id
}

func writeBrokerError(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if strings.HasPrefix(r.URL.Path, "/ngsi-ld/") {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":   "https://uri.etsi.org/ngsi-ld/errors/" + code,
			"title":  code,
			"detail": description,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "description": description})
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if strings.TrimSpace(item) == value {
			return true
		}
	}
	return false
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
