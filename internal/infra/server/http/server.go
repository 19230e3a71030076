// Package httpserver exposes the daemon's REST surface: health, key/value
// access to the mirrored areas, and session cookie issuance.
package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/commons-dev-open/reactive/cookie"
	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/internal/infra/config"
	"github.com/commons-dev-open/reactive/mirror"
)

const (
	healthzPath = "/healthz"
	kvPrefix    = "/v1/kv/"
	sessionPath = "/v1/session"

	sessionCookieKey = "sid"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// StoreProvider resolves the mirror store bound to an area. Implementations
// should memoize: the handler calls it on every request.
type StoreProvider func(area string) (mirror.Store, error)

type httpServer struct {
	environment  config.Environment
	maxBodyBytes int64
	stores       StoreProvider
}

// NewHandler builds the REST handler on top of the provided store resolver.
func NewHandler(environment config.Environment, cfg config.APIServerConfig, stores StoreProvider) http.Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	server := &httpServer{environment: environment, maxBodyBytes: maxBody, stores: stores}
	mux := http.NewServeMux()

	mux.Handle(healthzPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getHealth,
	}))
	mux.Handle(kvPrefix, http.HandlerFunc(server.handleKV))
	mux.Handle(sessionPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:    server.getSession,
		http.MethodPost:   server.createSession,
		http.MethodDelete: server.clearSession,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": string(s.environment),
	})
}

func (s *httpServer) handleKV(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, kvPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "area required")
		return
	}
	area, key, hasKey := strings.Cut(rest, "/")
	area = strings.TrimSpace(area)
	key = strings.Trim(key, "/")
	if area == "" {
		writeError(w, http.StatusNotFound, "area required")
		return
	}
	if !hasKey || key == "" {
		writeError(w, http.StatusNotFound, "key required")
		return
	}

	store, err := s.storeFor(area)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := store.Read(r.Context(), key)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"area":  area,
			"key":   key,
			"value": value,
		})
	case http.MethodPut:
		s.limitRequestBody(w, r)
		payload, err := decodeKVPayload(r)
		if err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := store.Write(r.Context(), key, payload.Value); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "stored",
			"area":   area,
			"key":    key,
		})
	case http.MethodDelete:
		if err := store.Remove(r.Context(), key); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "removed",
			"area":   area,
			"key":    key,
		})
	default:
		methodNotAllowed(w, http.MethodDelete, http.MethodGet, http.MethodPut)
	}
}

func (s *httpServer) storeFor(area string) (mirror.Store, error) {
	if s.stores == nil {
		return nil, errs.New("server/http", errs.CodeUnavailable,
			errs.WithMessage("store provider unavailable"))
	}
	return s.stores(area)
}

type kvWritePayload struct {
	Value json.RawMessage `json:"value"`
}

func decodeKVPayload(r *http.Request) (kvWritePayload, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	var payload kvWritePayload
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

type sessionPayload struct {
	TTLSeconds int64                      `json:"ttlSeconds,omitempty"`
	Values     map[string]json.RawMessage `json:"values,omitempty"`
}

func decodeSessionPayload(r *http.Request) (sessionPayload, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	var payload sessionPayload
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&payload); err != nil {
		// A bare POST without a body issues a default session.
		if errors.Is(err, io.EOF) {
			return sessionPayload{}, nil
		}
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func sessionCookieOptions(ttlSeconds int64) []cookie.WriteOption {
	opts := []cookie.WriteOption{cookie.WithSameSite(http.SameSiteLaxMode)}
	if ttlSeconds > 0 {
		opts = append(opts, cookie.WithTTL(time.Duration(ttlSeconds)*time.Second))
	}
	return opts
}

func (s *httpServer) createSession(w http.ResponseWriter, r *http.Request) {
	s.limitRequestBody(w, r)
	payload, err := decodeSessionPayload(r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	jar, err := cookie.New(w, r, sessionCookieOptions(payload.TTLSeconds)...)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	sid := uuid.NewString()
	sidValue, err := json.Marshal(sid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The session id is for the server; payload values stay readable by
	// document scripts.
	if err := jar.Write(sessionCookieKey, sidValue, cookie.WithHTTPOnly()); err != nil {
		writeStoreError(w, err)
		return
	}
	for key, value := range payload.Values {
		if err := jar.Write(key, value); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "created",
		"session": sid,
		"values":  len(payload.Values),
	})
}

func (s *httpServer) getSession(w http.ResponseWriter, r *http.Request) {
	jar, err := cookie.New(w, r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	raw, err := jar.Read(sessionCookieKey)
	if err != nil {
		if errs.IsCode(err, errs.CodeNotFound) {
			writeError(w, http.StatusNotFound, "no active session")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": raw})
}

func (s *httpServer) clearSession(w http.ResponseWriter, r *http.Request) {
	jar, err := cookie.New(w, r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := jar.Remove(sessionCookieKey); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errs.IsCode(err, errs.CodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errs.IsCode(err, errs.CodeInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.IsCode(err, errs.CodeConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errs.IsCode(err, errs.CodeClosed), errs.IsCode(err, errs.CodeUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *httpServer) limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
