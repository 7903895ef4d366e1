package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	goahttp "goa.design/goa/v3/http"
)

// Middleware wraps an HTTP handler
type Middleware func(http.Handler) http.Handler

// Services groups the service implementations exposed over HTTP
type Services struct {
	Health    *HealthImplementation
	Auth      *AuthImplementation
	Occupancy *OccupancyImplementation
	System    *SystemImplementation
}

// MountPoint holds information about the mounted endpoints
type MountPoint struct {
	// Method is the name of the service method served by the mounted HTTP handler.
	Method string
	// Verb is the HTTP method used to match requests to the mounted handler.
	Verb string
	// Pattern is the HTTP request path pattern used to match requests to the
	// mounted handler.
	Pattern string
}

type endpoint struct {
	MountPoint
	handler http.Handler
}

// Server lists the HTTP handlers of the service endpoints
type Server struct {
	Mounts []*MountPoint

	endpoints []*endpoint
	svcs      Services
	dec       func(*http.Request) goahttp.Decoder
	enc       func(context.Context, http.ResponseWriter) goahttp.Encoder
	eh        func(context.Context, http.ResponseWriter, error)
	protect   Middleware
	identify  Middleware
}

// NewServer instantiates HTTP handlers for the services. protect guards the
// API routes and identify attaches optional caller identity; either may be nil.
func NewServer(
	svcs Services,
	dec func(*http.Request) goahttp.Decoder,
	enc func(context.Context, http.ResponseWriter) goahttp.Encoder,
	eh func(context.Context, http.ResponseWriter, error),
	protect, identify Middleware,
) *Server {
	s := &Server{svcs: svcs, dec: dec, enc: enc, eh: eh, protect: protect, identify: identify}

	if svcs.Health != nil {
		s.add("Healthz", "GET", "/healthz", http.HandlerFunc(s.healthz), nil)
		s.add("Readyz", "GET", "/readyz", http.HandlerFunc(s.readyz), nil)
	}
	if svcs.Auth != nil {
		s.add("Login", "POST", "/api/v1/auth/login", http.HandlerFunc(s.login), nil)
		s.add("AuthStatus", "GET", "/api/v1/auth/status", http.HandlerFunc(s.authStatus), identify)
	}
	if svcs.Occupancy != nil {
		s.add("Occupancy", "GET", "/api/v1/occupancy", http.HandlerFunc(s.occupancy), protect)
		s.add("Episodes", "GET", "/api/v1/episodes", http.HandlerFunc(s.episodes), protect)
	}
	if svcs.System != nil {
		s.add("SystemStatus", "GET", "/api/v1/system", http.HandlerFunc(s.systemStatus), protect)
	}
	return s
}

// Handle registers a non-service handler such as the metrics exporter or a
// streaming endpoint. Protected handlers go through the auth middleware.
func (s *Server) Handle(method, verb, pattern string, h http.Handler, protected bool) {
	var mw Middleware
	if protected {
		mw = s.protect
	}
	s.add(method, verb, pattern, h, mw)
}

// Service returns the name of the service served.
func (s *Server) Service() string { return "peoplecounter" }

// Use wraps the server handlers with the given middleware.
func (s *Server) Use(m func(http.Handler) http.Handler) {
	for _, e := range s.endpoints {
		e.handler = m(e.handler)
	}
}

// MethodNames returns the methods served.
func (s *Server) MethodNames() []string {
	names := make([]string, len(s.endpoints))
	for i, e := range s.endpoints {
		names[i] = e.Method
	}
	return names
}

// Mount configures the mux to serve the endpoints.
func (s *Server) Mount(mux goahttp.Muxer) {
	for _, e := range s.endpoints {
		mux.Handle(e.Verb, e.Pattern, e.handler.ServeHTTP)
	}
}

func (s *Server) add(method, verb, pattern string, h http.Handler, mw Middleware) {
	if mw != nil {
		h = mw(h)
	}
	e := &endpoint{MountPoint: MountPoint{Method: method, Verb: verb, Pattern: pattern}, handler: h}
	s.endpoints = append(s.endpoints, e)
	s.Mounts = append(s.Mounts, &e.MountPoint)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	if err := s.svcs.Health.Healthz(ctx); err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.respond(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	if err := s.svcs.Health.Readyz(ctx); err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.respond(ctx, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	var payload LoginPayload
	if err := s.dec(r).Decode(&payload); err != nil {
		s.fail(ctx, w, BadRequest("invalid request body: "+err.Error()))
		return
	}
	res, err := s.svcs.Auth.Login(ctx, &payload)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.respond(ctx, w, http.StatusOK, res)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	res, err := s.svcs.Auth.Status(ctx)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.respond(ctx, w, http.StatusOK, res)
}

func (s *Server) occupancy(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	res, err := s.svcs.Occupancy.Current(ctx)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.respond(ctx, w, http.StatusOK, res)
}

func (s *Server) episodes(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(ctx, w, BadRequest("limit must be an integer"))
			return
		}
		limit = v
	}
	res, err := s.svcs.Occupancy.Episodes(ctx, limit)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.respond(ctx, w, http.StatusOK, res)
}

func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	res, err := s.svcs.System.Status(ctx)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.respond(ctx, w, http.StatusOK, res)
}

func (s *Server) respond(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := s.enc(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.eh(ctx, w, err)
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var se *ServiceError
	if !errors.As(err, &se) {
		se = &ServiceError{Name: "fault", Message: err.Error(), Code: http.StatusInternalServerError}
	}
	s.respond(ctx, w, se.StatusCode(), se)
}

func requestContext(r *http.Request) context.Context {
	return context.WithValue(r.Context(), goahttp.AcceptTypeKey, r.Header.Get("Accept"))
}
