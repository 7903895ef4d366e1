package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"peoplecounter/internal/auth"
	authmdlwr "peoplecounter/internal/middleware"
	"peoplecounter/internal/services"
)

// extraHandler is an endpoint served by a plain http.Handler rather than a
// service method
type extraHandler struct {
	method    string
	verb      string
	pattern   string
	handler   http.Handler
	protected bool
}

// handleHTTPServer configures and starts a HTTP server on the given address.
// It shuts down the server when ctx is done.
func handleHTTPServer(ctx context.Context, addr string, svcs services.Services, extra []extraHandler, authn *auth.Authenticator, wg *sync.WaitGroup, errc chan error, logger *zap.Logger, debug bool) {
	logger = logger.Named("http")

	// Setup goa log adapter.
	var (
		adapter middleware.Logger
	)
	{
		adapter = middleware.NewLogger(zap.NewStdLog(logger))
	}

	// Provide the transport specific request decoder and response encoder.
	var (
		dec = goahttp.RequestDecoder
		enc = goahttp.ResponseEncoder
	)

	// Build the service HTTP request multiplexer and configure it to serve
	// HTTP requests to the service endpoints.
	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}

	var server *services.Server
	{
		eh := errorHandler(logger)
		server = services.NewServer(svcs, dec, enc, eh,
			authmdlwr.AuthMiddleware(authn), authmdlwr.OptionalAuth(authn))
		for _, h := range extra {
			server.Handle(h.method, h.verb, h.pattern, h.handler, h.protected)
		}
		if debug {
			// stdout carries raw video frames
			server.Use(httpmdlwr.Debug(mux, os.Stderr))
		}
	}
	server.Mount(mux)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the service endpoints.
	var handler http.Handler = mux
	{
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range server.Mounts {
		logger.Debug("mounted", zap.String("method", m.Method), zap.String("verb", m.Verb), zap.String("pattern", m.Pattern))
	}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Info("listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errc <- err:
				default:
				}
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down", zap.String("addr", addr))

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("failed to shutdown", zap.Error(err))
		}
	}()
}

// errorHandler returns a function that writes and logs the given error.
// The function also writes and logs the error unique ID so that it's possible
// to correlate.
func errorHandler(logger *zap.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id, _ := ctx.Value(middleware.RequestIDKey).(string)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		logger.Error("encoding failed", zap.String("request_id", id), zap.Error(err))
	}
}
