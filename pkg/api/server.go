// Package api contains the REST API for octant.
package api

import (
	"context"
	stderr "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/octantbim/octant/pkg/api/v1"
	"github.com/octantbim/octant/pkg/audit"
	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/catalog"
	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/oauth"
	"github.com/octantbim/octant/pkg/pat"
	"github.com/octantbim/octant/pkg/ratelimit"
	"github.com/octantbim/octant/pkg/roles"
	"github.com/octantbim/octant/pkg/scopes"
	"github.com/octantbim/octant/pkg/store"
	"github.com/octantbim/octant/pkg/upload"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Deps carries the assembled collaborators the HTTP surface is built from.
type Deps struct {
	Store         store.Store
	Blobs         blob.Store
	Checker       *roles.Checker
	Audit         *audit.Recorder
	Issuer        *oauth.TokenIssuer
	Apps          *oauth.Service
	PATs          *pat.Service
	Uploads       *upload.Service
	Catalog       *catalog.Service
	Authenticator *scopes.Authenticator
	Limiter       *ratelimit.Limiter
	RefreshTTL    time.Duration

	// Policies are the upload admission rules. Unnamed entries fall back
	// to the ratelimit package defaults.
	Policies ratelimit.Policies
}

// NewRouter assembles the full route tree. Split out of Serve so tests can
// drive the surface through httptest without binding a port.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		correlationMiddleware,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
	)

	r.Mount("/healthz", HealthRouter(deps.Store, deps.Blobs))
	r.Handle("/metrics", promhttp.Handler())

	// The protocol endpoints authenticate their own callers; /authorize
	// alone needs the end user's principal when one is presented.
	r.Group(func(r chi.Router) {
		r.Use(deps.Authenticator.Optional)
		r.Mount("/oauth", oauth.ServerRouter(deps.Store, deps.Issuer, deps.Audit, deps.RefreshTTL))
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.Authenticator.Middleware)

		routers := map[string]http.Handler{
			"/api/v1/workspaces": v1.WorkspaceRouter(
				deps.Store, deps.Checker, deps.Audit, deps.Catalog, deps.Apps, deps.PATs, deps.Authenticator),
			"/api/v1/projects": v1.ProjectRouter(
				deps.Store, deps.Checker, deps.Uploads, deps.Catalog, deps.Limiter,
				deps.Policies.OrDefaults(), deps.Authenticator),
			"/api/v1/files":         v1.FileRouter(deps.Store, deps.Checker, deps.Catalog, deps.Authenticator),
			"/api/v1/models":        v1.ModelRouter(deps.Store, deps.Checker, deps.Catalog, deps.Authenticator),
			"/api/v1/modelversions": v1.ModelVersionRouter(deps.Store, deps.Checker, deps.Catalog, deps.Authenticator),
		}
		for prefix, router := range routers {
			r.Mount(prefix, router)
		}
	})
	return r
}

// Serve starts the server on the given address and serves the API.
// It is assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, address string, deps Deps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	logger.Infof("starting HTTP server on %s", address)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !stderr.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("HTTP server stopped")
	return nil
}
