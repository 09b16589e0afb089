// Package adminapi is the read-only HTTP introspection surface for the
// ACDB runtime (teacher pattern: cmd/cc-backend/server.go's gorilla/mux +
// gorilla/handlers + swaggo/http-swagger composition). It never mutates
// runtime state: opening, closing or reconfiguring a graph stays a
// client-of-the-wire-protocol operation brokered by internal/runtime.
package adminapi

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	_ "github.com/acdbrt/acdbrt/internal/adminapi/docs"
	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/internal/registry"
	"github.com/acdbrt/acdbrt/pkg/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

var apiLog = log.Component("ADMINAPI")

// GraphLister is the subset of graphrt.Manager the admin surface reads.
type GraphLister interface {
	All() []*graphrt.Graph
}

// FileSetLister is the subset of registry.Registry the admin surface reads.
type FileSetLister interface {
	GetAllFileSets(registry.Filter) ([]registry.FileSet, error)
}

// Server serves /healthz, /metrics, /api/graphs and /api/registry/filesets,
// plus a swagger UI describing them.
type Server struct {
	router  *mux.Router
	http    *http.Server
	metrics *metrics

	graphs    GraphLister
	fileSets  FileSetLister
}

// New builds a Server bound to addr. graphs and fileSets may be nil; the
// corresponding endpoints then report an empty collection rather than
// panicking, so the admin surface can come up before the rest of the
// runtime finishes wiring.
func New(addr string, graphs GraphLister, fileSets FileSetLister) *Server {
	s := &Server{
		graphs:   graphs,
		fileSets: fileSets,
		metrics:  newMetrics(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/graphs", s.handleGraphs).Methods(http.MethodGet)
	r.HandleFunc("/api/registry/filesets", s.handleFileSets).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"))).Methods(http.MethodGet)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet}),
		handlers.AllowedOrigins([]string{"*"})))

	logged := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		apiLog.Debugf("%s %s (%d, %dms)", params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, time.Since(params.TimeStamp).Milliseconds())
	})

	s.router = r
	s.http = &http.Server{
		Addr:         addr,
		Handler:      logged,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Metrics returns the exported prometheus counters/gauges, so the rest of
// the runtime (dispatcher, errdetect, ssrcoord) can update them as events
// happen instead of the admin surface having to poll.
func (s *Server) Metrics() *metrics { return s.metrics }

// Router exposes the underlying mux.Router for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving in the background and returns once the listener is
// bound, or the bind itself fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !strings.Contains(err.Error(), "Server closed") {
			apiLog.Errorf("admin api server stopped: %v", err)
		}
	}()
	apiLog.Infof("admin api listening on %s", s.http.Addr)
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
