// Package httpapi serves the faucet's HTTP interface. It checks requests for
// syntactic validity and hands them to the dispatcher; everything the node
// decides is mapped back to a status code.
package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/lightningnetwork/faucet/dispatch"
	"github.com/lightningnetwork/faucet/lease"
)

// maxBodySize limits the size of request bodies.
const maxBodySize = 1 << 16

//go:embed static/index.html
var static embed.FS

// Dispatcher is the part of the dispatcher the API needs.
type Dispatcher interface {
	Send(ctx context.Context,
		req *dispatch.SendRequest) (*dispatch.SendResult, error)

	Lease(ctx context.Context,
		req *dispatch.LeaseRequest) (*dispatch.LeaseResult, error)

	LeaseStatus(id lease.ID) (*lease.Lease, error)

	ListLeases() []*lease.Lease

	LightningEnabled() bool
}

// Config holds the dependencies and request limits of the server.
type Config struct {
	// Listen is the address the server listens on.
	Listen string

	// Dispatcher serves the validated requests.
	Dispatcher Dispatcher

	// Net is the network addresses must belong to.
	Net *chaincfg.Params

	// MinSendable and MaxSendable bound the amount of a send.
	MinSendable btcutil.Amount
	MaxSendable btcutil.Amount

	// DefaultCapacity is used for channel requests that name none.
	// MaxCapacity bounds the capacity of a channel request; zero limits
	// requests to DefaultCapacity.
	DefaultCapacity btcutil.Amount
	MaxCapacity     btcutil.Amount

	// DefaultDuration is used for channel requests that name none.
	// Requested durations must lie in [MinDuration, MaxDuration].
	DefaultDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration

	// Metrics, if set, is served on /metrics.
	Metrics http.Handler

	// Health, if set, is called by /healthz.
	Health func(ctx context.Context) error

	// ReadTimeout and WriteTimeout are applied to the http server.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the faucet's HTTP server.
type Server struct {
	started sync.Once
	stopped sync.Once

	cfg *Config

	router http.Handler
	srv    *http.Server
	wg     sync.WaitGroup
}

// New creates a new server.
func New(cfg *Config) *Server {
	if cfg.MaxCapacity == 0 {
		cfg.MaxCapacity = cfg.DefaultCapacity
	}

	s := &Server{cfg: cfg}
	s.router = s.buildRouter()

	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logRequests)
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)
	r.Use(permissiveCORS)

	r.Get("/", s.index)
	r.Get("/healthz", s.healthz)
	r.Post("/send", s.send)

	r.Post("/channel", s.channel)
	r.Get("/lease/{id}", s.leaseStatus)
	r.Get("/leases", s.listLeases)

	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	return r
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	var startErr error
	s.started.Do(func() {
		lis, err := net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			startErr = fmt.Errorf("unable to listen on %v: %w",
				s.cfg.Listen, err)
			return
		}

		s.srv = &http.Server{
			Handler:           s.router,
			ReadHeaderTimeout: s.cfg.ReadTimeout,
			ReadTimeout:       s.cfg.ReadTimeout,
			WriteTimeout:      s.cfg.WriteTimeout,
		}

		log.Infof("HTTP API listening on %v", lis.Addr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			err := s.srv.Serve(lis)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("HTTP server stopped: %v", err)
			}
		}()
	})

	return startErr
}

// Stop shuts the server down, waiting for in-flight requests up to the given
// context.
func (s *Server) Stop(ctx context.Context) error {
	var stopErr error
	s.stopped.Do(func() {
		if s.srv == nil {
			return
		}

		log.Info("HTTP API shutting down...")
		stopErr = s.srv.Shutdown(ctx)
		s.wg.Wait()
	})

	return stopErr
}

// logRequests logs every request at debug level once it is served.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Debugf("%v %v from %v: %d (%v) [%v]", r.Method,
			r.URL.Path, r.RemoteAddr, ww.Status(),
			time.Since(start), chimw.GetReqID(r.Context()))
	})
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Unable to write response: %v", err)
	}
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v",
			dispatch.ErrInvalidRequest, err)
	}

	return nil
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status    string `json:"status"`
	Lightning bool   `json:"lightning"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := &healthResponse{
		Status:    "ok",
		Lightning: s.cfg.Dispatcher.LightningEnabled(),
	}

	if s.cfg.Health != nil {
		if err := s.cfg.Health(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)

			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
