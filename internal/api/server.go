// Package api serves the loopback status/control API while a route is
// running, and provides the client the CLI uses to reach it.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/logging"
	"vpncircuit/internal/supervisor"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Supervisor is the slice of the connection supervisor the API exposes.
type Supervisor interface {
	IsActive() bool
	State() supervisor.State
	ActiveCircuit() *circuit.Circuit
	RefreshRoute(ctx context.Context) error
	StopRoute(ctx context.Context) error
	RotateExit(ctx context.Context, country string) error
}

// StatusView summarizes the supervisor for callers. Key material never
// crosses this API.
type StatusView struct {
	State     string     `json:"state"`
	Active    bool       `json:"active"`
	CircuitID string     `json:"circuit_id,omitempty"`
	Hops      int        `json:"hops,omitempty"`
	Path      []string   `json:"path,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type HopView struct {
	Index     int       `json:"index"`
	Country   string    `json:"country"`
	Validator string    `json:"validator"`
	Endpoint  string    `json:"endpoint"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CircuitView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Direct    bool      `json:"direct"`
	Hops      []HopView `json:"hops"`
}

type statusOutput struct {
	Body StatusView
}

type circuitOutput struct {
	Body CircuitView
}

type rotateInput struct {
	Body struct {
		Country string `json:"country,omitempty"`
	}
}

type Server struct {
	addr string
	sup  Supervisor
	log  zerolog.Logger
}

func NewServer(addr string, sup Supervisor) *Server {
	return &Server{
		addr: addr,
		sup:  sup,
		log:  logging.Component("api"),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.registerRoutes(r)

	srv := &http.Server{Addr: s.addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.addr).Msg("control api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) registerRoutes(r chi.Router) {
	api := humachi.New(r, huma.DefaultConfig("vpncircuit control API", "1.0.0"))

	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Current route state",
	}, s.getStatus)
	huma.Register(api, huma.Operation{
		OperationID: "get-circuit",
		Method:      http.MethodGet,
		Path:        "/api/circuit",
		Summary:     "Active circuit details",
	}, s.getCircuit)
	huma.Register(api, huma.Operation{
		OperationID: "refresh-route",
		Method:      http.MethodPost,
		Path:        "/api/route/refresh",
		Summary:     "Rebuild the route from its original intent",
	}, s.refreshRoute)
	huma.Register(api, huma.Operation{
		OperationID: "rotate-exit",
		Method:      http.MethodPost,
		Path:        "/api/route/rotate",
		Summary:     "Change the exit of the active route",
	}, s.rotateExit)
	huma.Register(api, huma.Operation{
		OperationID: "stop-route",
		Method:      http.MethodPost,
		Path:        "/api/route/stop",
		Summary:     "Tear the route down",
	}, s.stopRoute)
}

func (s *Server) getStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	return &statusOutput{Body: s.statusView()}, nil
}

func (s *Server) getCircuit(ctx context.Context, _ *struct{}) (*circuitOutput, error) {
	c := s.sup.ActiveCircuit()
	if c == nil {
		return nil, huma.Error404NotFound("no active circuit")
	}
	return &circuitOutput{Body: circuitView(c)}, nil
}

func (s *Server) refreshRoute(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	if err := s.sup.RefreshRoute(ctx); err != nil {
		return nil, routeError(err)
	}
	return &statusOutput{Body: s.statusView()}, nil
}

func (s *Server) rotateExit(ctx context.Context, input *rotateInput) (*statusOutput, error) {
	if err := s.sup.RotateExit(ctx, input.Body.Country); err != nil {
		return nil, routeError(err)
	}
	return &statusOutput{Body: s.statusView()}, nil
}

func (s *Server) stopRoute(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	if err := s.sup.StopRoute(ctx); err != nil {
		return nil, routeError(err)
	}
	return &statusOutput{Body: s.statusView()}, nil
}

func (s *Server) statusView() StatusView {
	view := StatusView{
		State:  s.sup.State().String(),
		Active: s.sup.IsActive(),
	}
	if c := s.sup.ActiveCircuit(); c != nil {
		view.CircuitID = c.ID
		view.Hops = len(c.Hops)
		view.Path = c.Countries()
		expires := c.ExpiresAt
		view.ExpiresAt = &expires
	}
	return view
}

func routeError(err error) error {
	if errors.Is(err, supervisor.ErrNoActiveRoute) {
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error502BadGateway(err.Error())
}

func circuitView(c *circuit.Circuit) CircuitView {
	view := CircuitView{
		ID:        c.ID,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
		Direct:    c.Direct(),
		Hops:      make([]HopView, 0, len(c.Hops)),
	}
	for _, h := range c.Hops {
		view.Hops = append(view.Hops, HopView{
			Index:     h.Index,
			Country:   h.Country,
			Validator: h.Validator,
			Endpoint:  h.Endpoint,
			ExpiresAt: h.ExpiresAt,
		})
	}
	return view
}
