// Package api provides the HTTP REST API and WebSocket server for Lens
// Logic Core.
//
// It exposes camera records, live fleet state and camera commands to
// operator tooling (vision mixer panels, web admin), and streams fleet
// events over WebSocket.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/lens-logic-core/internal/confstore"
	"github.com/nerrad567/lens-logic-core/internal/eventlog"
	"github.com/nerrad567/lens-logic-core/internal/fleet"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/config"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/logging"
	"github.com/nerrad567/lens-logic-core/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Store    confstore.Repository
	Engine   *fleet.Engine
	Events   eventlog.Repository // optional: fleet event history endpoint
	MQTT     *mqtt.Client        // optional: health reporting only
	Influx   *influxdb.Client    // optional: health reporting only
	Version  string
}

// Server is the HTTP API server for Lens Logic Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	store   confstore.Repository
	engine  *fleet.Engine
	events  eventlog.Repository
	mqtt    *mqtt.Client
	influx  *influxdb.Client
	version string

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("camera store is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("fleet engine is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		store:   deps.Store,
		engine:  deps.Engine,
		events:  deps.Events,
		mqtt:    deps.MQTT,
		influx:  deps.Influx,
		version: deps.Version,
		tickets: newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, registers fleet
// notification callbacks for real-time WebSocket broadcast, and launches
// the HTTP listener in a background goroutine. The server can be stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Expired WebSocket tickets are purged periodically.
	go s.tickets.cleanLoop(srvCtx)

	s.attachFleetEvents()

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// attachFleetEvents forwards fleet notifications to WebSocket clients.
func (s *Server) attachFleetEvents() {
	notifier := s.engine.Notifier()

	notifier.OnDeviceDiscovered(func(conf confstore.Camera) {
		s.hub.Broadcast(ChannelDeviceDiscover, map[string]any{
			"identity": conf.ID,
			"name":     conf.Name,
			"host":     conf.Host,
		})
	})
	notifier.OnDeviceAdded(func(dev fleet.Device) {
		s.hub.Broadcast(ChannelDeviceAdded, map[string]any{
			"identity": dev.Identity(),
			"name":     dev.Name(),
			"host":     dev.Host(),
			"index":    dev.Index(),
		})
	})
	notifier.OnDeviceRemoved(func(dev fleet.Device, reason fleet.RemovalReason) {
		s.hub.Broadcast(ChannelDeviceRemoved, map[string]any{
			"identity": dev.Identity(),
			"reason":   reason.String(),
		})
	})
	notifier.OnAttributeChanged(func(dev fleet.Device, group, attr string, value any) {
		s.hub.Broadcast(ChannelCameraState, map[string]any{
			"identity":  dev.Identity(),
			"group":     group,
			"attribute": attr,
			"value":     value,
		})
	})
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stop background goroutines (hub, ticket cleanup).
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
