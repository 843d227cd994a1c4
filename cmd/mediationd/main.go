// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// mediationd serves the mediation engine over HTTP: ad requests, show
// requests, adapter status, Prometheus metrics, and a websocket stream
// of telemetry events for debugging.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/admesh/mediation/pkg/adapter"
	"github.com/admesh/mediation/pkg/auction"
	"github.com/admesh/mediation/pkg/frequency"
	"github.com/admesh/mediation/pkg/mediation"
	"github.com/admesh/mediation/pkg/rtb"
)

var (
	port     = flag.Int("port", 8000, "HTTP port")
	logLevel = flag.String("log-level", "info", "Log level")
	testMode = flag.Bool("test-mode", false, "Serve placeholder fills for empty placements")

	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// envConfig holds the deploy-time settings.
type envConfig struct {
	ConfigEndpoint    string `env:"MEDIATION_CONFIG_URL"`
	TelemetryEndpoint string `env:"MEDIATION_TELEMETRY_URL"`
	AppID             string `env:"MEDIATION_APP_ID"`
	PublisherID       string `env:"MEDIATION_PUBLISHER_ID"`
	Concurrency       int    `env:"MEDIATION_CONCURRENCY" envDefault:"1"`

	// Comma-separated name=endpoint pairs for wire-protocol networks.
	S2SNetworks string `env:"MEDIATION_S2S_NETWORKS"`
	// Same format for OpenRTB bidders.
	ORTBNetworks string `env:"MEDIATION_ORTB_NETWORKS"`
}

type server struct {
	engine   *mediation.Engine
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func main() {
	flag.Parse()

	fmt.Printf("mediationd %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

	logger := initLogger(*logLevel)
	defer logger.Sync()

	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal("parse environment", zap.Error(err))
	}

	engine := mediation.New(mediation.Options{
		ConfigEndpoint:    cfg.ConfigEndpoint,
		TelemetryEndpoint: cfg.TelemetryEndpoint,
		AppID:             cfg.AppID,
		PublisherID:       cfg.PublisherID,
		Concurrency:       cfg.Concurrency,
		TestMode:          *testMode,
		Logger:            logger,
	})

	if err := registerNetworks(engine, cfg, logger); err != nil {
		logger.Fatal("register networks", zap.Error(err))
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		logger.Fatal("start engine", zap.Error(err))
	}

	s := &server{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: logger,
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: s.routes(),
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", *port))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("engine close error", zap.Error(err))
	}
	logger.Info("daemon stopped")
}

// registerNetworks builds the server-side adapters named in the
// environment.
func registerNetworks(engine *mediation.Engine, cfg envConfig, logger *zap.Logger) error {
	allTypes := []adapter.AdType{
		adapter.AdTypeBanner,
		adapter.AdTypeInterstitial,
		adapter.AdTypeRewarded,
		adapter.AdTypeNative,
	}

	for name, endpoint := range parseNetworkList(cfg.S2SNetworks) {
		a := rtb.NewS2SAdapter(rtb.S2SOptions{
			Name:     name,
			Endpoint: endpoint,
			AdTypes:  allTypes,
			Meta: rtb.WireMeta{
				SDK:         rtb.SDKMeta{Name: "mediationd", Version: Version},
				PublisherID: cfg.PublisherID,
				AppID:       cfg.AppID,
			},
			Logger: logger,
		})
		desc := adapter.Descriptor{Name: name, Version: Version, AdTypes: allTypes}
		if err := engine.RegisterAdapter(desc, a); err != nil {
			return err
		}
	}

	for name, endpoint := range parseNetworkList(cfg.ORTBNetworks) {
		a := rtb.NewORTBAdapter(rtb.ORTBOptions{
			Name:        name,
			Endpoint:    endpoint,
			AdTypes:     allTypes,
			AppID:       cfg.AppID,
			PublisherID: cfg.PublisherID,
			Logger:      logger,
		})
		desc := adapter.Descriptor{Name: name, Version: "2.6", AdTypes: allTypes}
		if err := engine.RegisterAdapter(desc, a); err != nil {
			return err
		}
	}
	return nil
}

// parseNetworkList parses "name=url,name=url" into a map.
func parseNetworkList(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(pair, "=")
		if ok && name != "" {
			out[name] = endpoint
		}
	}
	return out
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/v1/report", s.handleReport).Methods("GET")
	r.HandleFunc("/v1/ad", s.handleLoadAd).Methods("POST")
	r.HandleFunc("/v1/show/{placement}", s.handleShow).Methods("POST")
	r.HandleFunc("/v1/config/refresh", s.handleConfigRefresh).Methods("POST")
	r.HandleFunc("/v1/debug/stream", s.handleDebugStream).Methods("GET")
	r.Handle("/metrics", s.engine.Metrics().Handler()).Methods("GET")

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Report())
}

type loadAdBody struct {
	Placement string            `json:"placement"`
	AdType    string            `json:"adType,omitempty"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	Extras    map[string]string `json:"extras,omitempty"`
}

func (s *server) handleLoadAd(w http.ResponseWriter, r *http.Request) {
	var body loadAdBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Placement == "" {
		writeError(w, http.StatusBadRequest, "placement required")
		return
	}

	result, err := s.engine.LoadAd(r.Context(), mediation.LoadRequest{
		PlacementID: body.Placement,
		AdType:      adapter.AdType(body.AdType),
		Width:       body.Width,
		Height:      body.Height,
		Extras:      body.Extras,
	})
	if err != nil && result == nil {
		writeError(w, loadStatus(err), err.Error())
		return
	}
	if result.State == auction.StateNoFill {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleShow(w http.ResponseWriter, r *http.Request) {
	placement := mux.Vars(r)["placement"]

	ad, err := s.engine.Show(r.Context(), placement, nil)
	if err != nil {
		writeError(w, showStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shown":    true,
		"adId":     ad.ID,
		"network":  ad.Network,
		"creative": ad.Creative,
	})
}

func (s *server) handleConfigRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RefreshConfig(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// handleDebugStream upgrades to a websocket and forwards telemetry
// events until the client goes away. Slow clients miss events rather
// than stalling the pipeline.
func (s *server) handleDebugStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.engine.Telemetry().Subscribe(64)
	defer cancel()

	// Reader goroutine notices the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func loadStatus(err error) int {
	switch {
	case errors.Is(err, auction.ErrInvalidPlacement),
		errors.Is(err, auction.ErrUnsupportedAdType):
		return http.StatusBadRequest
	case errors.Is(err, mediation.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, auction.ErrNoFill):
		return http.StatusNoContent
	case errors.Is(err, auction.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func showStatus(err error) int {
	switch {
	case errors.Is(err, auction.ErrNoFill):
		return http.StatusNotFound
	case errors.Is(err, mediation.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, frequency.ErrCapExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func initLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
