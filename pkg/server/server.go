// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server runs the HTTP endpoint of the worker: metrics, health
// and a state snapshot for debugging.
package server

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/pkg/service"
)

// Config for the HTTP server.
type Config struct {
	// Host interface to listen on
	Host string
	// Port to listen on for HTTP requests
	HTTPPort int
}

// Server runs the HTTP server for the service.
type Server struct {
	Config
	log     zerolog.Logger
	service service.Service
}

// New configures a new Server.
func New(cfg Config, log zerolog.Logger, svc service.Service) (*Server, error) {
	return &Server{
		Config:  cfg,
		log:     log.With().Str("component", "server").Logger(),
		service: svc,
	}, nil
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	log := s.log
	httpAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort))
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to listen on address %s", httpAddr)
	}

	httpRouter := echo.New()
	httpRouter.HideBanner = true
	httpRouter.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	httpRouter.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	httpRouter.GET("/health", s.healthHandler)
	httpRouter.GET("/state", s.stateHandler)
	httpSrv := http.Server{
		Handler: httpRouter,
	}

	log.Debug().Str("address", httpAddr).Msg("Serving HTTP")
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to serve HTTP server")
		}
		log.Debug().Str("address", httpAddr).Msg("Done Serving HTTP")
	}()

	// Wait until context closed
	<-ctx.Done()

	log.Info().Msg("Closing server")
	httpSrv.Shutdown(context.Background())

	return nil
}

func (s *Server) healthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "OK\n")
}

func (s *Server) stateHandler(c echo.Context) error {
	state := s.service.State()
	state.Uptime = humanize.RelTime(state.StartedAt, time.Now(), "", "")
	return c.JSONPretty(http.StatusOK, state, "  ")
}
