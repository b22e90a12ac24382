// Package server assembles the HTTP surface: the echo instance, the
// /api/v1 memory routes, health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/memvault/internal/profile"
	"github.com/hrygo/memvault/internal/version"
	"github.com/hrygo/memvault/metrics"
	apiv1 "github.com/hrygo/memvault/server/router/api/v1"
	"github.com/hrygo/memvault/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	apiV1      *apiv1.APIV1Service
	exporter   *metrics.Exporter
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	e := echo.New()
	e.Debug = profile.IsDev()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	s := &Server{
		Profile:    profile,
		Store:      store,
		echoServer: e,
		exporter:   exporter,
	}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "route not found"})
	}

	e.GET("/healthz", func(c echo.Context) error {
		if ok, err := store.GetDriver().IsInitialized(c.Request().Context()); err != nil || !ok {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":     "ok",
			"version":    profile.Version,
			"commit":     version.GitCommit,
			"build_time": version.BuildTime,
		})
	})
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	apiV1Service, err := apiv1.NewAPIV1Service(profile, store, exporter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create API v1 service")
	}
	apiV1Service.RegisterRoutes(e)
	s.apiV1 = apiV1Service

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server gracefully", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("memvault stopped properly")
}
