package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"thirdcoast.systems/reelwatch/cmd/web/auth"
	"thirdcoast.systems/reelwatch/cmd/web/handlers/process_api"
	"thirdcoast.systems/reelwatch/cmd/web/handlers/webhooks"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the collaborators of the HTTP front door.
type Options struct {
	VerifyToken string
	Verifier    *auth.Verifier
	Webhooks    webhooks.Submitter
	Runner      process_api.BatchRunner
	DB          Pinger
}

type Webserver struct {
	*echo.Echo
	opts Options
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

func NewWebserver(opts Options) (*Webserver, error) {
	e := echo.New()
	e.Validator = &requestValidator{v: validator.New()}

	webserver := &Webserver{
		Echo: e,
		opts: opts,
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("2M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	return nil
}

func (s *Webserver) registerRoutes() error {
	s.GET("/healthz", s.handleHealth)

	s.GET("/webhooks", webhooks.HandleVerify(s.opts.VerifyToken))
	s.POST("/webhooks", webhooks.HandleMention(s.opts.Webhooks))

	api := s.Group("/api")
	api.Use(s.opts.Verifier.Middleware())
	api.POST("/process", process_api.HandleProcess(s.opts.Runner))

	return nil
}

func (s *Webserver) handleHealth(c echo.Context) error {
	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.DB.Ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
