package api

import (
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/opsdash/authgate/docs"
	"github.com/opsdash/authgate/internal/api/handler"
	"github.com/opsdash/authgate/internal/api/middleware"
	"github.com/opsdash/authgate/internal/core/ports"
)

// Dependencies are the collaborators the HTTP layer needs.
type Dependencies struct {
	AuthService ports.AuthService
	// Health maps a dependency name to its readiness check.
	Health map[string]ports.Pinger
	Log    zerolog.Logger
	// TrustedProxies are the only peers whose X-Forwarded-For is honoured.
	// Empty means clients connect directly.
	TrustedProxies []*net.IPNet
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)
	e.IPExtractor = ipExtractor(deps.TrustedProxies)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: func() string { return ulid.Make().String() },
	}))
	e.Use(requestLogger(deps.Log))

	// --- Auth routes ---
	authHandler := handler.NewAuthHandler(deps.AuthService)
	authGroup := e.Group("/api/auth")
	authGroup.POST("/signup", authHandler.Signup)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/verify", authHandler.Verify, middleware.Auth(deps.AuthService))
	authGroup.POST("/logout", authHandler.Logout)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler(deps.Health)
	e.GET("/health", healthHandler.Liveness)        // liveness  – is the process alive?
	e.GET("/health/ready", healthHandler.Readiness) // readiness – are dependencies up?

	// --- Operations ---
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// ipExtractor backs c.RealIP, which keys the per-client signup limit. Forwarded
// headers are ignored unless the peer is a configured proxy.
func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// requestLogger writes one structured line per request. Auth headers and
// bodies are never logged.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			var entry *zerolog.Event
			switch {
			case v.Status >= http.StatusInternalServerError:
				entry = log.Error().Err(v.Error)
			case v.Status >= http.StatusBadRequest:
				entry = log.Warn()
			default:
				entry = log.Info()
			}
			entry.
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}
