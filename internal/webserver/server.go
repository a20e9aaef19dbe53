package webserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/talkincode/wagate/config"
	"go.uber.org/zap"
)

// ApiPrefix is the mount point of every admin route.
const ApiPrefix = "/api/v1"

type apiRoute struct {
	method  string
	path    string
	handler echo.HandlerFunc
}

var (
	routesMu  sync.Mutex
	apiRoutes []apiRoute
)

func addRoute(method, path string, h echo.HandlerFunc) {
	routesMu.Lock()
	defer routesMu.Unlock()
	apiRoutes = append(apiRoutes, apiRoute{method: method, path: path, handler: h})
}

func ApiGET(path string, h echo.HandlerFunc)    { addRoute(http.MethodGet, path, h) }
func ApiPOST(path string, h echo.HandlerFunc)   { addRoute(http.MethodPost, path, h) }
func ApiPUT(path string, h echo.HandlerFunc)    { addRoute(http.MethodPut, path, h) }
func ApiDELETE(path string, h echo.HandlerFunc) { addRoute(http.MethodDelete, path, h) }

// ResetRoutes clears the registered routes (used in tests).
func ResetRoutes() {
	routesMu.Lock()
	apiRoutes = nil
	routesMu.Unlock()
}

// CustomValidator adapts validator/v10 to echo.
type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// AdminServer is the HTTP administrative surface.
type AdminServer struct {
	root *echo.Echo
	addr string
}

// Option customizes the server before routes are mounted.
type Option func(e *echo.Echo)

// WithContextValue stores v under key in every request context.
func WithContextValue(key string, v interface{}) Option {
	return func(e *echo.Echo) {
		e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				c.Set(key, v)
				return next(c)
			}
		})
	}
}

// WithStatic serves dir under prefix, used for locally stored media.
func WithStatic(prefix, dir string) Option {
	return func(e *echo.Echo) {
		if dir != "" {
			e.Static(prefix, dir)
		}
	}
}

func NewAdminServer(cfg config.WebConfig, debug bool, opts ...Option) *AdminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	if debug {
		e.Logger.SetLevel(log.DEBUG)
	} else {
		e.Logger.SetLevel(log.WARN)
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			zap.L().Error("webserver: handler panic",
				zap.String("path", c.Path()), zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			}
			if v.Error != nil {
				zap.L().Warn("webserver: request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			zap.L().Debug("webserver: request", fields...)
			return nil
		},
	}))
	for _, opt := range opts {
		opt(e)
	}

	g := e.Group(ApiPrefix)
	routesMu.Lock()
	for _, r := range apiRoutes {
		g.Add(r.method, r.path, r.handler)
	}
	routesMu.Unlock()

	host := strings.TrimSpace(cfg.Host)
	return &AdminServer{root: e, addr: fmt.Sprintf("%s:%d", host, cfg.Port)}
}

func (s *AdminServer) Echo() *echo.Echo {
	return s.root
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (s *AdminServer) Start() error {
	zap.L().Info("webserver: admin server listening", zap.String("addr", s.addr))
	if err := s.root.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.root.Shutdown(ctx)
}
