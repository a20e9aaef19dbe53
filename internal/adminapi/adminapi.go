// Package adminapi implements the administrative HTTP routes.
package adminapi

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/message"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
)

const sessionServiceKey = "wagate.sessions"

// SessionService is the part of the session manager the admin surface drives.
type SessionService interface {
	Create(ctx context.Context, name string) (session.Session, error)
	List() []session.Session
	Get(id string) (session.Session, error)
	PairingImage(ctx context.Context, id string) (code string, dataURL string, err error)
	RefreshPairing(ctx context.Context, id string) error
	SendText(ctx context.Context, id, to, text string) (*message.SendAck, error)
	UpdateWebhooks(ctx context.Context, id string, ep domain.WebhookEndpoints) (session.Session, error)
	Logout(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Init registers every admin route with the webserver.
func Init() {
	registerSessionRoutes()
	registerMetricsRoutes()
}

// WithSessions makes svc available to handlers through GetSessions.
func WithSessions(svc SessionService) webserver.Option {
	return webserver.WithContextValue(sessionServiceKey, svc)
}

func GetSessions(c echo.Context) SessionService {
	return c.Get(sessionServiceKey).(SessionService)
}
