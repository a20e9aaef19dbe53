package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
	"go.uber.org/zap"
)

type sessionCreatePayload struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type sessionRef struct {
	ID string `validate:"required,uuid"`
}

type sendPayload struct {
	To   string `json:"to" validate:"required,min=3"`
	Text string `json:"text" validate:"required,min=1"`
}

// legacySendPayload is the flat send shape older integrations post to /send.
type legacySendPayload struct {
	SessionID string `json:"sessionId" validate:"required,uuid"`
	To        string `json:"to" validate:"required,min=3"`
	Message   string `json:"message" validate:"required,min=1"`
}

type webhooksPayload struct {
	Receive string `json:"receive" validate:"omitempty,url"`
	Send    string `json:"send" validate:"omitempty,url"`
	Status  string `json:"status" validate:"omitempty,url"`
	Session string `json:"session" validate:"omitempty,url"`
}

type sessionCSVRow struct {
	ID             string `csv:"id"`
	Name           string `csv:"name"`
	State          string `csv:"state"`
	DeviceJID      string `csv:"device_jid"`
	WebhookReceive string `csv:"webhook_receive"`
	WebhookSend    string `csv:"webhook_send"`
	WebhookStatus  string `csv:"webhook_status"`
	WebhookSession string `csv:"webhook_session"`
	CreatedAt      string `csv:"created_at"`
}

func registerSessionRoutes() {
	webserver.ApiPOST("/sessions", createSession)
	webserver.ApiGET("/sessions", listSessions)
	webserver.ApiGET("/sessions/export", exportSessions)
	webserver.ApiGET("/sessions/:id", getSession)
	webserver.ApiGET("/sessions/:id/qr", getSessionQR)
	webserver.ApiPOST("/sessions/:id/qr/refresh", refreshSessionQR)
	webserver.ApiPOST("/sessions/:id/messages", sendSessionMessage)
	webserver.ApiPOST("/send", sendLegacyMessage)
	webserver.ApiPUT("/sessions/:id/webhooks", updateSessionWebhooks)
	webserver.ApiPOST("/sessions/:id/logout", logoutSession)
	webserver.ApiDELETE("/sessions/:id", deleteSession)
}

// sessionID validates the :id path parameter.
func sessionID(c echo.Context) (string, error) {
	ref := sessionRef{ID: strings.TrimSpace(c.Param("id"))}
	if err := c.Validate(&ref); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func createSession(c echo.Context) error {
	var payload sessionCreatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse session parameters", nil)
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	s, err := GetSessions(c).Create(c.Request().Context(), payload.Name)
	if err != nil {
		return failSession(c, err)
	}
	zap.L().Info("adminapi: session created", zap.String("session_id", s.ID), zap.String("name", s.Name))
	return ok(c, s)
}

func listSessions(c echo.Context) error {
	return ok(c, GetSessions(c).List())
}

func getSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return handleValidationError(c, err)
	}
	s, err := GetSessions(c).Get(id)
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, s)
}

func exportSessions(c echo.Context) error {
	sessions := GetSessions(c).List()
	rows := make([]*sessionCSVRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, &sessionCSVRow{
			ID:             s.ID,
			Name:           s.Name,
			State:          string(s.State),
			DeviceJID:      s.DeviceJID,
			WebhookReceive: s.Webhooks.Receive,
			WebhookSend:    s.Webhooks.Send,
			WebhookStatus:  s.Webhooks.Status,
			WebhookSession: s.Webhooks.Session,
			CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		})
	}
	data, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return failSession(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="sessions.csv"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
}

func getSessionQR(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return handleValidationError(c, err)
	}
	code, img, err := GetSessions(c).PairingImage(c.Request().Context(), id)
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, map[string]interface{}{
		"code":  code,
		"image": img,
	})
}

func refreshSessionQR(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return handleValidationError(c, err)
	}
	svc := GetSessions(c)
	if err := svc.RefreshPairing(c.Request().Context(), id); err != nil {
		return failSession(c, err)
	}
	s, err := svc.Get(id)
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, s)
}

func sendSessionMessage(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return handleValidationError(c, err)
	}
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse message parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	ack, err := GetSessions(c).SendText(c.Request().Context(), id, payload.To, payload.Text)
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, ack)
}

func sendLegacyMessage(c echo.Context) error {
	var payload legacySendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse message parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	ack, err := GetSessions(c).SendText(c.Request().Context(), payload.SessionID, payload.To, payload.Message)
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, ack)
}

func updateSessionWebhooks(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return handleValidationError(c, err)
	}
	var payload webhooksPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse webhook parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	s, err := GetSessions(c).UpdateWebhooks(c.Request().Context(), id, domain.WebhookEndpoints{
		Receive: strings.TrimSpace(payload.Receive),
		Send:    strings.TrimSpace(payload.Send),
		Status:  strings.TrimSpace(payload.Status),
		Session: strings.TrimSpace(payload.Session),
	})
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, s)
}

func logoutSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return handleValidationError(c, err)
	}
	svc := GetSessions(c)
	if err := svc.Logout(c.Request().Context(), id); err != nil {
		return failSession(c, err)
	}
	s, err := svc.Get(id)
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, s)
}

func deleteSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return handleValidationError(c, err)
	}
	if err := GetSessions(c).Delete(c.Request().Context(), id); err != nil {
		return failSession(c, err)
	}
	return ok(c, map[string]interface{}{"id": id, "state": session.StateDeleted})
}
