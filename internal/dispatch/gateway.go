package dispatch

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/sos-dispatch/internal/models"
)

// NotificationGateway delivers an assignment offer to the responder-facing
// application. Delivery mechanics live outside this subsystem; offers are
// best-effort and the acceptance-window timeout covers lost ones.
type NotificationGateway interface {
	Offer(responderID string, offer models.AssignmentOffer) error
}

// WebhookGateway posts offers to a partner HTTP endpoint, trying a live
// websocket session first when a registry is attached.
type WebhookGateway struct {
	Endpoint string
	Token    string
	Client   *http.Client
	WS       *WSRegistry
}

func NewWebhookGateway(endpoint, token string, ws *WSRegistry) *WebhookGateway {
	return &WebhookGateway{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (g *WebhookGateway) Offer(responderID string, offer models.AssignmentOffer) error {
	if g.WS != nil {
		if err := g.WS.Send(responderKey(responderID), offer); err == nil {
			return nil
		}
	}
	if g.Endpoint == "" {
		return ErrNoSession
	}
	b, _ := json.Marshal(map[string]any{"responder_id": responderID, "offer": offer})
	req, err := http.NewRequest(http.MethodPost, g.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// LogGateway records offers without delivering them anywhere. Used when no
// webhook endpoint is configured.
type LogGateway struct {
	Logger *slog.Logger
}

func (g *LogGateway) Offer(responderID string, offer models.AssignmentOffer) error {
	g.Logger.Info("assignment_offer",
		"responder_id", responderID,
		"assignment_id", offer.AssignmentID,
		"case_id", offer.CaseID,
		"distance_km", offer.DistanceKm,
		"eta_minutes", offer.ETAMinutes,
	)
	return nil
}
