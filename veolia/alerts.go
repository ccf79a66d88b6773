package veolia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// alertThreshold is one period's block in the alerts GET response.
type alertThreshold struct {
	Valeur       int    `json:"valeur"`
	Unite        string `json:"unite,omitempty"`
	MoyenContact struct {
		SouscritParEmail  bool `json:"souscrit_par_email"`
		SouscritParMobile bool `json:"souscrit_par_mobile"`
	} `json:"moyen_contact"`
}

// alertsResponse is the alerts GET response. An absent period means that
// period's alert is not subscribed.
type alertsResponse struct {
	Seuils struct {
		Journalier *alertThreshold `json:"journalier"`
		Mensuel    *alertThreshold `json:"mensuel"`
	} `json:"seuils"`
}

type alertChannel struct {
	SubscribedByEmail  bool `json:"subscribed_by_email"`
	SubscribedByMobile bool `json:"subscribed_by_mobile"`
}

// alertSubscription is one period's block in the alerts POST payload.
type alertSubscription struct {
	Seuil          int          `json:"seuil"`
	Unite          string       `json:"unite"`
	Souscrite      bool         `json:"souscrite"`
	ContactChannel alertChannel `json:"contact_channel"`
}

// setAlertsRequest is the alerts POST payload. Disabled periods are
// omitted entirely, upstream reads omission as unsubscribe.
type setAlertsRequest struct {
	AlerteJournaliere *alertSubscription `json:"alerte_journaliere,omitempty"`
	AlerteMensuelle   *alertSubscription `json:"alerte_mensuelle,omitempty"`
	ContactID         string             `json:"contact_id"`
	NumeroCompteur    string             `json:"numero_compteur"`
	TiersID           string             `json:"tiers_id"`
	AboID             string             `json:"abo_id"`
	TypeFront         string             `json:"type_front"`
}

// Alerts fetches the consumption alert settings of the session's metering
// point. A period absent from the response maps to a disabled period with
// zeroed threshold and notification fields.
func (c *Client) Alerts(ctx context.Context) (*AlertSettings, error) {
	const op = "veolia.Client.Alerts"
	if err := c.ensureValidToken(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/alertes/%s?abo_id=%s", c.config.BackendURL, c.account.MeteringPointID, url.QueryEscape(c.account.SubscriptionID))
	var payload alertsResponse
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	settings := &AlertSettings{}
	if daily := payload.Seuils.Journalier; daily != nil {
		settings.DailyEnabled = true
		settings.DailyThreshold = daily.Valeur
		settings.DailyNotifyEmail = daily.MoyenContact.SouscritParEmail
		settings.DailyNotifySMS = daily.MoyenContact.SouscritParMobile
	}
	if monthly := payload.Seuils.Mensuel; monthly != nil {
		settings.MonthlyEnabled = true
		settings.MonthlyThreshold = monthly.Valeur
		settings.MonthlyNotifyEmail = monthly.MoyenContact.SouscritParEmail
		settings.MonthlyNotifySMS = monthly.MoyenContact.SouscritParMobile
	}
	return settings, nil
}

// SetAlerts updates the consumption alert thresholds of the session's
// metering point. Only enabled periods are included in the payload.
// Success is a 204.
func (c *Client) SetAlerts(ctx context.Context, settings AlertSettings) error {
	const op = "veolia.Client.SetAlerts"
	if err := c.ensureValidToken(ctx); err != nil {
		return err
	}

	payload := setAlertsRequest{
		ContactID:      c.account.ContactID,
		NumeroCompteur: c.account.MeterNumber,
		TiersID:        c.account.CustomerID,
		AboID:          c.account.SubscriptionID,
		TypeFront:      typeFront,
	}
	if settings.DailyEnabled {
		payload.AlerteJournaliere = &alertSubscription{
			Seuil:     settings.DailyThreshold,
			Unite:     "L",
			Souscrite: true,
			ContactChannel: alertChannel{
				SubscribedByEmail:  settings.DailyNotifyEmail,
				SubscribedByMobile: settings.DailyNotifySMS,
			},
		}
	}
	if settings.MonthlyEnabled {
		payload.AlerteMensuelle = &alertSubscription{
			Seuil:     settings.MonthlyThreshold,
			Unite:     "M3",
			Souscrite: true,
			ContactChannel: alertChannel{
				SubscribedByEmail:  settings.MonthlyNotifyEmail,
				SubscribedByMobile: settings.MonthlyNotifySMS,
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	u := fmt.Sprintf("%s/alertes/%s", c.config.BackendURL, c.account.MeteringPointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.account.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: POST %s: %w", op, u, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("set alerts response", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%s: call to %s failed with status %d: %w", op, u, resp.StatusCode, ErrUnexpectedStatus)
	}
	return nil
}
