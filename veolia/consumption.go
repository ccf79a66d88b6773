package veolia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// ConsumptionType selects the granularity of a consumption query.
type ConsumptionType int

const (
	// ConsumptionMonthly fetches one month of daily readings. It requires
	// a month.
	ConsumptionMonthly ConsumptionType = iota

	// ConsumptionYearly fetches one year of monthly readings.
	ConsumptionYearly
)

// Consumption fetches water consumption readings for the session's
// subscription. The payload shape is upstream's and returned opaque.
// A valid token is ensured first, re-running the login if needed.
func (c *Client) Consumption(ctx context.Context, typ ConsumptionType, year, month int) (json.RawMessage, error) {
	const op = "veolia.Client.Consumption"
	if err := c.ensureValidToken(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"annee":                 []string{strconv.Itoa(year)},
		"numero-pds":            []string{c.account.MeteringPointID},
		"date-debut-abonnement": []string{c.account.SubscriptionStartDate},
	}
	var endpoint string
	switch {
	case typ == ConsumptionMonthly && month >= 1 && month <= 12:
		params.Set("mois", strconv.Itoa(month))
		endpoint = "journalieres"
	case typ == ConsumptionYearly:
		endpoint = "mensuelles"
	default:
		return nil, fmt.Errorf("%s: consumption type %d with month %d: %w", op, typ, month, ErrInvalidParameter)
	}

	u := fmt.Sprintf("%s/consommations/%s/%s?%s", c.config.BackendURL, c.account.SubscriptionID, endpoint, params.Encode())
	var payload json.RawMessage
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payload, nil
}

// FetchAllData refreshes the session record in one go: the year's monthly
// consumption, the given month's daily consumption and the alert settings.
// Each fetch overwrites the previous payload, no history is kept.
func (c *Client) FetchAllData(ctx context.Context, year, month int) error {
	monthly, err := c.Consumption(ctx, ConsumptionYearly, year, 0)
	if err != nil {
		return err
	}
	c.account.MonthlyConsumption = monthly

	daily, err := c.Consumption(ctx, ConsumptionMonthly, year, month)
	if err != nil {
		return err
	}
	c.account.DailyConsumption = daily

	alerts, err := c.Alerts(ctx)
	if err != nil {
		return err
	}
	c.account.Alerts = alerts
	return nil
}
