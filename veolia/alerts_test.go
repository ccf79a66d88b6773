package veolia

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Alerts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("both-periods", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetDailyAlert(150, true, true)
		tp.SetMonthlyAlert(7, true, false)
		c := newTestClient(t, tp)

		settings, err := c.Alerts(ctx)
		require.NoError(err)
		assert.Equal(&AlertSettings{
			DailyEnabled:       true,
			DailyThreshold:     150,
			DailyNotifyEmail:   true,
			DailyNotifySMS:     true,
			MonthlyEnabled:     true,
			MonthlyThreshold:   7,
			MonthlyNotifyEmail: true,
			MonthlyNotifySMS:   false,
		}, settings)
	})

	t.Run("daily-absent-means-disabled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.ClearDailyAlert()
		c := newTestClient(t, tp)

		settings, err := c.Alerts(ctx)
		require.NoError(err)
		assert.False(settings.DailyEnabled)
		assert.Zero(settings.DailyThreshold)
		assert.False(settings.DailyNotifyEmail)
		assert.False(settings.DailyNotifySMS)
		assert.True(settings.MonthlyEnabled)
	})

	t.Run("none-subscribed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.ClearDailyAlert()
		tp.ClearMonthlyAlert()
		c := newTestClient(t, tp)

		settings, err := c.Alerts(ctx)
		require.NoError(err)
		assert.Equal(&AlertSettings{}, settings)
	})
}

func TestClient_SetAlerts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("disabled-period-omitted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := newTestClient(t, tp)

		err := c.SetAlerts(ctx, AlertSettings{
			MonthlyEnabled:     true,
			MonthlyThreshold:   5,
			MonthlyNotifyEmail: true,
			MonthlyNotifySMS:   true,
		})
		require.NoError(err)

		var payload map[string]json.RawMessage
		require.NoError(json.Unmarshal(tp.LastAlertsRequest(), &payload))
		assert.NotContains(payload, "alerte_journaliere")
		require.Contains(payload, "alerte_mensuelle")

		var monthly alertSubscription
		require.NoError(json.Unmarshal(payload["alerte_mensuelle"], &monthly))
		assert.Equal(5, monthly.Seuil)
		assert.Equal("M3", monthly.Unite)
		assert.True(monthly.Souscrite)
		assert.True(monthly.ContactChannel.SubscribedByEmail)
		assert.True(monthly.ContactChannel.SubscribedByMobile)
	})

	t.Run("enabled-period-fully-populated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := newTestClient(t, tp)

		err := c.SetAlerts(ctx, AlertSettings{
			DailyEnabled:     true,
			DailyThreshold:   150,
			DailyNotifyEmail: true,
			DailyNotifySMS:   false,
		})
		require.NoError(err)

		var payload struct {
			Daily     *alertSubscription `json:"alerte_journaliere"`
			Monthly   *alertSubscription `json:"alerte_mensuelle"`
			ContactID string             `json:"contact_id"`
			Meter     string             `json:"numero_compteur"`
			TiersID   string             `json:"tiers_id"`
			AboID     string             `json:"abo_id"`
			TypeFront string             `json:"type_front"`
		}
		require.NoError(json.Unmarshal(tp.LastAlertsRequest(), &payload))
		require.NotNil(payload.Daily)
		assert.Nil(payload.Monthly)
		assert.Equal(150, payload.Daily.Seuil)
		assert.Equal("L", payload.Daily.Unite)
		assert.True(payload.Daily.Souscrite)
		assert.True(payload.Daily.ContactChannel.SubscribedByEmail)
		assert.False(payload.Daily.ContactChannel.SubscribedByMobile)

		// session identifiers ride along with every update
		assert.Equal("777", payload.ContactID)
		assert.Equal("A21XC0340", payload.Meter)
		assert.Equal("888", payload.TiersID)
		assert.Equal("123456", payload.AboID)
		assert.Equal(typeFront, payload.TypeFront)
	})
}
