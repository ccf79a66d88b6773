package veolia

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ensureValidToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("noop-while-valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := newTestClient(t, tp)

		require.NoError(c.Login(ctx))
		before := len(tp.Requests())

		require.NoError(c.ensureValidToken(ctx))
		assert.Equal(before, len(tp.Requests()))
	})

	t.Run("relogin-when-expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := newTestClient(t, tp)

		require.NoError(c.Login(ctx))
		require.Equal(1, tp.RequestCount(authorizeEndpoint))

		c.account.TokenExpiration = time.Now().Add(-time.Minute)
		_, err := c.Consumption(ctx, ConsumptionYearly, 2025, 0)
		require.NoError(err)
		assert.Equal(2, tp.RequestCount(authorizeEndpoint))
	})

	t.Run("relogin-when-no-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := newTestClient(t, tp)

		// no explicit Login, the data call heals itself
		payload, err := c.Consumption(ctx, ConsumptionYearly, 2025, 0)
		require.NoError(err)
		assert.NotEmpty(payload)
		assert.Equal(1, tp.RequestCount(authorizeEndpoint))
	})

	t.Run("expiry-boundary", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		start := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
		current := start
		c := newTestClient(t, tp, WithNow(func() time.Time { return current }))

		require.NoError(c.Login(ctx))
		assert.Equal(start.Add(3600*time.Second), c.account.TokenExpiration)

		// strictly before expiry: still valid
		current = start.Add(3599 * time.Second)
		require.NoError(c.ensureValidToken(ctx))
		assert.Equal(1, tp.RequestCount(authorizeEndpoint))

		// at expiry: not valid anymore
		current = start.Add(3600 * time.Second)
		require.NoError(c.ensureValidToken(ctx))
		assert.Equal(2, tp.RequestCount(authorizeEndpoint))
	})

	t.Run("absent-expires-in-means-expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.OmitExpiresIn()
		c := newTestClient(t, tp)

		require.NoError(c.Login(ctx))
		assert.NotEmpty(c.account.AccessToken)
		assert.False(c.account.tokenValid(time.Now()))
	})
}

func TestAccountData_tokenValid(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name    string
		account AccountData
		want    bool
	}{
		{name: "empty", account: AccountData{}, want: false},
		{name: "no-token", account: AccountData{TokenExpiration: now.Add(time.Hour)}, want: false},
		{name: "zero-expiration", account: AccountData{AccessToken: "tok"}, want: false},
		{name: "expired", account: AccountData{AccessToken: "tok", TokenExpiration: now.Add(-time.Second)}, want: false},
		{name: "expires-now", account: AccountData{AccessToken: "tok", TokenExpiration: now}, want: false},
		{name: "valid", account: AccountData{AccessToken: "tok", TokenExpiration: now.Add(time.Hour)}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.New(t).Equal(tt.want, tt.account.tokenValid(now))
		})
	}
}
