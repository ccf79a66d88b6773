package veolia

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a client pointed at the test provider for all
// three hosts, authenticating with the provider's accepted credentials.
func newTestClient(t *testing.T, tp *TestProvider, opt ...Option) *Client {
	t.Helper()
	require := require.New(t)
	opts := append([]Option{
		WithProviderCA(tp.CACert()),
		WithLoginURL(tp.Addr()),
		WithAppURL(tp.Addr()),
		WithBackendURL(tp.Addr()),
	}, opt...)
	c, err := NewClient(tp.Username(), tp.Password(), opts...)
	require.NoError(err)
	t.Cleanup(c.Done)
	return c
}

func TestClient_Login(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("end-to-end", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := newTestClient(t, tp)

		require.NoError(c.Login(ctx))

		account := c.Account()
		assert.Equal("test-access-token", account.AccessToken)
		assert.Equal("123456", account.SubscriptionID)
		assert.Equal("PDS-0042", account.MeteringPointID)
		assert.Equal("777", account.ContactID)
		assert.Equal("888", account.CustomerID)
		assert.Equal("A21XC0340", account.MeterNumber)
		assert.Equal("2020-01-15", account.SubscriptionStartDate)
		assert.WithinDuration(time.Now().Add(3600*time.Second), account.TokenExpiration, 5*time.Second)

		// each hop echoes the state minted by the previous redirect
		assert.Equal("test-state-1", tp.StateSeen(loginIdentifierEndpoint))
		assert.Equal("test-state-2", tp.StateSeen(loginPasswordEndpoint))
		assert.Equal("test-state-2", tp.StateSeen(callbackEndpoint))

		var exchange tokenRequest
		require.NoError(json.Unmarshal(tp.LastTokenRequest(), &exchange))
		assert.Equal("test-auth-code", exchange.Code)
		assert.Equal("authorization_code", exchange.GrantType)
		assert.Equal(tp.Addr()+callbackEndpoint, exchange.RedirectURI)
		assert.Equal(codeChallenge(exchange.CodeVerifier), tp.AuthorizeQuery().Get("code_challenge"))
	})

	t.Run("authorize-mints-fresh-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := newTestClient(t, tp)

		require.NoError(c.Login(ctx))
		first := tp.AuthorizeQuery()
		assert.NotEmpty(first.Get("state"))
		assert.NotEmpty(first.Get("nonce"))
		assert.NotEqual(first.Get("state"), first.Get("nonce"))
		assert.Equal("code", first.Get("response_type"))
		assert.Equal("query", first.Get("response_mode"))
		assert.Equal("S256", first.Get("code_challenge_method"))
		assert.Equal(oauthScopes, first.Get("scope"))
		assert.Equal(tp.Addr(), first.Get("audience"))

		// a second run never resumes the first run's secrets
		require.NoError(c.Login(ctx))
		second := tp.AuthorizeQuery()
		assert.NotEqual(first.Get("state"), second.Get("state"))
		assert.NotEqual(first.Get("code_challenge"), second.Get("code_challenge"))
	})

	t.Run("invalid-credentials", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c, err := NewClient(tp.Username(), "not-the-password",
			WithProviderCA(tp.CACert()),
			WithLoginURL(tp.Addr()),
			WithAppURL(tp.Addr()),
			WithBackendURL(tp.Addr()),
		)
		require.NoError(err)
		t.Cleanup(c.Done)

		err = c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidCredentials))

		// terminal: no step runs after the password submission
		requests := tp.Requests()
		require.NotEmpty(requests)
		assert.Equal("POST "+loginPasswordEndpoint, requests[len(requests)-1])
		assert.Zero(tp.RequestCount(callbackEndpoint))
		assert.Zero(tp.RequestCount(tokenEndpoint))
	})

	t.Run("step-failure-carries-url-and-status", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetStepStatus(loginIdentifierEndpoint, http.StatusServiceUnavailable)
		c := newTestClient(t, tp)

		err := c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrUnexpectedStatus))
		assert.Contains(err.Error(), loginIdentifierEndpoint)
		assert.Contains(err.Error(), "503")
	})

	t.Run("unexpected-success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetStepStatus(authorizeEndpoint, http.StatusOK)
		c := newTestClient(t, tp)

		err := c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrUnexpectedStatus))
	})

	t.Run("missing-authorization-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.OmitAuthCode()
		c := newTestClient(t, tp)

		err := c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingAuthorizationCode))
	})

	t.Run("missing-access-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.OmitAccessToken()
		c := newTestClient(t, tp)

		err := c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingAccessToken))
	})

	t.Run("missing-account-identifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetEspaceClient(json.RawMessage(`{
			"contacts": [{
				"id_contact": 777,
				"tiers": [{
					"id": 888,
					"abonnements": [{"id_abonnement": 123456}]
				}]
			}]
		}`))
		c := newTestClient(t, tp)

		err := c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingField))
		assert.Contains(err.Error(), "numero_compteur")
	})

	t.Run("missing-billing-field", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetFacturation(json.RawMessage(`{"numero_pds": "PDS-0042"}`))
		c := newTestClient(t, tp)

		err := c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingField))
		assert.Contains(err.Error(), "date_debut_abonnement")
	})

	t.Run("no-subscription", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetEspaceClient(json.RawMessage(`{"contacts": []}`))
		c := newTestClient(t, tp)

		err := c.Login(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingField))
	})
}

func TestClient_verifyLogin(t *testing.T) {
	t.Parallel()

	complete := AccountData{
		AccessToken:           "tok",
		SubscriptionID:        "1",
		MeteringPointID:       "2",
		ContactID:             "3",
		CustomerID:            "4",
		MeterNumber:           "5",
		SubscriptionStartDate: "2020-01-15",
	}

	t.Run("complete", func(t *testing.T) {
		account := complete
		c := &Client{account: &account}
		assert.New(t).NoError(c.verifyLogin())
	})
	t.Run("gaps-aggregated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		account := complete
		account.MeterNumber = ""
		account.AccessToken = ""
		c := &Client{account: &account}
		err := c.verifyLogin()
		require.Error(err)
		assert.Contains(err.Error(), "meter number is empty")
		assert.Contains(err.Error(), "access token is empty")
	})
}
