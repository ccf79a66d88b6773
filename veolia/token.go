package veolia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
)

// tokenRequest is the JSON body of the code-for-token exchange. Unlike the
// flow steps, the token endpoint does not take form encoding.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	GrantType    string `json:"grant_type"`
	CodeVerifier string `json:"code_verifier"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// espaceClientResponse carries only the fields the client consumes from
// the account endpoint. The identifiers come back as JSON numbers.
type espaceClientResponse struct {
	Contacts []struct {
		IDContact json.Number `json:"id_contact"`
		Tiers     []struct {
			ID          json.Number `json:"id"`
			Abonnements []struct {
				IDAbonnement   json.Number `json:"id_abonnement"`
				NumeroCompteur string      `json:"numero_compteur"`
			} `json:"abonnements"`
		} `json:"tiers"`
	} `json:"contacts"`
}

type facturationResponse struct {
	NumeroPDS           string `json:"numero_pds"`
	DateDebutAbonnement string `json:"date_debut_abonnement"`
}

// Login runs the full authentication sequence: the redirect flow, the
// code-for-token exchange and account identifier resolution. Failures
// inside the sequence surface as their own errors; a sequence that
// completes but leaves a required identifier unresolved fails with
// ErrLoginFailed carrying the list of gaps.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

// login must be called with c.mu held.
func (c *Client) login(ctx context.Context) error {
	const op = "veolia.Client.Login"
	c.logger.Info("starting login")

	if err := c.executeFlow(ctx); err != nil {
		return err
	}
	if err := c.exchangeCodeForToken(ctx); err != nil {
		return err
	}
	if err := c.resolveAccountIdentifiers(ctx); err != nil {
		return err
	}
	if err := c.verifyLogin(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrLoginFailed, err)
	}
	c.logger.Info("login successful")
	return nil
}

// verifyLogin checks the invariant a successful login establishes: the
// access token and all six account identifiers are populated.
func (c *Client) verifyLogin() error {
	var missing *multierror.Error
	for _, f := range []struct {
		name  string
		value string
	}{
		{"access token", c.account.AccessToken},
		{"subscription id", c.account.SubscriptionID},
		{"metering point id", c.account.MeteringPointID},
		{"contact id", c.account.ContactID},
		{"customer id", c.account.CustomerID},
		{"meter number", c.account.MeterNumber},
		{"subscription start date", c.account.SubscriptionStartDate},
	} {
		if f.value == "" {
			missing = multierror.Append(missing, fmt.Errorf("%s is empty", f.name))
		}
	}
	return missing.ErrorOrNil()
}

// ensureValidToken re-runs the full login when no access token is present
// or the stored expiration has passed. Data calls lean on this instead of
// surfacing expired-token errors to their callers. Login attempts are
// serialized, concurrent data calls cannot each trigger a redundant flow.
func (c *Client) ensureValidToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account.tokenValid(c.now()) {
		return nil
	}
	c.logger.Info("access token missing or expired, logging in")
	return c.login(ctx)
}

// exchangeCodeForToken trades the authorization code for an access token
// and records its expiration. A response without expires_in leaves the
// token already expired, the next data call will log in again.
func (c *Client) exchangeCodeForToken(ctx context.Context) error {
	const op = "veolia.exchangeCodeForToken"

	body, err := json.Marshal(tokenRequest{
		ClientID:     c.config.ClientID,
		GrantType:    "authorization_code",
		CodeVerifier: c.account.verifier,
		Code:         c.account.authorizationCode,
		RedirectURI:  c.config.AppURL + callbackEndpoint,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.LoginURL+tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("requesting access token")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: token endpoint answered status %d: %w", op, resp.StatusCode, ErrUnexpectedStatus)
	}
	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("%s: decoding token response: %w", op, err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}

	c.account.AccessToken = token.AccessToken
	c.account.TokenExpiration = c.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	c.account.authorizationCode = "" // consumed, a new flow mints a new one
	c.logger.Info("access token received")
	return nil
}

// resolveAccountIdentifiers fills the session identifiers from the account
// and billing endpoints. The billing call needs the subscription id the
// account call resolves, so the two stay sequential.
func (c *Client) resolveAccountIdentifiers(ctx context.Context) error {
	const op = "veolia.resolveAccountIdentifiers"

	var account espaceClientResponse
	if err := c.getJSON(ctx, c.config.BackendURL+"/espace-client?type-front="+typeFront, &account); err != nil {
		return fmt.Errorf("%s: espace-client call: %w", op, err)
	}
	if len(account.Contacts) == 0 || len(account.Contacts[0].Tiers) == 0 || len(account.Contacts[0].Tiers[0].Abonnements) == 0 {
		return fmt.Errorf("%s: no subscription in espace-client response: %w", op, ErrMissingField)
	}
	contact := account.Contacts[0]
	tiers := contact.Tiers[0]
	abonnement := tiers.Abonnements[0]

	c.account.SubscriptionID = abonnement.IDAbonnement.String()
	c.account.CustomerID = tiers.ID.String()
	c.account.ContactID = contact.IDContact.String()
	c.account.MeterNumber = abonnement.NumeroCompteur

	var missing *multierror.Error
	for _, f := range []struct {
		name  string
		value string
	}{
		{"id_abonnement", c.account.SubscriptionID},
		{"tiers id", c.account.CustomerID},
		{"id_contact", c.account.ContactID},
		{"numero_compteur", c.account.MeterNumber},
	} {
		if f.value == "" {
			missing = multierror.Append(missing, fmt.Errorf("%s: %w", f.name, ErrMissingField))
		}
	}
	if err := missing.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var billing facturationResponse
	billingURL := fmt.Sprintf("%s/abonnements/%s/facturation", c.config.BackendURL, c.account.SubscriptionID)
	if err := c.getJSON(ctx, billingURL, &billing); err != nil {
		return fmt.Errorf("%s: facturation call: %w", op, err)
	}
	if billing.NumeroPDS == "" {
		return fmt.Errorf("%s: numero_pds: %w", op, ErrMissingField)
	}
	if billing.DateDebutAbonnement == "" {
		return fmt.Errorf("%s: date_debut_abonnement: %w", op, ErrMissingField)
	}
	c.account.MeteringPointID = billing.NumeroPDS
	c.account.SubscriptionStartDate = billing.DateDebutAbonnement
	return nil
}
