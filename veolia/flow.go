package veolia

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Endpoints of the login sequence. Every step runs on the identity
// provider host except the callback, which returns to the application
// host. The token endpoint is not part of the step table, the exchange
// happens after the flow completes.
const (
	authorizeEndpoint       = "/authorize"
	loginIdentifierEndpoint = "/u/login/identifier"
	loginPasswordEndpoint   = "/u/login/password"
	callbackEndpoint        = "/callback"
	tokenEndpoint           = "/oauth/token"
)

const (
	// oauthScopes are the scopes the authorize step requests.
	oauthScopes = "openid profile email offline_access"

	// typeFront tags requests as coming from the web frontend.
	typeFront = "WEB_ORDINATEUR"

	// auth0ClientMeta is the fixed client-metadata tag the authorize step
	// sends, base64 URL encoded on the wire.
	auth0ClientMeta = `{"name": "auth0-react", "version": "1.11.0"}`
)

// flowStep describes one step of the login sequence: the HTTP method to
// call its endpoint with and the status code that signals success. The
// steps themselves are static, the engine resolves which one runs next
// from each redirect.
type flowStep struct {
	method        string
	successStatus int
}

// connectionFlow is the step table, keyed by endpoint path. Every step but
// the callback is expected to answer with a redirect.
var connectionFlow = map[string]flowStep{
	authorizeEndpoint:       {method: http.MethodGet, successStatus: http.StatusFound},
	loginIdentifierEndpoint: {method: http.MethodPost, successStatus: http.StatusFound},
	loginPasswordEndpoint:   {method: http.MethodPost, successStatus: http.StatusFound},
	callbackEndpoint:        {method: http.MethodGet, successStatus: http.StatusOK},
}

// executeFlow drives the login sequence from the authorize endpoint until
// the callback answers 200. Each hop's redirect names the next step and
// may refresh the correlation state the following request must echo back.
// Any step failing aborts the whole flow, nothing is retried.
func (c *Client) executeFlow(ctx context.Context) error {
	const op = "veolia.executeFlow"
	next := authorizeEndpoint
	var state string

	for next != "" {
		step, ok := connectionFlow[next]
		if !ok {
			return fmt.Errorf("%s: redirected to %q: %w", op, next, ErrUnknownFlowStep)
		}

		params, err := c.stepParams(next, state)
		if err != nil {
			return err
		}
		requestURL := c.stepURL(next)
		if state != "" {
			requestURL += "?state=" + url.QueryEscape(state)
		}

		resp, err := c.sendRequest(ctx, step.method, requestURL, params)
		if err != nil {
			return err
		}
		next, state, err = c.handleFlowResponse(resp, next, state, requestURL)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// stepURL resolves a step's base URL: the callback lives on the
// application host, everything else on the identity provider.
func (c *Client) stepURL(endpoint string) string {
	if endpoint == callbackEndpoint {
		return c.config.AppURL + endpoint
	}
	return c.config.LoginURL + endpoint
}

// stepParams builds the parameters for a step. The authorize step
// deliberately ignores any correlation state it is handed and mints fresh
// state/nonce/verifier secrets; every later step threads the state from
// the most recent redirect.
func (c *Client) stepParams(endpoint, state string) (url.Values, error) {
	switch endpoint {
	case authorizeEndpoint:
		return c.authorizeParams()
	case loginIdentifierEndpoint:
		return url.Values{
			"state":    []string{state},
			"username": []string{c.config.Username},
		}, nil
	case loginPasswordEndpoint:
		return url.Values{
			"state":    []string{state},
			"username": []string{c.config.Username},
			"password": []string{c.config.Password},
		}, nil
	case callbackEndpoint:
		return url.Values{
			"state": []string{state},
			"code":  []string{c.account.authorizationCode},
		}, nil
	default:
		return url.Values{}, nil
	}
}

// authorizeParams mints the secrets for a fresh flow and builds the
// authorize request. The verifier is stored on the session for the token
// exchange, only its challenge goes over the wire.
func (c *Client) authorizeParams() (url.Values, error) {
	const op = "veolia.authorizeParams"
	state, err := newSecret()
	if err != nil {
		return nil, fmt.Errorf("%s: state: %w", op, err)
	}
	nonce, err := newSecret()
	if err != nil {
		return nil, fmt.Errorf("%s: nonce: %w", op, err)
	}
	verifier, err := newSecret()
	if err != nil {
		return nil, fmt.Errorf("%s: verifier: %w", op, err)
	}
	c.account.verifier = verifier

	return url.Values{
		"audience":              []string{c.config.BackendURL},
		"redirect_uri":          []string{c.config.AppURL + callbackEndpoint},
		"client_id":             []string{c.config.ClientID},
		"scope":                 []string{oauthScopes},
		"response_type":         []string{"code"},
		"state":                 []string{state},
		"nonce":                 []string{nonce},
		"response_mode":         []string{"query"},
		"code_challenge":        []string{codeChallenge(verifier)},
		"code_challenge_method": []string{codeChallengeMethod},
		"auth0Client":           []string{encodeSecret([]byte(auth0ClientMeta))},
	}, nil
}

// sendRequest issues one flow request. GET parameters travel in the query
// string, POST parameters as a form body. The client never follows
// redirects, 3xx responses come back raw with Location intact.
func (c *Client) sendRequest(ctx context.Context, method, rawURL string, params url.Values) (*http.Response, error) {
	const op = "veolia.sendRequest"
	var req *http.Request
	var err error

	switch method {
	case http.MethodGet:
		u := rawURL
		if enc := params.Encode(); enc != "" {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + enc
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Cache-Control", "no-cache")
		}
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedMethod)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.logger.Debug("flow request", "method", method, "url", rawURL, "params", redactParams(params))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %s %s: %w", op, method, rawURL, err)
	}
	c.logger.Debug("flow response", "url", rawURL, "status", resp.StatusCode)
	return resp, nil
}

// redactParams copies params with the password masked for logging.
func redactParams(params url.Values) url.Values {
	if _, ok := params["password"]; !ok {
		return params
	}
	safe := url.Values{}
	for k, v := range params {
		safe[k] = v
	}
	safe.Set("password", "******")
	return safe
}

// handleFlowResponse interprets one step response and resolves the next
// state. A 302 advances the flow to the Location path, refreshing the
// correlation state when the redirect carries one; the redirect into the
// callback must also carry the authorization code. A 200 on the callback
// completes the flow. The model assumes every other step redirects, so any
// other success is a failure.
func (c *Client) handleFlowResponse(resp *http.Response, current, state, requestURL string) (string, string, error) {
	const op = "veolia.handleFlowResponse"
	step := connectionFlow[current]

	if resp.StatusCode == http.StatusBadRequest && current == loginPasswordEndpoint {
		return "", "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if resp.StatusCode != step.successStatus {
		return "", "", fmt.Errorf("%s: call to %s failed with status %d: %w", op, requestURL, resp.StatusCode, ErrUnexpectedStatus)
	}

	switch {
	case resp.StatusCode == http.StatusFound:
		loc, err := url.Parse(resp.Header.Get("Location"))
		if err != nil {
			return "", "", fmt.Errorf("%s: invalid Location header from %s: %w", op, requestURL, err)
		}
		next := loc.Path
		query := loc.Query()
		if s := query.Get("state"); s != "" {
			state = s
		}
		if next == callbackEndpoint {
			code := query.Get("code")
			if code == "" {
				return "", "", fmt.Errorf("%s: %w", op, ErrMissingAuthorizationCode)
			}
			c.account.authorizationCode = code
			c.logger.Debug("authorization code received")
		}
		return next, state, nil
	case resp.StatusCode == http.StatusOK && current == callbackEndpoint:
		// flow complete
		return "", state, nil
	default:
		return "", "", fmt.Errorf("%s: unexpected %d response from %s: %w", op, resp.StatusCode, requestURL, ErrUnexpectedStatus)
	}
}
