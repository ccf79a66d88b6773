package veolia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	sdkhttp "github.com/istefr/veolia-go/sdk/http"
)

// Production hosts of the Veolia customer space.
const (
	// DefaultLoginURL is the identity provider host serving every flow
	// step except the callback.
	DefaultLoginURL = "https://connexion.eau.veolia.fr"

	// DefaultAppURL is the application host the flow redirects back to.
	DefaultAppURL = "https://espace-client.vedif.eau.veolia.fr"

	// DefaultBackendURL is the data API host. It is also the audience the
	// authorize step requests a token for.
	DefaultBackendURL = "https://prd-ael-sirius-backend.istefr.fr"

	// DefaultClientID is the public identifier the customer-space web
	// frontend authenticates with.
	DefaultClientID = "3kghade1fg54739kj8pkbova8j"
)

// Config holds the settings for a Client.
type Config struct {
	// Username and Password are the customer-space credentials.
	Username string
	Password string

	// LoginURL, AppURL and BackendURL are the three hosts of the customer
	// space. They default to the production hosts and are only overridden
	// in tests.
	LoginURL   string
	AppURL     string
	BackendURL string

	// ClientID identifies this client to the identity provider.
	ClientID string
}

// Client is a session-holding client for one residential account. It is
// safe for concurrent data calls: login attempts are serialized so
// concurrent callers cannot each trigger a redundant flow run.
type Client struct {
	config  *Config
	client  *http.Client
	account *AccountData
	logger  hclog.Logger

	// mu guards the account record during login and the token check that
	// precedes every data call.
	mu sync.Mutex

	// now is swappable for tests of the token expiry check.
	now func() time.Time
}

// NewClient creates a Client for the given credentials.
//
// Supported options: WithLogger, WithProviderCA, WithLoginURL, WithAppURL,
// WithBackendURL, WithClientID, WithNow.
func NewClient(username, password string, opt ...Option) (*Client, error) {
	const op = "veolia.NewClient"
	if username == "" {
		return nil, fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter)
	}
	if password == "" {
		return nil, fmt.Errorf("%s: password is empty: %w", op, ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)

	// Redirects must surface as raw 3xx responses: the flow engine reads
	// Location headers itself.
	httpClient, err := sdkhttp.NewNoRedirectClient(opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	return &Client{
		config: &Config{
			Username:   username,
			Password:   password,
			LoginURL:   opts.withLoginURL,
			AppURL:     opts.withAppURL,
			BackendURL: opts.withBackendURL,
			ClientID:   opts.withClientID,
		},
		client:  httpClient,
		account: &AccountData{},
		logger:  opts.withLogger,
		now:     opts.withNowFunc,
	}, nil
}

// Account returns the session record the client has accumulated so far.
// The record is owned by the client, callers should treat it as read-only.
func (c *Client) Account() *AccountData {
	return c.account
}

// Done releases the client's transport resources. The session record is
// discarded with the client itself.
func (c *Client) Done() {
	if c == nil {
		return
	}
	c.client.CloseIdleConnections()
}

// getJSON issues one bearer-authenticated GET and decodes the JSON
// response into out. The caller is responsible for holding a valid token.
func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	const op = "veolia.getJSON"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.account.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: GET %s: %w", op, rawURL, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api response", "url", rawURL, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: call to %s failed with status %d: %w", op, rawURL, resp.StatusCode, ErrUnexpectedStatus)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding %s response: %w", op, rawURL, err)
	}
	return nil
}

// clientOptions is the set of available options for NewClient
type clientOptions struct {
	withLogger     hclog.Logger
	withProviderCA string
	withLoginURL   string
	withAppURL     string
	withBackendURL string
	withClientID   string
	withNowFunc    func() time.Time
}

// clientDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:     hclog.NewNullLogger(),
		withLoginURL:   DefaultLoginURL,
		withAppURL:     DefaultAppURL,
		withBackendURL: DefaultBackendURL,
		withClientID:   DefaultClientID,
		withNowFunc:    time.Now,
	}
}

// getClientOpts gets the client defaults and applies the opt overrides
// passed in.
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the client. The default
// discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withLogger = l
		}
	}
}

// WithProviderCA provides an optional CA cert PEM to trust when sending
// requests, instead of the system CA chain.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithLoginURL overrides the identity provider host.
func WithLoginURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withLoginURL = u
		}
	}
}

// WithAppURL overrides the application host.
func WithAppURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withAppURL = u
		}
	}
}

// WithBackendURL overrides the data API host.
func WithBackendURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withBackendURL = u
		}
	}
}

// WithClientID overrides the identity provider client id.
func WithClientID(id string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withClientID = id
		}
	}
}

// WithNow overrides the time source used for the token expiry check.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			if now != nil {
				o.withNowFunc = now
			}
		}
	}
}
