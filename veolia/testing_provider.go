package veolia

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProvider is a local TLS server standing in for the identity
// provider, the application host and the data backend at once, which makes
// writing client tests much easier. Point a client's three host URLs at
// Addr() and trust CACert().
//
// The provider replays a fixed happy-path flow by default: the authorize
// redirect mints the first correlation state, the identifier redirect
// replaces it with a second one, the password redirect carries the
// authorization code, and the token endpoint verifies the PKCE verifier
// against the challenge it saw on the authorize request.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu sync.Mutex

	username string
	password string

	authCode      string
	accessToken   string
	expiresIn     int64
	omitExpiresIn bool
	omitToken     bool
	omitAuthCode  bool

	// identifierState is minted by the authorize redirect, passwordState
	// by the identifier redirect.
	identifierState string
	passwordState   string

	// stepStatus overrides a flow endpoint's response with a bare status.
	stepStatus map[string]int

	espaceClient json.RawMessage
	facturation  json.RawMessage

	dailyAlert   *alertThreshold
	monthlyAlert *alertThreshold

	monthlyConsumption json.RawMessage
	dailyConsumption   json.RawMessage

	// observations for assertions
	requests         []string
	stateSeen        map[string]string
	authorizeQuery   url.Values
	consumptionQuery map[string]url.Values
	lastTokenBody    []byte
	lastAlertsBody   []byte

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider with happy-path
// defaults. It is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:               t,
		username:        "claude.fontaine@example.com",
		password:        "eau-secret",
		authCode:        "test-auth-code",
		accessToken:     "test-access-token",
		expiresIn:       3600,
		identifierState: "test-state-1",
		passwordState:   "test-state-2",
		stepStatus:      map[string]int{},
		espaceClient: json.RawMessage(`{
			"contacts": [{
				"id_contact": 777,
				"tiers": [{
					"id": 888,
					"abonnements": [{
						"id_abonnement": 123456,
						"numero_compteur": "A21XC0340"
					}]
				}]
			}]
		}`),
		facturation: json.RawMessage(`{
			"numero_pds": "PDS-0042",
			"date_debut_abonnement": "2020-01-15"
		}`),
		dailyAlert:         &alertThreshold{Valeur: 100, Unite: "L"},
		monthlyAlert:       &alertThreshold{Valeur: 5, Unite: "M3"},
		monthlyConsumption: json.RawMessage(`[{"mois": 1, "consommation": 4}, {"mois": 2, "consommation": 5}]`),
		dailyConsumption:   json.RawMessage(`[{"jour": "2025-01-01", "consommation": 120}]`),
		stateSeen:          map[string]string{},
		consumptionQuery:   map[string]url.Values{},
	}
	p.dailyAlert.MoyenContact.SouscritParEmail = true
	p.monthlyAlert.MoyenContact.SouscritParEmail = true

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the test provider's running webserver. Use
// it for all three client hosts.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test
// provider's HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// Username and Password return the credentials the provider accepts.
func (p *TestProvider) Username() string { return p.username }
func (p *TestProvider) Password() string { return p.password }

// SetCredentials configures the accepted login credentials.
func (p *TestProvider) SetCredentials(username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = username
	p.password = password
}

// SetExpectedAuthCode configures the code carried by the redirect into the
// callback and accepted by the token endpoint.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authCode = code
}

// SetAccessToken configures the token the token endpoint issues and the
// data endpoints require.
func (p *TestProvider) SetAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = token
}

// SetExpiresIn configures the expires_in seconds of the token response.
func (p *TestProvider) SetExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// OmitExpiresIn forces a token response without expires_in.
func (p *TestProvider) OmitExpiresIn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitExpiresIn = true
}

// OmitAccessToken forces an error state where the token response carries
// no access_token.
func (p *TestProvider) OmitAccessToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitToken = true
}

// OmitAuthCode forces an error state where the redirect into the callback
// carries no code parameter.
func (p *TestProvider) OmitAuthCode() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAuthCode = true
}

// SetStepStatus overrides a flow endpoint's response with a bare status
// code, for provoking step failures.
func (p *TestProvider) SetStepStatus(endpoint string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepStatus[endpoint] = status
}

// SetEspaceClient overrides the account endpoint response body.
func (p *TestProvider) SetEspaceClient(body json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.espaceClient = body
}

// SetFacturation overrides the billing endpoint response body.
func (p *TestProvider) SetFacturation(body json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.facturation = body
}

// SetDailyAlert configures the journalier block of the alerts response.
// nil omits the block.
func (p *TestProvider) SetDailyAlert(threshold int, email, sms bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := &alertThreshold{Valeur: threshold, Unite: "L"}
	a.MoyenContact.SouscritParEmail = email
	a.MoyenContact.SouscritParMobile = sms
	p.dailyAlert = a
}

// SetMonthlyAlert configures the mensuel block of the alerts response.
func (p *TestProvider) SetMonthlyAlert(threshold int, email, sms bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := &alertThreshold{Valeur: threshold, Unite: "M3"}
	a.MoyenContact.SouscritParEmail = email
	a.MoyenContact.SouscritParMobile = sms
	p.monthlyAlert = a
}

// ClearDailyAlert omits the journalier block from the alerts response.
func (p *TestProvider) ClearDailyAlert() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dailyAlert = nil
}

// ClearMonthlyAlert omits the mensuel block from the alerts response.
func (p *TestProvider) ClearMonthlyAlert() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monthlyAlert = nil
}

// Requests returns the "METHOD /path" log of everything the provider has
// served, in order.
func (p *TestProvider) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.requests))
	copy(out, p.requests)
	return out
}

// RequestCount returns how many requests hit the given path.
func (p *TestProvider) RequestCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.requests {
		if strings.HasSuffix(r, " "+path) {
			n++
		}
	}
	return n
}

// StateSeen returns the state query parameter the given flow endpoint was
// last called with.
func (p *TestProvider) StateSeen(endpoint string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateSeen[endpoint]
}

// AuthorizeQuery returns the query parameters of the last authorize
// request.
func (p *TestProvider) AuthorizeQuery() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorizeQuery
}

// ConsumptionQuery returns the query parameters of the last consumption
// request for the given granularity endpoint ("journalieres" or
// "mensuelles").
func (p *TestProvider) ConsumptionQuery(endpoint string) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumptionQuery[endpoint]
}

// LastTokenRequest returns the raw JSON body of the last token exchange.
func (p *TestProvider) LastTokenRequest() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenBody
}

// LastAlertsRequest returns the raw JSON body of the last alerts POST.
func (p *TestProvider) LastAlertsRequest() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAlertsBody
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.t.Helper()

	p.requests = append(p.requests, req.Method+" "+req.URL.Path)
	if s := req.URL.Query().Get("state"); s != "" {
		p.stateSeen[req.URL.Path] = s
	}
	if status, ok := p.stepStatus[req.URL.Path]; ok {
		w.WriteHeader(status)
		return
	}

	switch {
	case req.URL.Path == authorizeEndpoint:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.authorizeQuery = req.URL.Query()
		p.redirect(w, req, loginIdentifierEndpoint+"?state="+url.QueryEscape(p.identifierState))

	case req.URL.Path == loginIdentifierEndpoint:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.redirect(w, req, loginPasswordEndpoint+"?state="+url.QueryEscape(p.passwordState))

	case req.URL.Path == loginPasswordEndpoint:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.PostForm.Get("username") != p.username || req.PostForm.Get("password") != p.password {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		loc := callbackEndpoint + "?state=" + url.QueryEscape(p.passwordState)
		if !p.omitAuthCode {
			loc += "&code=" + url.QueryEscape(p.authCode)
		}
		p.redirect(w, req, loc)

	case req.URL.Path == callbackEndpoint:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)

	case req.URL.Path == tokenEndpoint:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveToken(w, req)

	case req.URL.Path == "/espace-client":
		if !p.authorized(w, req) {
			return
		}
		_, _ = w.Write(p.espaceClient)

	case strings.HasPrefix(req.URL.Path, "/abonnements/") && strings.HasSuffix(req.URL.Path, "/facturation"):
		if !p.authorized(w, req) {
			return
		}
		_, _ = w.Write(p.facturation)

	case strings.HasPrefix(req.URL.Path, "/consommations/"):
		if !p.authorized(w, req) {
			return
		}
		granularity := req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:]
		p.consumptionQuery[granularity] = req.URL.Query()
		switch granularity {
		case "mensuelles":
			_, _ = w.Write(p.monthlyConsumption)
		case "journalieres":
			_, _ = w.Write(p.dailyConsumption)
		default:
			w.WriteHeader(http.StatusNotFound)
		}

	case strings.HasPrefix(req.URL.Path, "/alertes/"):
		if !p.authorized(w, req) {
			return
		}
		switch req.Method {
		case http.MethodGet:
			var body alertsResponse
			body.Seuils.Journalier = p.dailyAlert
			body.Seuils.Mensuel = p.monthlyAlert
			_ = p.writeJSON(w, &body)
		case http.MethodPost:
			defer req.Body.Close()
			raw, err := io.ReadAll(req.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			p.lastAlertsBody = raw
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// redirect answers 302 with a relative Location, the way the upstream
// identity provider chains the flow's hops.
func (p *TestProvider) redirect(w http.ResponseWriter, req *http.Request, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

// serveToken validates the exchange request, including the PKCE verifier
// against the challenge recorded from the authorize request, and issues
// the configured token.
func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.lastTokenBody = raw

	var body tokenRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch {
	case body.GrantType != "authorization_code":
		w.WriteHeader(http.StatusBadRequest)
		return
	case body.Code != p.authCode:
		w.WriteHeader(http.StatusUnauthorized)
		return
	case p.authorizeQuery != nil && codeChallenge(body.CodeVerifier) != p.authorizeQuery.Get("code_challenge"):
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	reply := map[string]interface{}{}
	if !p.omitToken {
		reply["access_token"] = p.accessToken
	}
	if !p.omitExpiresIn {
		reply["expires_in"] = p.expiresIn
	}
	_ = p.writeJSON(w, reply)
}

// authorized enforces the bearer token on data endpoints.
func (p *TestProvider) authorized(w http.ResponseWriter, req *http.Request) bool {
	if req.Header.Get("Authorization") != fmt.Sprintf("Bearer %s", p.accessToken) {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	return true
}
