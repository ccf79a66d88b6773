package veolia

import (
	"encoding/json"
	"time"
)

// AccountData is the mutable session record for one client: everything the
// login flow, the token exchange and the data calls accumulate. It is
// created empty with the client, populated incrementally, and discarded
// with it. The client owns it exclusively, nothing is persisted across
// process lifetimes.
type AccountData struct {
	// AccessToken is the bearer token used by every data call.
	AccessToken string

	// TokenExpiration is when AccessToken stops being usable. The zero
	// value means expired.
	TokenExpiration time.Time

	// Identifiers resolved from the account and billing endpoints. After a
	// successful Login all six are non-empty.
	SubscriptionID        string
	MeteringPointID       string
	ContactID             string
	CustomerID            string
	MeterNumber           string
	SubscriptionStartDate string

	// Last fetched consumption payloads, overwritten on each fetch. The
	// upstream shape is opaque to the client, no history is retained.
	MonthlyConsumption json.RawMessage
	DailyConsumption   json.RawMessage

	// Alerts is the last fetched alert configuration.
	Alerts *AlertSettings

	// verifier is the PKCE code verifier minted by the authorize step and
	// authorizationCode the code extracted from the final redirect. Both
	// are consumed by the token exchange.
	verifier          string
	authorizationCode string
}

// tokenValid reports whether the access token is usable at now. A missing
// token and an expiration at or before now both read as invalid.
func (a *AccountData) tokenValid(now time.Time) bool {
	return a.AccessToken != "" && now.Before(a.TokenExpiration)
}

// AlertSettings is the consumption alert configuration of a metering
// point, one enabled flag, threshold and notification pair per period.
// When a period's Enabled flag is false its remaining fields are
// meaningless: the upstream API models a disabled period by omitting it
// entirely.
type AlertSettings struct {
	DailyEnabled bool

	// DailyThreshold is in litres, upstream enforces a minimum of 100.
	DailyThreshold int

	// DailyNotifyEmail cannot actually be disabled upstream, it always
	// reads back true. Modeled anyway for symmetry with SMS.
	DailyNotifyEmail bool
	DailyNotifySMS   bool

	MonthlyEnabled bool

	// MonthlyThreshold is in cubic meters, upstream enforces a minimum
	// of 1.
	MonthlyThreshold   int
	MonthlyNotifyEmail bool
	MonthlyNotifySMS   bool
}
