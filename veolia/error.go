package veolia

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrInvalidCredentials is returned when the password submission step
	// answers 400. It is terminal, the flow is not retried.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUnexpectedStatus is returned when a step or data endpoint answers
	// with a status other than its declared success status. The wrapping
	// error carries the URL and the observed status.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrUnknownFlowStep is returned when a redirect resolves to an
	// endpoint the connection flow table doesn't know.
	ErrUnknownFlowStep = errors.New("unknown flow step")

	// ErrUnsupportedMethod is a programmer error: a flow step declared an
	// HTTP method the engine cannot issue.
	ErrUnsupportedMethod = errors.New("unsupported HTTP method")

	// ErrMissingAuthorizationCode is returned when the redirect into the
	// callback endpoint carries no code parameter.
	ErrMissingAuthorizationCode = errors.New("authorization code not found")

	// ErrMissingAccessToken is returned when the token endpoint response
	// carries no access_token.
	ErrMissingAccessToken = errors.New("access token not found")

	// ErrMissingField is returned when a required field is absent from an
	// account or billing response.
	ErrMissingField = errors.New("required field not found in response")

	// ErrLoginFailed is returned by Login when the sequence completed but
	// left one or more required identifiers unresolved.
	ErrLoginFailed = errors.New("login failed")
)
