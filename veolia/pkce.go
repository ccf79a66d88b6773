package veolia

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// secretLen is the number of random bytes behind every flow secret (the
// correlation state, the nonce and the PKCE code verifier).
const secretLen = 32

// codeChallengeMethod is the only PKCE challenge method the identity
// provider accepts.
const codeChallengeMethod = "S256"

// newSecret generates a URL-safe secret: secretLen cryptographically random
// bytes, base64 URL encoded without padding. The authorize step calls it
// three independent times, the state, nonce and verifier never share bytes.
func newSecret() (string, error) {
	const op = "veolia.newSecret"
	data, err := uuid.GenerateRandomBytes(secretLen)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate random bytes: %w", op, err)
	}
	return encodeSecret(data), nil
}

// encodeSecret base64 URL encodes data without padding.
func encodeSecret(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// codeChallenge returns the S256 code challenge for a PKCE verifier: the
// SHA-256 digest of the verifier's UTF-8 bytes, base64 URL encoded without
// padding. Deterministic for a given verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return encodeSecret(sum[:])
}
