package resynth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	credentialValidity = 30 * time.Minute
	credentialGrace    = 5 * time.Second // tolerate clock skew on not-before
)

// signedCredential builds the per-request bearer credential: an HS256 token
// issued by the access key, valid from just before now until 30 minutes out.
// Credentials are regenerated for every request rather than cached; each one
// embeds its own fixed validity window and signing is cheap.
func (c *HTTPClient) signedCredential() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.accessKey,
		NotBefore: jwt.NewNumericDate(now.Add(-credentialGrace)),
		ExpiresAt: jwt.NewNumericDate(now.Add(credentialValidity)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}
