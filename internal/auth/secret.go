package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrMalformedLinkToken = errors.New("malformed link token")

// NewLinkToken returns a "<id>.<secret>" token and the bcrypt hash of the
// secret. Only the hash is stored; the id selects the row.
func NewLinkToken(id string) (token, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return id + "." + secret, string(h), nil
}

// SplitLinkToken separates the selector from the secret.
func SplitLinkToken(token string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrMalformedLinkToken
	}
	return id, secret, nil
}

func VerifySecret(plain, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
