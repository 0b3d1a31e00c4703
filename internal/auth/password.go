package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for any failed login attempt. Wrong username
// and wrong password are indistinguishable.
var ErrBadCredentials = errors.New("bad credentials")

// VerifyAdminLogin checks a username/password pair against the configured
// admin account. passwordHash is a bcrypt hash. Both checks run on every
// call so the username comparison does not short-circuit timing.
func VerifyAdminLogin(username, password, wantUsername, passwordHash string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(wantUsername)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password))
	if !userOK || passErr != nil {
		return ErrBadCredentials
	}
	return nil
}

// HashPassword produces a bcrypt hash for storing in configuration. Used by
// provisioning tooling, not the request path.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
