package admin

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pobradovic08/appserver/internal/api"
)

const tokenIssuer = "appserver-admin"

var errNoCredentials = errors.New("admin credentials are not configured")

// credentialsConfigured is false when either half of the login is missing,
// in which case every request is refused.
func (a *Admin) credentialsConfigured() bool {
	return a.username != "" && a.password != "" && len(a.secret) > 0
}

func (a *Admin) checkPassword(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	return userOK && passOK
}

// issueToken signs a bearer token for the configured admin user.
func (a *Admin) issueToken() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   a.username,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, expires, nil
}

func (a *Admin) verifyToken(raw string) error {
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(a.username),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	return err
}

// authenticate accepts either a bearer token from the login endpoint or
// HTTP basic credentials.
func (a *Admin) authenticate(r *http.Request) error {
	if !a.credentialsConfigured() {
		return errNoCredentials
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return a.verifyToken(strings.TrimPrefix(auth, "Bearer "))
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return errors.New("no credentials supplied")
	}
	if !a.checkPassword(user, pass) {
		return errors.New("invalid username or password")
	}
	return nil
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Admin Restricted"`)
	api.WriteProblem(w, http.StatusUnauthorized, "Authentication credentials were not provided or are invalid.")
}

func (a *Admin) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.authenticate(r); err != nil {
			writeUnauthorized(w)
			return
		}
		next(w, r)
	})
}

// Disabled returns the handler mounted at the admin prefix when the admin
// interface is turned off. It answers every request with a basic-auth
// challenge so the prefix looks the same as an admin without credentials.
func Disabled() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeUnauthorized(w)
	})
}
