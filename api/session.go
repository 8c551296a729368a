package api

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"task-sync/domain"
)

const installationHeader = "X-Installation-Id"

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errForeignInstallation  = errors.New("installation belongs to another user")
)

func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// session is the identity of one request. A request without a valid token
// gets a session with no identity, which the core treats as signed out.
type session struct {
	ident *domain.Identity
}

func (s session) CurrentIdentity() *domain.Identity { return s.ident }

func (s session) email() string {
	if s.ident == nil {
		return ""
	}
	return s.ident.Email
}

// newSession authenticates the request. EventSource clients cannot set
// headers, so the token may also come in the token query parameter.
func newSession(c echo.Context, auth Authenticator) (session, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if token := c.QueryParam("token"); token != "" {
			header = "Bearer " + token
		}
	}
	email, err := auth.EmailFromAuthHeader(header)
	if err != nil {
		return session{}, err
	}
	return session{ident: &domain.Identity{Email: email}}, nil
}

// installationID names the device whose topic preferences are addressed.
// Without the header the signed in user's email is used. Email shaped ids
// are reserved for their owner's default installation.
func installationID(c echo.Context, s session) (id string, explicit bool, err error) {
	id = strings.TrimSpace(c.Request().Header.Get(installationHeader))
	if id == "" || id == s.email() {
		return s.email(), false, nil
	}
	if strings.Contains(id, "@") {
		return "", false, errForeignInstallation
	}
	return id, true, nil
}
