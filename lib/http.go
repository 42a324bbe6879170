package lib

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/TecharoHQ/tracecaptcha"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/publicsuffix"
)

var domainMatchRegexp = regexp.MustCompile(`^((xn--)?[a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}$`)

type CookieOpts struct {
	Value  string
	Host   string
	Path   string
	Name   string
	Expiry time.Duration
}

func (s *Server) cookieDomain(host string) string {
	domain := s.opts.CookieDomain
	if s.opts.CookieDynamicDomain && domainMatchRegexp.MatchString(host) {
		if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			domain = etld
		}
	}
	return domain
}

func (s *Server) cookiePath() string {
	if tracecaptcha.BasePrefix != "" {
		return strings.TrimSuffix(tracecaptcha.BasePrefix, "/") + "/"
	}
	return "/"
}

func (s *Server) SetCookie(w http.ResponseWriter, cookieOpts CookieOpts) {
	var name = s.cookieName
	var path = s.cookiePath()
	if cookieOpts.Name != "" {
		name = cookieOpts.Name
	}
	if cookieOpts.Path != "" {
		path = cookieOpts.Path
	}

	if cookieOpts.Expiry == 0 {
		cookieOpts.Expiry = s.opts.CookieExpiration
	}

	http.SetCookie(w, &http.Cookie{
		Name:        name,
		Value:       cookieOpts.Value,
		Expires:     time.Now().Add(cookieOpts.Expiry),
		SameSite:    http.SameSiteLaxMode,
		Domain:      s.cookieDomain(cookieOpts.Host),
		Secure:      s.opts.CookieSecure,
		Partitioned: s.opts.CookiePartitioned,
		HttpOnly:    true,
		Path:        path,
	})
}

func (s *Server) ClearCookie(w http.ResponseWriter, cookieOpts CookieOpts) {
	var name = s.cookieName
	var path = s.cookiePath()
	if cookieOpts.Name != "" {
		name = cookieOpts.Name
	}
	if cookieOpts.Path != "" {
		path = cookieOpts.Path
	}

	http.SetCookie(w, &http.Cookie{
		Name:        name,
		Value:       "",
		MaxAge:      -1,
		Expires:     time.Now().Add(-1 * time.Minute),
		SameSite:    http.SameSiteLaxMode,
		Partitioned: s.opts.CookiePartitioned,
		Domain:      s.cookieDomain(cookieOpts.Host),
		Secure:      s.opts.CookieSecure,
		HttpOnly:    true,
		Path:        path,
	})
}

func (s *Server) signJWT(claims jwt.MapClaims) (string, error) {
	claims["iat"] = time.Now().Unix()
	claims["nbf"] = time.Now().Add(-1 * time.Minute).Unix()
	claims["exp"] = time.Now().Add(s.opts.CookieExpiration).Unix()

	if len(s.hs512Secret) == 0 {
		return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.ed25519Priv)
	} else {
		return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.hs512Secret)
	}
}

// parseJWT validates a pass token signed by this server.
func (s *Server) parseJWT(tokenString string) (jwt.MapClaims, error) {
	method := jwt.SigningMethodEdDSA.Alg()
	if len(s.hs512Secret) != 0 {
		method = jwt.SigningMethodHS512.Alg()
	}

	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		if len(s.hs512Secret) != 0 {
			return s.hs512Secret, nil
		}
		return s.ed25519Priv.Public(), nil
	}, jwt.WithExpirationRequired(), jwt.WithStrictDecoding(), jwt.WithValidMethods([]string{method}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("lib: invalid token claims")
	}

	return claims, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *challenge.Error
	if errors.As(err, &cerr) {
		writeJSON(w, cerr.StatusCode, errorResponse{Error: cerr.PublicReason})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error: fmt.Sprintf("internal server error, please look for the logs around %q", r.URL.Path),
	})
}
