// Package lib wires the trace verifier into an HTTP API.
package lib

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TecharoHQ/tracecaptcha"
	"github.com/TecharoHQ/tracecaptcha/internal"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
	"github.com/TecharoHQ/tracecaptcha/lib/policy"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
	"github.com/TecharoHQ/tracecaptcha/lib/verify"
)

var (
	passTokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecaptcha_pass_tokens_issued",
		Help: "The total number of pass tokens handed out, by shape",
	}, []string{"shape"})

	passChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecaptcha_pass_checks",
		Help: "The total number of pass cookie checks, by result",
	}, []string{"result"})
)

type Server struct {
	mux         *http.ServeMux
	policy      *policy.ParsedConfig
	shapes      *shape.Catalog
	ledger      *challenge.Ledger
	verifier    *verify.Verifier
	logger      *slog.Logger
	cookieName  string
	ed25519Priv ed25519.PrivateKey
	hs512Secret []byte
	opts        Options
}

func New(opts Options) (*Server, error) {
	if opts.Policy == nil {
		return nil, ErrNoPolicy
	}

	if opts.Shapes == nil || opts.Shapes.Len() == 0 {
		return nil, ErrNoShapes
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.ED25519PrivateKey == nil && len(opts.HS512Secret) == 0 {
		opts.Logger.Debug("opts.PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %v", err)
		}
		opts.ED25519PrivateKey = priv
	}

	if opts.CookieExpiration == 0 {
		opts.CookieExpiration = tracecaptcha.CookieDefaultExpirationTime
	}

	if opts.Store == nil {
		st, err := BuildStore(context.Background(), opts.Policy)
		if err != nil {
			return nil, err
		}
		opts.Store = st
	}

	tracecaptcha.BasePrefix = opts.BasePrefix

	cookieName := tracecaptcha.CookieName
	if opts.CookieDomain != "" {
		cookieName = tracecaptcha.WithDomainCookieName + opts.CookieDomain
	}

	ledgerOpts := []challenge.Option{challenge.WithLogger(opts.Logger)}
	if opts.Clock != nil {
		ledgerOpts = append(ledgerOpts, challenge.WithClock(opts.Clock))
	}
	ledger := challenge.NewLedger(opts.Store, opts.Policy.Challenge, ledgerOpts...)

	result := &Server{
		policy:      opts.Policy,
		shapes:      opts.Shapes,
		ledger:      ledger,
		verifier:    verify.New(opts.Policy, ledger, opts.Logger),
		logger:      opts.Logger,
		cookieName:  cookieName,
		ed25519Priv: opts.ED25519PrivateKey,
		hs512Secret: opts.HS512Secret,
		opts:        opts,
	}

	mux := http.NewServeMux()

	// Helper to add global prefix
	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		// Ensure there's no double slash when concatenating BasePrefix and pattern
		basePrefix := strings.TrimSuffix(tracecaptcha.BasePrefix, "/")
		prefix := method + basePrefix

		// If pattern doesn't start with a slash, add one
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}

		mux.Handle(prefix+pattern, handler)
	}

	api := tracecaptcha.APIPrefix
	registerWithPrefix(api+"challenge", internal.NoStoreCache(http.HandlerFunc(result.IssueChallenge)), "GET")
	registerWithPrefix(api+"verify", internal.NoStoreCache(http.HandlerFunc(result.Verify)), "POST")
	registerWithPrefix(api+"check", internal.NoStoreCache(http.HandlerFunc(result.CheckPass)), "GET")
	registerWithPrefix(api+"shapes", http.HandlerFunc(result.ListShapes), "GET")
	registerWithPrefix(api+"shapes/{name}", internal.GzipMiddleware(1, http.HandlerFunc(result.GetShape)), "GET")
	registerWithPrefix("/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "OK")
	}), "GET")

	result.mux = mux

	return result, nil
}

// Ledger exposes the challenge ledger so the caller can run its sweeper.
func (s *Server) Ledger() *challenge.Ledger {
	return s.ledger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
