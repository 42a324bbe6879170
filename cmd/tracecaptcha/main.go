package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"embed"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/TecharoHQ/tracecaptcha"
	"github.com/TecharoHQ/tracecaptcha/data"
	"github.com/TecharoHQ/tracecaptcha/internal"
	libtc "github.com/TecharoHQ/tracecaptcha/lib"
	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	basePrefix               = flag.String("base-prefix", "", "base prefix (root URL) the application is served under e.g. /captcha")
	bind                     = flag.String("bind", ":8923", "network address to bind HTTP to")
	bindNetwork              = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	cookieDomain             = flag.String("cookie-domain", "", "if set, the top-level domain that the pass cookie will be valid for")
	cookieDynamicDomain      = flag.Bool("cookie-dynamic-domain", false, "if set, automatically set the cookie Domain value based on the request domain")
	cookieExpiration         = flag.Duration("cookie-expiration-time", tracecaptcha.CookieDefaultExpirationTime, "The amount of time the pass cookie is valid for")
	cookiePrefix             = flag.String("cookie-prefix", "tracecaptcha", "prefix for browser cookies created by tracecaptcha")
	cookiePartitioned        = flag.Bool("cookie-partitioned", false, "if true, sets the partitioned flag on pass cookies, enabling CHIPS support")
	cookieSecure             = flag.Bool("cookie-secure", true, "if true, sets the secure flag on pass cookies")
	hs512Secret              = flag.String("hs512-secret", "", "secret used to sign pass tokens, uses ed25519 if not set")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign pass tokens, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork       = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	socketMode               = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	policyFname              = flag.String("policy-fname", "", "full path to the policy document (defaults to a sensible built-in policy)")
	shapesDir                = flag.String("shapes-dir", "", "directory of shape template JSON files (defaults to the built-in shapes)")
	dumpPolicy               = flag.Bool("dump-policy", false, "print the effective policy as YAML and exit")
	extractResources         = flag.String("extract-resources", "", "if set, extract the built-in policy and shapes to the specified folder")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	sweepInterval            = flag.Duration("sweep-interval", time.Minute, "how often expired challenges are removed from the store")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against tracecaptcha")
	useRemoteAddress         = flag.Bool("use-remote-address", false, "read the client's IP address from the network request, useful for debugging and running on bare metal")
	versionFlag              = flag.Bool("version", false, "print tracecaptcha version")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + tracecaptcha.BasePrefix + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to parse bind URL: %w", err))
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path
	case "tcp", "http", "https":
		return "tcp", bindUri.Host
	default:
		log.Fatal(fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address))
	}
	return "", address
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	if network == "" {
		network, address = parseBindNetFromAddr(address)
	}

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :4259
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			if err := listener.Close(); err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func loadSigningKey() (ed25519.PrivateKey, error) {
	switch {
	case *hs512Secret != "" && (*ed25519PrivateKeyHex != "" || *ed25519PrivateKeyHexFile != ""):
		return nil, errors.New("do not specify both HS512 and ED25519 secrets")
	case *hs512Secret != "":
		return nil, nil
	case *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "":
		return nil, errors.New("do not specify both ED25519_PRIVATE_KEY_HEX and ED25519_PRIVATE_KEY_HEX_FILE")
	case *ed25519PrivateKeyHex != "":
		priv, err := keyFromHex(*ed25519PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse and validate ED25519_PRIVATE_KEY_HEX: %w", err)
		}
		return priv, nil
	case *ed25519PrivateKeyHexFile != "":
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ED25519_PRIVATE_KEY_HEX_FILE %s: %w", *ed25519PrivateKeyHexFile, err)
		}

		priv, err := keyFromHex(string(bytes.TrimSpace(hexFile)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse and validate content of ED25519_PRIVATE_KEY_HEX_FILE: %w", err)
		}
		return priv, nil
	}

	slog.Warn("generating random key, pass tokens will not validate across instances behind the same load balancer")
	return nil, nil
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("tracecaptcha", tracecaptcha.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *extractResources != "" {
		if err := extractEmbedFS(data.Policy, ".", *extractResources); err != nil {
			log.Fatal(err)
		}
		if err := extractEmbedFS(data.Shapes, "shapes", *extractResources); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Extracted built-in policy and shapes to %s\n", *extractResources)
		return
	}

	if *cookieDomain != "" && *cookieDynamicDomain {
		log.Fatalf("you can't set COOKIE_DOMAIN and COOKIE_DYNAMIC_DOMAIN at the same time")
	}

	if *basePrefix != "" && !strings.HasPrefix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must start with a slash, eg: /%s", *basePrefix)
	} else if strings.HasSuffix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must not end with a slash")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := libtc.LoadPoliciesOrDefault(ctx, *policyFname)
	if err != nil {
		log.Fatalf("can't parse policy file: %v", err)
	}

	if *dumpPolicy {
		yml, err := policy.Config().YAML()
		if err != nil {
			log.Fatalf("can't render policy: %v", err)
		}
		os.Stdout.Write(yml)
		return
	}

	shapes, err := libtc.LoadShapes(*shapesDir, policy)
	if err != nil {
		log.Fatalf("can't load shapes: %v", err)
	}

	st, err := libtc.BuildStore(ctx, policy)
	if err != nil {
		log.Fatalf("can't build challenge store: %v", err)
	}

	ed25519Priv, err := loadSigningKey()
	if err != nil {
		log.Fatal(err)
	}

	tracecaptcha.CookieName = *cookiePrefix + "-pass"
	tracecaptcha.WithDomainCookieName = *cookiePrefix + "-pass-for-"

	s, err := libtc.New(libtc.Options{
		BasePrefix:          *basePrefix,
		Policy:              policy,
		Shapes:              shapes,
		Store:               st,
		ED25519PrivateKey:   ed25519Priv,
		HS512Secret:         []byte(*hs512Secret),
		CookieDomain:        *cookieDomain,
		CookieDynamicDomain: *cookieDynamicDomain,
		CookieExpiration:    *cookieExpiration,
		CookiePartitioned:   *cookiePartitioned,
		CookieSecure:        *cookieSecure,
	})
	if err != nil {
		log.Fatalf("can't construct lib.Server: %v", err)
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	if *sweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Ledger().Run(ctx, *sweepInterval)
		}()
	}

	var h http.Handler
	h = s
	h = internal.RemoteXRealIP(*useRemoteAddress, *bindNetwork, h)
	h = internal.XForwardedForToXRealIP(h)

	srv := http.Server{Handler: h, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", tracecaptcha.Version,
		"shapes", shapes.Names(),
		"store", storeName(policy.Store),
		"challenge-ttl", s.Ledger().TimeToLive(),
		"bot-threshold", policy.Bot.Threshold,
		"use-remote-address", *useRemoteAddress,
		"base-prefix", *basePrefix,
		"cookie-expiration-time", *cookieExpiration,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func storeName(st *config.Store) string {
	if st == nil {
		return "memory"
	}
	return st.Backend
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle(tracecaptcha.BasePrefix+"/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func extractEmbedFS(fsys embed.FS, root string, destDir string) error {
	return fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		destPath := filepath.Join(destDir, root, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0o700)
		}

		embeddedData, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}

		return os.WriteFile(destPath, embeddedData, 0o644)
	})
}
