// Package config loads portal settings from flags with environment fallbacks.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/practigate/internal/crypto"
	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/principal"
)

// Environment variables consulted when a flag is not given.
const (
	EnvProviderURL     = "PRACTIGATE_PROVIDER_URL"
	EnvProviderKey     = "PRACTIGATE_PROVIDER_KEY"
	EnvVerificationURL = "PRACTIGATE_VERIFICATION_URL"
	EnvDSN             = "PRACTIGATE_DSN"
	EnvSessionSecret   = "PRACTIGATE_SESSION_SECRET"
	EnvRoutes          = "PRACTIGATE_ROUTES"
	EnvUpstream        = "PRACTIGATE_UPSTREAM"
	EnvSigningKey      = "PRACTIGATE_SIGNING_KEY"
)

// Config is the portal configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	ProviderURL     string
	ProviderKey     string
	VerificationURL string
	// VerificationRate is requests per second to the verification service; 0 is unlimited.
	VerificationRate float64

	DSN           string
	SessionSecret string
	RoutesPath    string
	UpstreamURL   string
	SigningKey    string
	// MaxPrincipals bounds how many browsing sessions keep live claims in memory; 0 selects the default.
	MaxPrincipals int

	TLSCert string
	TLSKey  string

	ReturnMaxAge  time.Duration
	ProbeInterval time.Duration
	PurgeInterval time.Duration

	Dev bool
}

// Load parses args (without the program name). getenv supplies fallbacks
// for flags that were not given; nil means no environment.
func Load(args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	var c Config
	fs := flag.NewFlagSet("portal", flag.ContinueOnError)
	fs.StringVar(&c.HTTPAddr, "addr", ":8080", "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", ":9443", "gRPC listen address (empty disables)")
	fs.StringVar(&c.ProviderURL, "provider-url", getenv(EnvProviderURL), "identity provider base URL")
	fs.StringVar(&c.ProviderKey, "provider-key", getenv(EnvProviderKey), "identity provider API key")
	fs.StringVar(&c.VerificationURL, "verification-url", getenv(EnvVerificationURL), "verification service base URL")
	fs.Float64Var(&c.VerificationRate, "verification-rate", 0, "verification requests per second (0 = unlimited)")
	fs.StringVar(&c.DSN, "dsn", getenv(EnvDSN), "PostgreSQL DSN for session state (empty = in-memory)")
	fs.StringVar(&c.SessionSecret, "session-secret", getenv(EnvSessionSecret), "secret sealing stored session state")
	fs.StringVar(&c.RoutesPath, "routes", getenv(EnvRoutes), "YAML route table")
	fs.StringVar(&c.UpstreamURL, "upstream", getenv(EnvUpstream), "UI upstream for guarded pages")
	fs.StringVar(&c.SigningKey, "signing-key", getenv(EnvSigningKey), "HS256 key verifying bearer tokens at the gRPC edge")
	fs.IntVar(&c.MaxPrincipals, "max-principals", principal.DefaultMaxPrincipals, "browsing sessions kept with live claims")
	fs.StringVar(&c.TLSCert, "tls-cert", "", "TLS certificate (PEM) for gRPC")
	fs.StringVar(&c.TLSKey, "tls-key", "", "TLS private key (PEM) for gRPC")
	fs.DurationVar(&c.ReturnMaxAge, "return-max-age", 10*time.Minute, "lifetime of a saved return path")
	fs.DurationVar(&c.ProbeInterval, "probe-interval", 30*time.Second, "verification availability probe interval")
	fs.DurationVar(&c.PurgeInterval, "purge-interval", 5*time.Minute, "expired session entry purge interval")
	fs.BoolVar(&c.Dev, "dev", envBool(getenv("PRACTIGATE_DEV")), "development logging and gRPC reflection")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every missing or malformed required setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.ProviderURL == "" {
		missing = append(missing, "provider url ("+EnvProviderURL+")")
	}
	if c.ProviderKey == "" {
		missing = append(missing, "provider key ("+EnvProviderKey+")")
	}
	if c.VerificationURL == "" {
		missing = append(missing, "verification url ("+EnvVerificationURL+")")
	}
	if c.DSN != "" && c.SessionSecret == "" {
		missing = append(missing, "session secret ("+EnvSessionSecret+") required with a DSN")
	}
	if c.GRPCAddr != "" && c.SigningKey == "" {
		missing = append(missing, "signing key ("+EnvSigningKey+") required with a gRPC listener")
	}

	var bad []error
	if len(missing) > 0 {
		bad = append(bad, fmt.Errorf("%w: %s", errs.ErrMissingConfig, strings.Join(missing, ", ")))
	}
	for name, raw := range map[string]string{"provider url": c.ProviderURL, "verification url": c.VerificationURL, "upstream": c.UpstreamURL} {
		if raw != "" && !absoluteURL(raw) {
			bad = append(bad, fmt.Errorf("%s %q is not an absolute URL", name, raw))
		}
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < crypto.MinSecretLen {
		bad = append(bad, fmt.Errorf("session secret: %w", crypto.ErrShortSecret))
	}
	if c.MaxPrincipals < 0 {
		bad = append(bad, fmt.Errorf("max-principals must not be negative, got %d", c.MaxPrincipals))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		bad = append(bad, errors.New("tls-cert and tls-key must be given together"))
	}
	return errors.Join(bad...)
}

// Routes loads the route table. Without a path the table is empty and only
// explicitly protected handlers are guarded.
func (c Config) Routes() (*guard.RouteTable, error) {
	if c.RoutesPath == "" {
		return &guard.RouteTable{}, nil
	}
	return guard.LoadRoutes(c.RoutesPath)
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func envBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
