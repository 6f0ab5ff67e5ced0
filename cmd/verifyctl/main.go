// Command verifyctl submits professional license verifications and inspects
// the current portal session from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"github.com/and161185/practigate/internal/config"
	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/verification"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// EnvToken overrides the stored session token.
const EnvToken = "VERIFYCTL_TOKEN"

type rootOptions struct {
	verificationURL string
	token           string
	configDir       string
	timeout         time.Duration
	verbose         bool

	grpcAddr   string
	caPath     string
	skipVerify bool
	plaintext  bool

	out io.Writer
}

func (o *rootOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *rootOptions) store() *identity.FileTokenStore {
	return identity.NewFileTokenStore(o.configDir)
}

// tokens prefers an explicit token over the stored session.
func (o *rootOptions) tokens() identity.TokenSource {
	if o.token != "" {
		return identity.StaticToken(o.token)
	}
	return o.store()
}

func (o *rootOptions) client() (*verification.Client, error) {
	return verification.NewClient(o.verificationURL, o.tokens(), o.logger(), verification.ClientOptions{})
}

func (o *rootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(out io.Writer, getenv func(string) string) *cobra.Command {
	o := &rootOptions{out: out}
	root := &cobra.Command{
		Use:           "verifyctl",
		Short:         "Professional license verification from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `
Usage: verifyctl <command> [options]

  Store a session token, submit a license for verification and wait for the
  verification service to reach a decision.

      $ verifyctl login --token "$TOKEN"
      $ verifyctl submit --license RN-12345 --state CA --wait

  Please see the individual command help for detailed usage information.
`,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.verificationURL, "url", getenv(config.EnvVerificationURL), "verification service base URL")
	pf.StringVar(&o.token, "token", getenv(EnvToken), "bearer token (default: stored session)")
	pf.StringVar(&o.configDir, "config-dir", "", "session directory (default: user config dir)")
	pf.DurationVar(&o.timeout, "timeout", 2*time.Minute, "overall command deadline")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "log requests to stderr")
	pf.StringVar(&o.grpcAddr, "addr", "localhost:9443", "portal gRPC address")
	pf.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&o.skipVerify, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&o.plaintext, "plaintext", false, "connect without TLS (dev)")

	root.AddCommand(
		newVersionCmd(o),
		newLoginCmd(o),
		newLogoutCmd(o),
		newSubmitCmd(o),
		newStatusCmd(o),
		newPollCmd(o),
		newPingCmd(o),
		newMessagesCmd(o),
		newWhoamiCmd(o),
		newCheckCmd(o),
	)
	return root
}

// commandContext bounds a command by the --timeout flag.
func (o *rootOptions) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Getenv)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// describe renders err for the terminal: verification failures get their
// user-facing message, RPC failures their status.
func describe(err error) string {
	var ve *verification.Error
	if errors.As(err, &ve) {
		return fmt.Sprintf("%s: %s", ve.Code, verification.Message(ve.Code))
	}
	if errors.Is(err, errs.ErrNoSession) {
		return "no valid session (run verifyctl login)"
	}
	if s, ok := status.FromError(err); ok {
		return fmt.Sprintf("rpc error: code=%s msg=%s", s.Code(), s.Message())
	}
	return err.Error()
}
