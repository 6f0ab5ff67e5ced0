package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/verification"
)

// fallbackTokenLifetime applies to tokens without an exp claim.
const fallbackTokenLifetime = 12 * time.Hour

func newVersionCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version.",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(o.out, "verifyctl %s (%s)\n", version, buildDate)
		},
	}
}

func newLoginCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the --token value as the session for later commands.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			token := o.token
			if token == "" {
				return errors.New("need --token")
			}
			exp, ok := identity.TokenExpiry(token)
			if !ok {
				exp = time.Now().Add(fallbackTokenLifetime)
			}
			if !exp.After(time.Now()) {
				return errors.New("token already expired")
			}
			if err := o.store().Save(token, exp); err != nil {
				return err
			}
			fmt.Fprintf(o.out, "ok (expires %s)\n", exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := o.store().Clear(); err != nil {
				return err
			}
			fmt.Fprintln(o.out, "ok")
			return nil
		},
	}
}

func newSubmitCmd(o *rootOptions) *cobra.Command {
	var (
		req  verification.Request
		wait bool
		po   pollFlags
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a license for verification.",
		Long: `
Usage: verifyctl submit --license <number> [options]

  Submits the license and prints the new verification id. With --wait the
  command keeps polling until the service decides or the attempts run out.

      $ verifyctl submit --license RN-12345 --type nurse --state CA --wait
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.LicenseNumber == "" {
				return errors.New("need --license")
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := o.commandContext(cmd)
			defer cancel()

			res, err := c.Submit(ctx, req)
			if err != nil {
				return err
			}
			if !wait || res.Status.IsTerminal() {
				return o.printJSON(res)
			}
			rec, err := verification.NewPoller(c, o.logger(), nil).Poll(ctx, res.ID, po.options())
			if err != nil {
				return err
			}
			return o.printJSON(rec)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.LicenseNumber, "license", "", "license number")
	f.StringVar(&req.LicenseType, "type", "", "license type")
	f.StringVar(&req.IssuingState, "state", "", "issuing state")
	f.StringVar(&req.ExpiresOn, "expires", "", "expiry date (YYYY-MM-DD)")
	f.StringVar(&req.FullName, "name", "", "licensee full name")
	f.StringVar(&req.BusinessName, "business", "", "pharmacy business name")
	f.BoolVar(&wait, "wait", false, "poll until the verification is decided")
	po.register(cmd)
	return cmd
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Read one verification record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := o.commandContext(cmd)
			defer cancel()
			rec, err := c.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return o.printJSON(rec)
		},
	}
}

type pollFlags struct {
	attempts   int
	interval   time.Duration
	multiplier float64
}

func (p *pollFlags) register(cmd *cobra.Command) {
	d := verification.DefaultOptions()
	cmd.Flags().IntVar(&p.attempts, "attempts", d.MaxAttempts, "maximum status reads")
	cmd.Flags().DurationVar(&p.interval, "interval", d.Interval, "initial delay between reads")
	cmd.Flags().Float64Var(&p.multiplier, "backoff", d.BackoffMultiplier, "interval growth factor")
}

func (p pollFlags) options() verification.Options {
	return verification.Options{MaxAttempts: p.attempts, Interval: p.interval, BackoffMultiplier: p.multiplier}
}

func newPollCmd(o *rootOptions) *cobra.Command {
	var po pollFlags
	cmd := &cobra.Command{
		Use:   "poll <id>",
		Short: "Wait for a verification to be decided.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := o.commandContext(cmd)
			defer cancel()
			rec, err := verification.NewPoller(c, o.logger(), nil).Poll(ctx, args[0], po.options())
			if err != nil {
				return err
			}
			return o.printJSON(rec)
		},
	}
	po.register(cmd)
	return cmd
}

func newPingCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the verification service answers.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			ctx, cancel := o.commandContext(cmd)
			defer cancel()
			if !c.IsAvailable(ctx) {
				return errors.New("verification service unavailable")
			}
			fmt.Fprintln(o.out, "available")
			return nil
		},
	}
}

func newMessagesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "messages [code]",
		Short: "Print the user-facing text for verification error codes.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				fmt.Fprintln(o.out, verification.Message(verification.Code(args[0])))
				return nil
			}
			codes := append([]verification.Code(nil), verification.Codes...)
			sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
			for _, c := range codes {
				fmt.Fprintf(o.out, "%-18s %s\n", c, verification.Message(c))
			}
			return nil
		},
	}
}

func newWhoamiCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the claims the portal sees for the current session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := o.tokens().Token()
			if err != nil {
				return err
			}
			cc, cli, err := dial(o, tok)
			if err != nil {
				return err
			}
			defer cc.Close()
			ctx, cancel := o.commandContext(cmd)
			defer cancel()
			out, err := cli.Whoami(ctx)
			if err != nil {
				return err
			}
			return o.printJSON(out.AsMap())
		},
	}
}

func newCheckCmd(o *rootOptions) *cobra.Command {
	var (
		roles    []string
		verified bool
		elevated bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ask the portal whether a policy admits the current session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := guard.Policy{RequireVerified: verified, RequireElevatedAssurance: elevated}
			for _, r := range roles {
				role, err := claims.ParseRole(r)
				if err != nil {
					return err
				}
				p.Roles = append(p.Roles, role)
			}
			tok, err := o.tokens().Token()
			if err != nil {
				return err
			}
			cc, cli, err := dial(o, tok)
			if err != nil {
				return err
			}
			defer cc.Close()
			ctx, cancel := o.commandContext(cmd)
			defer cancel()
			out, err := cli.Check(ctx, p)
			if err != nil {
				return err
			}
			return o.printJSON(out.AsMap())
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "acceptable role (repeatable)")
	cmd.Flags().BoolVar(&verified, "verified", false, "require a verified professional")
	cmd.Flags().BoolVar(&elevated, "elevated", false, "require elevated assurance")
	return cmd
}
