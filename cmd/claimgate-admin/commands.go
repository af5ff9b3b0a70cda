package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/claimgate/pkg/auth"
	"github.com/platinummonkey/claimgate/pkg/billing"
	"github.com/platinummonkey/claimgate/pkg/entitlements"
	"github.com/platinummonkey/claimgate/pkg/housekeeping"
	"github.com/platinummonkey/claimgate/pkg/membership"
	"github.com/platinummonkey/claimgate/pkg/observability"
	"github.com/platinummonkey/claimgate/pkg/storage"
	"github.com/platinummonkey/claimgate/pkg/storage/postgres"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

// cli holds the persistent flags and the lazily opened store.
type cli struct {
	postgresURL      string
	entitlementsPath string
	baseURL          string
	stripeKey        string
	logLevel         string

	log *logrus.Logger
	out io.Writer

	db    *sql.DB
	store *postgres.Store
}

func newRootCommand() *cobra.Command {
	c := &cli{log: logrus.New(), out: os.Stdout}
	c.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	c.log.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:           "claimgate-admin",
		Short:         "Operator tasks for a claimgate deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logrus.ParseLevel(c.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			c.log.SetLevel(level)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.postgresURL, "postgres-url", os.Getenv("CLAIMGATE_POSTGRES_URL"), "PostgreSQL connection URL")
	flags.StringVar(&c.entitlementsPath, "entitlements", os.Getenv("CLAIMGATE_ENTITLEMENTS_PATH"), "Entitlements YAML file (built-in defaults when empty)")
	flags.StringVar(&c.baseURL, "base-url", envOr("CLAIMGATE_BASE_URL", "http://localhost:8080"), "Public origin used in activation links")
	flags.StringVar(&c.stripeKey, "stripe-secret-key", os.Getenv("CLAIMGATE_STRIPE_SECRET_KEY"), "Stripe secret key for API lookups during replay")
	flags.StringVar(&c.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		c.migrateCommand(),
		c.createUserCommand(),
		c.setTierCommand(),
		c.replayCommand(),
		c.pruneCommand(),
	)
	return root
}

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.open()
			if err != nil {
				return err
			}
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			c.log.Info("schema is up to date")
			return nil
		},
	}
}

func (c *cli) createUserCommand() *cobra.Command {
	var tierName, password string
	var activate bool

	cmd := &cobra.Command{
		Use:   "create-user EMAIL",
		Short: "Create a member, optionally with a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := membership.NormalizeEmail(args[0])
			if !membership.ValidEmail(email) {
				return fmt.Errorf("invalid email %q", args[0])
			}
			tier, err := membership.ParseTier(tierName)
			if err != nil {
				return err
			}
			var hash string
			if password != "" {
				if err := auth.ValidatePassword(password); err != nil {
					return err
				}
				if hash, err = auth.HashPassword(password); err != nil {
					return err
				}
			}

			store, err := c.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := store.GetUserByEmail(ctx, email); err == nil {
				return fmt.Errorf("%s: %w", email, membership.ErrUserExists)
			} else if !errors.Is(err, membership.ErrUserNotFound) {
				return err
			}

			result, err := store.ApplyChange(ctx, membership.Change{
				Email:  email,
				Tier:   tier,
				Reason: membership.ReasonAdmin,
			})
			if err != nil {
				return err
			}
			fields := logrus.Fields{"email": email, "tier": tier, "id": result.User.ID}

			switch {
			case hash != "":
				if err := store.SetPassword(ctx, result.User.ID, hash, true); err != nil {
					return err
				}
				c.log.WithFields(fields).Info("user created with password")
			case activate:
				if err := c.authService(store).IssueActivation(ctx, email); err != nil {
					return err
				}
				c.log.WithFields(fields).Info("user created, activation link issued")
			default:
				c.log.WithFields(fields).Info("user created without password")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tierName, "tier", string(membership.TierFree), "Initial tier")
	cmd.Flags().StringVar(&password, "password", "", "Initial password (activates the account)")
	cmd.Flags().BoolVar(&activate, "activation-link", false, "Issue an activation link and print it")
	return cmd
}

func (c *cli) setTierCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-tier EMAIL TIER",
		Short: "Override a member's tier (audited with reason admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := membership.NormalizeEmail(args[0])
			tier, err := membership.ParseTier(args[1])
			if err != nil {
				return err
			}

			store, err := c.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			user, err := store.GetUserByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("%s: %w", email, err)
			}

			result, err := store.ApplyChange(ctx, membership.Change{
				Email:            user.Email,
				Tier:             tier,
				StripeCustomerID: user.StripeCustomerID,
				Reason:           membership.ReasonAdmin,
			})
			if err != nil {
				return err
			}
			c.log.WithFields(logrus.Fields{
				"email":    email,
				"old_tier": user.Tier,
				"new_tier": result.User.Tier,
				"audited":  result.Audited,
			}).Info("tier updated")
			return nil
		},
	}
}

func (c *cli) replayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-webhook EVENT_ID",
		Short: "Reprocess a stored Stripe event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.open()
			if err != nil {
				return err
			}
			table, err := entitlements.Load(c.entitlementsPath)
			if err != nil {
				return err
			}

			var stripeClient billing.StripeClient
			if c.stripeKey != "" {
				stripeClient = billing.NewAPIClient(c.stripeKey)
			}
			// Replay skips signature verification, so no webhook secret is needed.
			processor := billing.NewProcessor(store, store, table.Resolver(), stripeClient,
				c.authService(store), nil, billing.Config{}, c.serviceLogger())

			result, err := processor.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJSON(result)
		},
	}
}

func (c *cli) pruneCommand() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old usage counters and expired links and sessions now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if retention < 24*time.Hour {
				return fmt.Errorf("retention must be at least one day, got %s", retention)
			}
			store, err := c.open()
			if err != nil {
				return err
			}
			table, err := entitlements.Load(c.entitlementsPath)
			if err != nil {
				return err
			}

			scheduler, err := housekeeping.New(housekeeping.Config{UsageRetention: retention},
				usage.NewMeter(store, table), c.authService(store), nil, c.serviceLogger())
			if err != nil {
				return err
			}
			result, err := scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(result)
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", housekeeping.DefaultConfig().UsageRetention, "Keep usage counters this long")
	return cmd
}

func (c *cli) open() (*postgres.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	if c.postgresURL == "" {
		return nil, errors.New("--postgres-url or CLAIMGATE_POSTGRES_URL is required")
	}

	cfg := storage.DefaultConfig()
	cfg.PostgresURL = c.postgresURL
	cfg.PostgresMaxConns = 2
	cfg.PostgresMinConns = 1
	db, err := postgres.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.log.Debug("connected to postgres")
	c.db = db
	c.store = postgres.New(db)
	return c.store, nil
}

func (c *cli) close() {
	if c.db != nil {
		c.db.Close()
		c.db = nil
		c.store = nil
	}
}

func (c *cli) authService(store *postgres.Store) *auth.Service {
	cfg := auth.DefaultConfig()
	cfg.BaseURL = c.baseURL
	return auth.NewService(store, store, store.Sessions(), &logNotifier{log: c.log}, cfg, c.serviceLogger())
}

func (c *cli) serviceLogger() *observability.Logger {
	return observability.NewLogger(observability.ParseLevel(c.log.GetLevel().String()), os.Stderr)
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// logNotifier prints links instead of emailing them; the operator forwards
// them by hand.
type logNotifier struct {
	log *logrus.Logger
}

func (n *logNotifier) SendMagicLink(_ context.Context, email, link string) error {
	n.log.WithFields(logrus.Fields{"email": email, "link": link}).Info("magic link")
	return nil
}

func (n *logNotifier) SendActivation(_ context.Context, email, link string) error {
	n.log.WithFields(logrus.Fields{"email": email, "link": link}).Info("activation link")
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
