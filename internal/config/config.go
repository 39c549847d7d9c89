// Package config parses command line flags with POKER_* environment
// overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "POKER"

type Config struct {
	Bind               string
	Port               int
	PublicURL          string
	DatabaseDriver     string
	DatabaseDSN        string
	DecayInterval      time.Duration
	EnforceAdmin       bool
	Verbose            bool
	LogJSON            bool
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	SubscriptionBuffer int
	AllowedOrigins     []string
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.DatabaseDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("--database-dsn is required for driver %q", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("unknown database driver %q (memory, sqlite or postgres)", c.DatabaseDriver)
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid public url %q", c.PublicURL)
	}
	if c.DecayInterval <= 0 {
		return errors.New("--decay-interval must be positive")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.SubscriptionBuffer < 1 {
		return fmt.Errorf("invalid subscription buffer: %d", c.SubscriptionBuffer)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// NewCommand builds the root command. run is called with the parsed and
// validated config.
func NewCommand(version string, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	cfg := &Config{}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "poker-room",
		Short:   "Planning poker rooms with mini-games, synchronized over websockets.",
		Args:    cobra.ExactArgs(0),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: POKER_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: POKER_PORT)")
	fs.StringVar(&cfg.PublicURL, "public-url", "http://localhost:8080", "base URL used in invite links (env: POKER_PUBLIC_URL)")
	fs.StringVar(&cfg.DatabaseDriver, "database-driver", "memory", "memory, sqlite or postgres (env: POKER_DATABASE_DRIVER)")
	fs.StringVar(&cfg.DatabaseDSN, "database-dsn", "", "database connection string or sqlite file (env: POKER_DATABASE_DSN)")
	fs.DurationVar(&cfg.DecayInterval, "decay-interval", 5*time.Second, "attention meter decay period (env: POKER_DECAY_INTERVAL)")
	fs.BoolVar(&cfg.EnforceAdmin, "enforce-admin", false, "only the room admin may reveal, reset or change settings (env: POKER_ENFORCE_ADMIN)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug logging (env: POKER_VERBOSE)")
	fs.BoolVar(&cfg.LogJSON, "log-json", false, "log as JSON (env: POKER_LOG_JSON)")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", 60*time.Second, "drop websocket clients idle this long (env: POKER_READ_TIMEOUT)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", 3*time.Second, "websocket write timeout (env: POKER_WRITE_TIMEOUT)")
	fs.IntVar(&cfg.SubscriptionBuffer, "subscription-buffer", 16, "pending snapshots per subscriber before it is dropped (env: POKER_SUBSCRIPTION_BUFFER)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "extra websocket origin patterns (env: POKER_ALLOWED_ORIGINS)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("poker-room v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
