package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/pkg/database"
)

const (
	keyDatabaseURL = "database_url"
	keyResolverURL = "dns_resolver_url"
	keyDNSTimeout  = "dns_timeout"
	keyRedisAddr   = "redis_addr"
	keyVerbose     = "verbose"
)

// cli carries what every command shares.
type cli struct {
	v      *viper.Viper
	out    io.Writer
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), out: os.Stdout, logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "helpdeskctl",
		Short:         "Helpdesk operator tool",
		Long:          "Runs migrations, checks email domains and issues identifiers for the helpdesk backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.initConfig()
			c.out = cmd.OutOrStdout()
			if c.v.GetBool(keyVerbose) {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				c.logger = logger
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String(keyDatabaseURL, "", "PostgreSQL connection URL (env DATABASE_URL)")
	flags.String(keyResolverURL, "https://cloudflare-dns.com/dns-query", "DNS-over-HTTPS resolver (env DNS_RESOLVER_URL)")
	flags.Duration(keyDNSTimeout, 5*time.Second, "MX lookup timeout")
	flags.String(keyRedisAddr, "", "Redis address (env REDIS_ADDR)")
	flags.BoolP(keyVerbose, "v", false, "log to stderr")
	_ = c.v.BindPFlags(flags)

	root.AddCommand(
		newMigrateCmd(c),
		newCheckDomainCmd(c),
		newGenIDCmd(c),
		newCompanyCmd(c),
		newQueueCmd(c),
	)
	return root
}

func (c *cli) initConfig() {
	_ = godotenv.Load()
	c.v.SetConfigName("helpdeskctl")
	c.v.SetConfigType("yaml")
	c.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		c.v.AddConfigPath(home + "/.config/helpdesk")
	}
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	if err := c.v.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", c.v.ConfigFileUsed())
	}
}

// pool opens the database named by --database_url. The second return is false when none is configured.
func (c *cli) pool(ctx context.Context) (*pgxpool.Pool, bool, error) {
	dsn := c.v.GetString(keyDatabaseURL)
	if dsn == "" {
		return nil, false, nil
	}
	pool, err := database.NewPostgresPool(ctx, dsn, c.logger)
	if err != nil {
		return nil, true, err
	}
	return pool, true, nil
}

func (c *cli) requirePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, ok, err := c.pool(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s is not set", strings.ToUpper(keyDatabaseURL))
	}
	return pool, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
