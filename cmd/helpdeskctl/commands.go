package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aura-helpdesk/backend/internal/companies"
	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/idgen"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/internal/teams"
	"github.com/aura-helpdesk/backend/internal/tickets"
	"github.com/aura-helpdesk/backend/pkg/database"
	"github.com/aura-helpdesk/backend/pkg/queue"
	"github.com/aura-helpdesk/backend/pkg/redis"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := database.MigrationNames()
			if err != nil {
				return err
			}
			if list {
				for _, n := range names {
					fmt.Fprintln(c.out, n)
				}
				return nil
			}
			ctx := cmd.Context()
			pool, err := c.requirePool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "applied %d migration(s)\n", len(names))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print migration names without applying them")
	return cmd
}

func (c *cli) resolver() *domains.Resolver {
	return domains.NewResolver(domains.ResolverConfig{
		Endpoint: c.v.GetString(keyResolverURL),
		Timeout:  c.v.GetDuration(keyDNSTimeout),
	}, c.logger)
}

func newCheckDomainCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check-domain <email>",
		Short: "Show the domain, MX status and matching company for an email",
		Long:  "Without a database only the domain and MX status are reported.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, ok, err := c.pool(ctx)
			if err != nil {
				return err
			}
			if !ok {
				domain, valid := domains.ExtractDomain(args[0])
				if !valid {
					return onboarding.ErrInvalidEmail
				}
				return c.printJSON(onboarding.DomainCheck{
					Email:   strings.TrimSpace(args[0]),
					Domain:  domain,
					MXValid: c.resolver().HasMailExchanger(ctx, domain),
				})
			}
			defer pool.Close()
			// Check only reads, so the user store is never touched.
			orch := onboarding.New(companies.NewRepository(pool), nil, c.resolver(), onboarding.Options{}, c.logger)
			out, err := orch.Check(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printJSON(out)
		},
	}
}

func newGenIDCmd(c *cli) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:       "gen-id <COMP|TEAM|TKT>",
		Short:     "Generate identifiers",
		Long:      "With a database configured the ids are checked against the owning table.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{idgen.PrefixCompany, idgen.PrefixTeam, idgen.PrefixTicket},
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			ctx := cmd.Context()
			prefix := strings.ToUpper(args[0])
			pool, ok, err := c.pool(ctx)
			if err != nil {
				return err
			}
			var checker idgen.Checker = idgen.CheckerFunc(func(context.Context, string) (bool, error) { return false, nil })
			if ok {
				defer pool.Close()
			}
			switch prefix {
			case idgen.PrefixCompany:
				if ok {
					checker = companies.NewRepository(pool)
				}
			case idgen.PrefixTeam:
				if ok {
					checker = teams.NewRepository(pool)
				}
			case idgen.PrefixTicket:
				if ok {
					checker = tickets.NewRepository(pool)
				}
			default:
				return fmt.Errorf("unknown prefix %q, want COMP, TEAM or TKT", args[0])
			}
			g := idgen.New(prefix, checker)
			for i := 0; i < count; i++ {
				id, err := g.Generate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, id)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids to generate")
	return cmd
}

func newCompanyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Inspect and manage companies",
	}
	show := &cobra.Command{
		Use:   "show <company-id>",
		Short: "Print a company with its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := c.requirePool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			company, err := companies.NewRepository(pool).FindByID(ctx, args[0])
			if err != nil {
				return err
			}
			if company == nil {
				return fmt.Errorf("company %s: %w", args[0], database.ErrNotFound)
			}
			return c.printJSON(company)
		},
	}
	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <company-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				pool, err := c.requirePool(ctx)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := companies.NewRepository(pool).SetActive(ctx, args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%s: active=%t\n", args[0], active)
				return nil
			},
		}
	}
	cmd.AddCommand(
		show,
		setActive("deactivate", "Deactivate a company and release its domain", false),
		setActive("activate", "Reactivate a company; fails if its domain was claimed meanwhile", true),
	)
	return cmd
}

func newQueueCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the affiliation retry queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print queued and dead-lettered job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := c.v.GetString(keyRedisAddr)
			if addr == "" {
				return errors.New("REDIS_ADDR is not set")
			}
			ctx := cmd.Context()
			rdb, err := redis.NewClient(ctx, addr, "", 0, c.logger)
			if err != nil {
				return err
			}
			defer rdb.Close()
			queued, dead, err := queue.NewQueue(rdb.Client, c.logger).Pending(ctx)
			if err != nil {
				return err
			}
			return c.printJSON(map[string]int64{"queued": queued, "dead": dead})
		},
	})
	return cmd
}
