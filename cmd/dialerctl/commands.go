package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"donor-dialer/internal/app"
	"donor-dialer/internal/auth"
	"donor-dialer/internal/config"
	"donor-dialer/internal/rbac"
	"donor-dialer/internal/reporting"
	"donor-dialer/internal/storage/migrate"
	"donor-dialer/pkg/utils"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func migrateCmd() *cobra.Command {
	m := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	m.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrate.Up(ctx, db)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"applied": applied})
			}
			if len(applied) == 0 {
				fmt.Println("schema up to date")
				return nil
			}
			fmt.Println("applied:", strings.Join(applied, ", "))
			return nil
		},
	})
	return m
}

func dispatchCmd() *cobra.Command {
	d := &cobra.Command{Use: "dispatch", Short: "Campaign dispatch"}
	d.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one dispatch tick now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum := a.Runner.RunDispatch(ctx, operator())
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				renderKV(os.Stdout, "Dispatch "+sum.RunID, [][2]any{
					{"Dispatched", sum.Dispatched},
					{"Skipped", sum.Skipped},
					{"Errored", sum.Errored},
					{"Transient failures", sum.TransientFailures},
					{"Permanent failures", sum.PermanentFailures},
					{"Campaigns seen", sum.CampaignsSeen},
					{"Campaigns skipped", sum.CampaignsSkipped},
					{"Partial", sum.Partial},
				})
				return nil
			})
		},
	})
	return d
}

func syncCmd() *cobra.Command {
	s := &cobra.Command{Use: "sync", Short: "Conversation reconciliation"}
	s.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Reconcile open conversations with the voice platform now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.RunSync(ctx, operator())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderKV(os.Stdout, "Sync "+res.RunID, [][2]any{
					{"Scanned", res.Scanned},
					{"Synced", res.Synced},
					{"Events appended", res.Appended},
					{"Outcomes changed", res.OutcomesChanged},
					{"Completed", res.Completed},
					{"Failed", res.Failed},
					{"Timed out", res.TimedOut},
					{"Errored", res.Errored},
					{"Partial", res.Partial},
				})
				return nil
			})
		},
	})
	return s
}

func reportCmd() *cobra.Command {
	var req reporting.CampaignSummaryRequest
	var from, to string
	r := &cobra.Command{Use: "report", Short: "Reporting"}
	campaign := &cobra.Command{
		Use:   "campaign",
		Short: "Summarize one campaign's conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.BusinessID == "" || req.CampaignID == "" {
				return fmt.Errorf("--business and --campaign required")
			}
			var err error
			if req.Range.From, err = parseDay(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if req.Range.To, err = parseDay(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Reports.CampaignSummary(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				renderSummary(os.Stdout, sum)
				return nil
			})
		},
	}
	campaign.Flags().StringVar(&req.BusinessID, "business", "", "business id")
	campaign.Flags().StringVar(&req.CampaignID, "campaign", "", "campaign id")
	campaign.Flags().StringVar(&from, "from", "", "start (YYYY-MM-DD or RFC 3339), inclusive")
	campaign.Flags().StringVar(&to, "to", "", "end (YYYY-MM-DD or RFC 3339), exclusive")
	r.AddCommand(campaign)
	return r
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func tokenCmd() *cobra.Command {
	var subject, role, business string
	var ttl time.Duration
	t := &cobra.Command{Use: "token", Short: "Access tokens"}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token",
		Long: `Issue an access token signed with JWT_SECRET.
Without --business the token is a platform token and --role must be admin or service.
With --business a business-scoped access/refresh pair is issued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ac config.AuthConfig
			if err := env.Parse(&ac); err != nil {
				return err
			}
			if ac.AccessTokenTTL <= 0 {
				ac.AccessTokenTTL = 15 * time.Minute
			}
			if ac.RefreshTokenTTL <= 0 {
				ac.RefreshTokenTTL = 30 * 24 * time.Hour
			}
			m, err := auth.NewManager(ac)
			if err != nil {
				return err
			}
			out, err := issueToken(m, time.Now(), subject, role, business, ttl)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "user or service id")
	issue.Flags().StringVar(&role, "role", rbac.RoleService, "role claim")
	issue.Flags().StringVar(&business, "business", "", "business id (omit for platform tokens)")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "platform token lifetime")
	t.AddCommand(issue)
	return t
}

func issueToken(m *auth.Manager, now time.Time, subject, role, business string, ttl time.Duration) (map[string]string, error) {
	if subject == "" {
		return nil, fmt.Errorf("--subject required")
	}
	if business == "" {
		if !rbac.IsPlatformRole(role) {
			return nil, fmt.Errorf("platform tokens need role %s or %s, got %q", rbac.RoleAdmin, rbac.RoleService, role)
		}
		tok, err := m.IssuePlatformToken(now, subject, role, ttl)
		if err != nil {
			return nil, err
		}
		return map[string]string{"access_token": tok}, nil
	}
	if rbac.IsPlatformRole(role) {
		return nil, fmt.Errorf("role %q cannot be bound to a business", role)
	}
	pair, err := m.IssuePair(now, subject, business, role)
	if err != nil {
		return nil, err
	}
	return map[string]string{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken}, nil
}

func outcomeCmd() *cobra.Command {
	var file string
	o := &cobra.Command{Use: "outcome", Short: "Outcome inference"}
	infer := &cobra.Command{
		Use:   "infer",
		Short: "Classify a JSON array of conversation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := inferEvents(f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			renderInference(os.Stdout, res)
			return nil
		},
	}
	infer.Flags().StringVar(&file, "file", "", "path to events JSON")
	o.AddCommand(infer)
	return o
}
