// Command dialerctl is the operator CLI: migrations, manual runs, reports,
// tokens and offline outcome inference.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"donor-dialer/internal/app"
	"donor-dialer/internal/config"
	"donor-dialer/internal/secrets"
	"donor-dialer/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dialerctl",
	Short: "Donor dialer operator CLI",
	Long: `dialerctl operates the donor dialer.
- migrate up: apply the embedded Postgres schema.
- dispatch run / sync run: run one scheduler or reconciliation pass now.
- report campaign: per-campaign conversation and outcome breakdown.
- token issue: mint operator, service or business tokens.
- outcome infer: classify an exported event log without touching the database.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := viper.GetString("env-file")
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	viper.SetEnvPrefix("DIALERCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "dialerctl", "operator identifier recorded on run audits")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file to load before reading config")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("env-file", rootCmd.PersistentFlags().Lookup("env-file"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(outcomeCmd())
}

func loadConfig(ctx context.Context) (config.Config, error) {
	src, err := secrets.FromEnv(ctx)
	if err != nil {
		return config.Config{}, err
	}
	return config.LoadWithSecrets(ctx, src)
}

// withApp builds the full service graph for one command and tears it down.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(cfg.App.Env, os.Stderr).With("component", "dialerctl")
	ctx = logger.With(ctx, log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func operator() app.Actor {
	return app.Actor{UserID: viper.GetString("actor-id"), Role: "admin"}
}
