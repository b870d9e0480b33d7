package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/application"
	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/config"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/logger"
)

const appName = "ccapis"

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Anthropic-compatible API proxy over Claude.ai browser sessions",
		Long: `ccapis serves the Anthropic Messages API on top of a pool of Claude.ai
browser-session credentials. Credentials live in a watched accounts.yaml;
edits are picked up without a restart.

CCAPIS_* environment variables override settings.yaml values.`,
		RunE:         runServe,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("settings", "s", "", "path to settings.yaml (default: config home)")
	rootCmd.Flags().IntP("port", "p", 0, "listen port (overrides settings)")
	// Accepted for compatibility with the tray build; this binary has no tray.
	rootCmd.Flags().Bool("no-tray", false, "run without a system tray icon")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, application.Version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Validate settings and credentials offline",
		Long:  "Checks settings.yaml and accounts.yaml for problems without calling upstream.",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── Serve (default) ───

func runServe(cmd *cobra.Command, args []string) error {
	settingsPath, _ := cmd.Flags().GetString("settings")
	cfg, err := config.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File: logger.FileConfig{
			Enabled:    cfg.Log.File.Enabled,
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting ccapis", zap.String("version", application.Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	return nil
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ %s doctor v%s\n\n", appName, application.Version)

	settingsPath, _ := cmd.Flags().GetString("settings")

	cfg, err := config.Load(settingsPath)
	if err != nil {
		printCheck(false, "settings", err.Error())
		fmt.Println("\nFix the settings file and re-run.")
		os.Exit(1)
	}
	shown := settingsPath
	if shown == "" {
		shown = filepath.Join(config.HomeDir(), "settings.yaml")
	}
	printCheck(true, "settings", shown)
	printCheck(true, "listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	hadError := false
	hadFindings := false
	pool, err := config.LoadAccounts(cfg.CredentialsFile)
	if err != nil {
		printCheck(false, "credentials", err.Error())
		hadError = true
	} else {
		printCheck(true, "credentials",
			fmt.Sprintf("%d account(s), %d active (%s)", pool.Len(), len(pool.Active()), cfg.CredentialsFile))
		findings := credentialFindings(pool)
		for _, f := range findings {
			fmt.Printf("      - %s\n", f)
		}
		hadFindings = len(findings) > 0
	}

	if cfg.ConversationLog.Enabled {
		printCheck(true, "conversation log", cfg.ConversationLog.Dir)
	} else {
		printCheck(true, "conversation log", "disabled")
	}

	fmt.Println()
	switch {
	case hadError:
		fmt.Println("Problems found, see marks above")
		os.Exit(1)
	case hadFindings:
		fmt.Println("Configuration loads, but see the findings above")
	default:
		fmt.Println("All checks passed ✓")
	}
	return nil
}

// credentialFindings inspects active credentials for configuration problems
// the server would only surface at request time.
func credentialFindings(pool *entity.CredentialPool) []string {
	var findings []string
	active := pool.Active()
	if len(active) == 0 {
		findings = append(findings, "no active credentials; the proxy will reject every request")
	}
	for _, cred := range active {
		if cred.OrgID() == "" {
			findings = append(findings, fmt.Sprintf("credential %q: org_id is empty, upstream calls will fail", cred.ID()))
		}
		if cred.SessionKey() == "sk-ses-replace-me" {
			findings = append(findings, fmt.Sprintf("credential %q: session_key is the bootstrap placeholder", cred.ID()))
		}
	}
	return findings
}

func printCheck(ok bool, name, detail string) {
	icon := "\033[92m✓\033[0m"
	if !ok {
		icon = "\033[91m✗\033[0m"
	}
	fmt.Printf("  %s %s: %s\n", icon, name, detail)
}
