package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"clipforge/internal/adapter/repo"
	"clipforge/internal/credential"
	"clipforge/internal/infra"
	"clipforge/internal/providers/generation"
)

// credctl is the operator tool for the credential pool: add a key, activate
// or retire one, and force a balance sync.
func main() {
	var (
		addSecret  string
		label      string
		dailyLimit int
		activateID string
		retireID   string
		syncID     string
		syncAll    bool
	)
	flag.StringVar(&addSecret, "add", "", "register a new provider API key")
	flag.StringVar(&label, "label", "", "label for the new key")
	flag.IntVar(&dailyLimit, "daily-limit", 0, "optional daily-use cap for the new key (0 = unlimited)")
	flag.StringVar(&activateID, "activate", "", "credential id to activate")
	flag.StringVar(&retireID, "retire", "", "credential id to deactivate")
	flag.StringVar(&syncID, "sync", "", "credential id to sync balance for")
	flag.BoolVar(&syncAll, "sync-all", false, "sync balances for all credentials")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "credctl").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	provider, err := generation.NewHTTPClient(generation.Options{BaseURL: cfg.ProviderBaseURL, Logger: &logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider: %v\n", err)
		os.Exit(1)
	}

	pool := credential.NewPool(repo.NewCredentialRepository(dbpool), provider, logger)

	switch {
	case strings.TrimSpace(addSecret) != "":
		var limit *int
		if dailyLimit > 0 {
			limit = &dailyLimit
		}
		cred, err := pool.Add(ctx, strings.TrimSpace(addSecret), label, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "add credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credential %s added with %d credits\n", cred.ID, cred.RemainingCredits)
	case activateID != "":
		if err := pool.SetActive(ctx, activateID, true); err != nil {
			fmt.Fprintf(os.Stderr, "activate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credential %s activated\n", activateID)
	case retireID != "":
		if err := pool.SetActive(ctx, retireID, false); err != nil {
			fmt.Fprintf(os.Stderr, "retire: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credential %s deactivated\n", retireID)
	case syncID != "":
		balance, err := pool.SyncBalance(ctx, syncID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sync: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credential %s balance: %d credits\n", syncID, balance)
	case syncAll:
		report, err := pool.SyncAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sync all: %v\n", err)
			os.Exit(1)
		}
		for _, d := range report.Details {
			if d.Error != "" {
				fmt.Printf("%s (%s): sync failed: %s\n", d.CredentialID, d.Label, d.Error)
				continue
			}
			fmt.Printf("%s (%s): %d credits\n", d.CredentialID, d.Label, d.Balance)
		}
		fmt.Printf("synced %d, failed %d\n", report.Synced, report.Failed)
	default:
		flag.Usage()
		os.Exit(2)
	}
}
