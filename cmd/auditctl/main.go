// Package main provides the entry point for the auditctl CLI, the
// operator tool for audit chain verification.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/storeops/auditchain/internal/audit"
	"github.com/storeops/auditchain/internal/config"
	"github.com/storeops/auditchain/internal/middleware"
)

var (
	version          = "0.1.0-dev"
	globalConfigPath string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Verify the integrity of the tamper-evident audit log",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&globalConfigPath, "config", "c", "", "Path to optional YAML config file")

	rootCmd.AddCommand(
		newVerifyChainCmd(),
		newVerifyChainsBatchCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}

// buildVerifier opens the database and wires a verifier against it.
// The returned cleanup closes the connection.
func buildVerifier(includeSequences bool) (*audit.Verifier, func(), error) {
	cfg, errs := config.Load(globalConfigPath)
	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration: %v", errs)
	}

	logger := middleware.NewLogger(cfg.Env)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	store := audit.NewPostgresStore(db, logger)

	verifierConfig := audit.VerifierConfig{
		Store:  store,
		Logger: logger,
	}
	if includeSequences {
		verifierConfig.Sequences = audit.NewSequenceChecker(store, audit.NewPostgresContractStates(db))
	}

	verifier, err := audit.NewVerifier(verifierConfig)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return verifier, func() { db.Close() }, nil
}
