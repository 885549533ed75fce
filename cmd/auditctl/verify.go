package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storeops/auditchain/internal/audit"
)

func newVerifyChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-chain <object_type> <object_id>",
		Short: "Verify chain integrity for one object",
		Long:  "Replays the audit chains for one object, recomputing every hash. Exits non-zero on any integrity failure.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyChain(cmd, args[0], args[1])
		},
	}
}

func runVerifyChain(cmd *cobra.Command, objectType, objectID string) error {
	verifier, cleanup, err := buildVerifier(false)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := verifier.VerifyChain(cmd.Context(), objectType, objectID)
	if err != nil {
		return fmt.Errorf("verifying chain: %w", err)
	}

	if !result.OK {
		f := result.Failure
		fmt.Printf("FAIL %s/%s: %s at entry %d", objectType, objectID, f.Code, f.EntryID)
		if f.Expected != "" || f.Actual != "" {
			fmt.Printf(" (expected %q, actual %q)", f.Expected, f.Actual)
		}
		fmt.Println()
		return fmt.Errorf("audit chain verification failed")
	}

	fmt.Printf("OK %s/%s: %d entries checked", objectType, objectID, result.Checked)
	if len(result.Modules) > 0 {
		parts := make([]string, 0, len(result.Modules))
		for _, module := range audit.ChainedModuleNames() {
			if count, ok := result.Modules[module]; ok {
				parts = append(parts, fmt.Sprintf("%s=%d", module, count))
			}
		}
		fmt.Printf(" (%s)", strings.Join(parts, ", "))
	}
	fmt.Println()
	return nil
}

func newVerifyChainsBatchCmd() *cobra.Command {
	var (
		hours             int
		limit             int
		modules           []string
		objectType        string
		skipSequenceCheck bool
		failFast          bool
	)

	cmd := &cobra.Command{
		Use:   "verify-chains-batch",
		Short: "Verify all chains with recent activity",
		Long:  "Verifies every object with chained audit activity in the trailing time window, up to the object limit. Prints a summary; with --fail-fast the exit code reflects any failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyChainsBatch(cmd, batchFlags{
				hours:             hours,
				limit:             limit,
				modules:           modules,
				objectType:        objectType,
				skipSequenceCheck: skipSequenceCheck,
				failFast:          failFast,
			})
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Trailing time window in hours")
	cmd.Flags().IntVar(&limit, "limit", 300, "Maximum distinct objects to verify")
	cmd.Flags().StringSliceVar(&modules, "modules", audit.ChainedModuleNames(), "Modules to verify")
	cmd.Flags().StringVar(&objectType, "object-type", "", "Restrict the scan to one object type")
	cmd.Flags().BoolVar(&skipSequenceCheck, "skip-sequence-check", false, "Skip the contract action-sequence completeness check")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Exit non-zero when any verification fails")

	return cmd
}

type batchFlags struct {
	hours             int
	limit             int
	modules           []string
	objectType        string
	skipSequenceCheck bool
	failFast          bool
}

func runVerifyChainsBatch(cmd *cobra.Command, flags batchFlags) error {
	verifier, cleanup, err := buildVerifier(!flags.skipSequenceCheck)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := verifier.VerifyChainsBatch(cmd.Context(), audit.BatchOptions{
		Modules:              flags.modules,
		Hours:                flags.hours,
		Limit:                flags.limit,
		ObjectType:           flags.objectType,
		IncludeSequenceCheck: !flags.skipSequenceCheck,
	})
	if err != nil {
		return fmt.Errorf("verifying chains: %w", err)
	}

	fmt.Printf("checked=%d chain_failures=%d sequence_failures=%d\n",
		result.CheckedObjects, result.FailureCount, result.SequenceFailureCount)

	if result.OK {
		fmt.Println("audit chain batch verification OK")
		return nil
	}

	for _, failure := range result.Failures {
		if failure.Error != "" {
			fmt.Printf("  %s/%s: error: %s\n", failure.ObjectType, failure.ObjectID, failure.Error)
			continue
		}
		f := failure.Detail.Failure
		fmt.Printf("  %s/%s: %s at entry %d\n", failure.ObjectType, failure.ObjectID, f.Code, f.EntryID)
	}
	for _, seq := range result.SequenceFailures {
		if seq.Error != "" {
			fmt.Printf("  contract/%s: %s\n", seq.ObjectID, seq.Error)
			continue
		}
		fmt.Printf("  contract/%s: status=%s missing=%s\n",
			seq.ObjectID, seq.Status, strings.Join(seq.MissingActions, ","))
	}

	if flags.failFast {
		return fmt.Errorf("audit chain batch verification failed")
	}
	return nil
}
