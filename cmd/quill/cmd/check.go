package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillpolicy/quill/internal/core/db"
	"github.com/quillpolicy/quill/internal/core/reload"
	"github.com/quillpolicy/quill/internal/eval"
	"github.com/quillpolicy/quill/internal/host"
	"github.com/quillpolicy/quill/internal/parser"
	"github.com/quillpolicy/quill/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check <policy.quill> <query>",
	Short: "Evaluate a single query against a policy",
	Long: `Evaluates one query and exits 0 when allowed, 1 when denied.

Query arguments that name a registered instance handle (from --lattice) are
passed as that instance; everything else follows the policy term syntax:

  quill check policy.quill 'allow("alice", "GET", "/reports/1")'
  quill check --lattice app.yaml policy.quill 'allow(sue, "read", rep1)'`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	logger, err := cfg.BuildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg, err := reload.LoadPolicyFile(args[0], logger)
	if err != nil {
		logger.Error("policy load failed", zap.Error(err))
		return err
	}

	var lattice *host.Lattice
	if cfg.LatticePath != "" {
		lattice, err = host.LoadLatticeFile(cfg.LatticePath, cfg.SubtypeCacheSize)
		if err != nil {
			logger.Error("lattice load failed", zap.Error(err))
			return err
		}
	}

	name, queryArgs, err := parser.ParseQuery(args[1])
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	queryArgs = resolveHandles(queryArgs, lattice)

	var evaluator *eval.Evaluator
	if lattice != nil {
		evaluator = eval.New(reg, lattice, logger)
	} else {
		evaluator = eval.New(reg, nil, logger)
	}

	start := time.Now()
	allowed, tried, err := evaluator.QueryStats(name, queryArgs)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("query failed", zap.Error(err))
		return err
	}

	if cfg.DatabaseURL != "" {
		if err := recordDecision(cfg.DatabaseURL, name, queryArgs, allowed, tried, elapsed); err != nil {
			logger.Warn("failed to record decision", zap.Error(err))
		}
	}

	if allowed {
		fmt.Fprintln(cmd.OutOrStdout(), "ALLOW")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "DENY")
	return fmt.Errorf("denied")
}

// resolveHandles substitutes variables naming registered instances with
// their instance terms, so queries can say `allow(sue, ...)`.
func resolveHandles(args []*types.Term, lattice *host.Lattice) []*types.Term {
	if lattice == nil {
		return args
	}
	out := make([]*types.Term, len(args))
	for i, a := range args {
		if a.Kind == types.KindVariable {
			if inst, ok := lattice.InstanceTerm(a.Name); ok {
				out[i] = inst
				continue
			}
		}
		out[i] = a
	}
	return out
}

func recordDecision(dbURL, predicate string, args []*types.Term, allowed bool, matched int, elapsed time.Duration) error {
	conn, err := db.Open(dbURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	store, err := db.NewDecisionStore(conn)
	if err != nil {
		return err
	}
	_, err = store.Record(predicate, args, allowed, matched, elapsed)
	return err
}
