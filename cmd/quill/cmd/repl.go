package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillpolicy/quill/internal/core/reload"
	"github.com/quillpolicy/quill/internal/eval"
	"github.com/quillpolicy/quill/internal/host"
	"github.com/quillpolicy/quill/internal/parser"
)

var watchPolicy bool

var replCmd = &cobra.Command{
	Use:   "repl <policy.quill>",
	Short: "Interactively query a policy",
	Long: `Reads one query per line and prints true or false. With --watch the
policy file is reloaded on change; queries always run against the latest
successfully parsed version.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRepl,
}

func init() {
	replCmd.Flags().BoolVar(&watchPolicy, "watch", false, "reload the policy file on change")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
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
		return err
	}
	store := reload.NewStore(reg)

	if watchPolicy || cfg.WatchPolicy {
		w, err := reload.NewWatcher(args[0], store, logger)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	var lattice *host.Lattice
	if cfg.LatticePath != "" {
		lattice, err = host.LoadLatticeFile(cfg.LatticePath, cfg.SubtypeCacheSize)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "quill repl; enter queries, or \"exit\" to quit")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "?- ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		name, queryArgs, err := parser.ParseQuery(strings.TrimSuffix(line, ";"))
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		queryArgs = resolveHandles(queryArgs, lattice)

		var evaluator *eval.Evaluator
		if lattice != nil {
			evaluator = eval.New(store.Registry(), lattice, logger)
		} else {
			evaluator = eval.New(store.Registry(), nil, logger)
		}
		allowed, err := evaluator.Query(name, queryArgs)
		if err != nil {
			logger.Warn("query failed", zap.String("query", line), zap.Error(err))
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, allowed)
	}
}
