package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillpolicy/quill/internal/core/reload"
)

var parseCmd = &cobra.Command{
	Use:           "parse <policy.quill>",
	Short:         "Check a policy file for syntax and arity errors",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := reload.LoadPolicyFile(args[0], nil)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d predicates\n", reg.Predicates())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
