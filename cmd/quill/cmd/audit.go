package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillpolicy/quill/internal/core/db"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recorded authorization decisions",
	Long: `Lists the most recent decisions from the audit database, newest
first, followed by totals. Requires --db-url (or engine.database_url).`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAudit,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum decisions to list")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("audit requires --db-url or engine.database_url")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	store, err := db.NewDecisionStore(conn)
	if err != nil {
		return err
	}

	decisions, err := store.List(auditLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, d := range decisions {
		verdict := "DENY"
		if d.Allowed {
			verdict = "ALLOW"
		}
		fmt.Fprintf(out, "%s  %-5s  %s%s  rules=%d  %dus\n",
			d.CreatedAt.Format("2006-01-02 15:04:05"),
			verdict, d.Predicate, d.Args, d.MatchedRules, d.DurationUs)
	}

	total, denied, err := store.Counts()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d decisions, %d denied\n", total, denied)
	return nil
}
