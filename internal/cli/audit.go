package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

var (
	auditDBPath    string
	auditWorkspace string
	auditFrom      string
	auditTo        string
	exportFormat   string
	exportLimit    int
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.PersistentFlags().StringVar(&auditDBPath, "db", "kya.db", "Path to the SQLite database")
	auditCmd.PersistentFlags().StringVar(&auditWorkspace, "workspace", "", "Workspace id")
	auditCmd.PersistentFlags().StringVar(&auditFrom, "from", "", "Window start (RFC 3339)")
	auditCmd.PersistentFlags().StringVar(&auditTo, "to", "", "Window end (RFC 3339)")
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditExportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json or csv")
	auditExportCmd.Flags().IntVar(&exportLimit, "limit", 10000, "Maximum rows to export")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit chain operations",
	Long:  "Commands for verifying and exporting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity for a workspace",
	Long:  "Walks the workspace's audit events and validates that every event's\nprev_hash matches the preceding event's hash and every event_hash\nrecomputes from stored fields. Exits 0 unless the chain is broken.",
	RunE:  runAuditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit events",
	Long:  "Writes the workspace's audit events to stdout as JSON or CSV.\nThe hash pre-image field payload_hash is never exported.",
	RunE:  runAuditExport,
}

func auditWindow() (from, to *time.Time, err error) {
	if auditFrom != "" {
		t, err := time.Parse(time.RFC3339, auditFrom)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --from: %w", err)
		}
		u := t.UTC()
		from = &u
	}
	if auditTo != "" {
		t, err := time.Parse(time.RFC3339, auditTo)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --to: %w", err)
		}
		u := t.UTC()
		to = &u
	}
	return from, to, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	if auditWorkspace == "" {
		return fmt.Errorf("--workspace is required")
	}
	from, to, err := auditWindow()
	if err != nil {
		return err
	}

	st, err := store.Open(auditDBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	chain := audit.NewChain(st)
	result, err := chain.CheckIntegrity(context.Background(), st.DB(), auditWorkspace, from, to)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status == audit.StatusBroken {
		os.Exit(1)
	}
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	if auditWorkspace == "" {
		return fmt.Errorf("--workspace is required")
	}
	from, to, err := auditWindow()
	if err != nil {
		return err
	}

	st, err := store.Open(auditDBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	events, _, err := st.ListAuditEvents(context.Background(), st.DB(), store.AuditQuery{
		WorkspaceID: auditWorkspace,
		From:        from,
		To:          to,
		Limit:       exportLimit,
	})
	if err != nil {
		return err
	}

	switch exportFormat {
	case "csv":
		csvText, err := audit.BuildCSV(events)
		if err != nil {
			return err
		}
		fmt.Print(csvText)
	case "json":
		out, err := json.MarshalIndent(audit.ToExportRecords(events), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		return fmt.Errorf("unknown format %q", exportFormat)
	}
	return nil
}
