package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rcourtman/bashmate/internal/audit"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/spf13/cobra"
)

type auditOptions struct {
	db      string
	limit   int
	session string
	json    bool
}

func newAuditCmd() *cobra.Command {
	var opts auditOptions
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List commands recorded in the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.db, "db", "", "audit database (default BASHMATE_AUDIT_DB)")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "number of entries to show, newest first")
	cmd.Flags().StringVar(&opts.session, "session", "", "show every entry of one session, oldest first")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print entries as JSON")
	return cmd
}

func runAudit(cmd *cobra.Command, opts auditOptions) error {
	cfg, err := loadConfig("audit")
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	path := opts.db
	if path == "" {
		path = cfg.AuditDB
	}
	if path == "" {
		return fmt.Errorf("no audit log configured: set BASHMATE_AUDIT_DB or pass --db")
	}

	// Reading only; pruning is left to the process that writes.
	store, err := audit.Open(path, -1)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := loadEntries(cmdContext(cmd), store, opts)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	printEntries(cmd.OutOrStdout(), entries)
	return nil
}

func loadEntries(ctx context.Context, store *audit.Store, opts auditOptions) ([]audit.Entry, error) {
	if opts.session != "" {
		return store.BySession(ctx, opts.session)
	}
	return store.Recent(ctx, opts.limit)
}

func printEntries(w io.Writer, entries []audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		exit := strconv.Itoa(e.ExitCode)
		if e.Decision == audit.DecisionBlocked {
			exit = "-"
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(e.SessionID),
			e.Decision,
			exit,
			e.Duration.Round(time.Millisecond).String(),
			e.Command,
			e.Rule,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "SESSION", "DECISION", "EXIT", "DURATION", "COMMAND", "RULE").
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
