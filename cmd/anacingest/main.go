// Package main contains the cli implementation of the ingestion tool. It
// uses cobra for subcommand dispatch and exits with distinct codes: 0 on
// success, 1 on fatal configuration or connection failure, 2 on a run that
// finished with some files failed.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"anacingest/internal/applog"
	"anacingest/internal/config"
	"anacingest/internal/ingest"
	"anacingest/internal/pool"
)

const exitPartial = 2

type rootFlags struct {
	configPath string
}

func main() {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "anacingest",
		Short: "JSON corpus ingestion tool",
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to an optional TOML config file")

	rootCmd.AddCommand(runCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(resetCmd(flags))
	rootCmd.AddCommand(menuCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ingest the configured JSON corpus into the relational store",
		RunE: func(_ *cobra.Command, _ []string) error {
			code, err := doRun(rf)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

func statusCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the ledger's per-file status and row counts",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doStatus(rf)
		},
	}
}

func resetCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Interactively clear ledger entries so files are re-ingested",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doReset(rf)
		},
	}
}

func menuCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Interactive menu over run/status/reset",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doMenu(rf)
		},
	}
}

// doRun loads configuration, builds a logger, runs one ingestion pass, and
// returns the process exit code alongside any fatal error.
func doRun(rf *rootFlags) (int, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return 1, fmt.Errorf("load configuration: %w", err)
	}

	logger, logFile, err := applog.New(cfg.LogPath, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return 1, fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := ingest.New(ctx, cfg, logger)
	if err != nil {
		return 1, fmt.Errorf("initialize orchestrator: %w", err)
	}
	defer func() { _ = orch.Close() }()

	result, err := orch.Run(ctx)
	if err != nil {
		return 1, fmt.Errorf("ingestion run failed: %w", err)
	}

	logger.Info("ingestion run complete",
		"run_id", result.RunID,
		"files_total", result.FilesTotal,
		"files_ok", result.FilesOK,
		"files_failed", result.FilesFailed,
	)
	if result.FilesFailed > 0 {
		fmt.Printf("completed with %d of %d files failed: %s\n",
			result.FilesFailed, result.FilesTotal, strings.Join(result.FailedFiles, ", "))
		return exitPartial, nil
	}

	fmt.Printf("ingested %d files successfully (run %s)\n", result.FilesOK, result.RunID)
	return 0, nil
}

// doStatus opens a bare connection pool (no schema realization) and prints
// the processed_files ledger plus a row count for the primary table, if it
// exists yet.
func doStatus(rf *rootFlags) error {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, logFile, err := applog.New(cfg.LogPath, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	p, err := pool.Open(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer func() { _ = p.Close() }()

	return printStatus(context.Background(), p.DB())
}

func printStatus(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		"SELECT `file_name`, `status`, `record_count`, `processed_at`, `error_message` "+
			"FROM `processed_files` ORDER BY `processed_at` DESC",
	)
	if err != nil {
		if isMissingTable(err) {
			fmt.Println("no ledger yet: the schema has not been realized by a run")
			return nil
		}
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var total, completed, failed int
	fmt.Printf("%-40s %-10s %10s %-20s %s\n", "FILE", "STATUS", "RECORDS", "PROCESSED AT", "ERROR")
	for rows.Next() {
		var (
			fileName, status string
			recordCount      int64
			processedAt      time.Time
			errMsg           sql.NullString
		)
		if err := rows.Scan(&fileName, &status, &recordCount, &processedAt, &errMsg); err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		total++
		if status == "completed" {
			completed++
		} else {
			failed++
		}
		fmt.Printf("%-40s %-10s %10d %-20s %s\n", fileName, status, recordCount, processedAt.Format(time.RFC3339), errMsg.String)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	var rowCount int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM `main_data`").Scan(&rowCount); err != nil {
		if !isMissingTable(err) {
			return fmt.Errorf("count main_data rows: %w", err)
		}
		rowCount = 0
	}

	fmt.Printf("\n%d files tracked (%d completed, %d failed), %d rows in main_data\n", total, completed, failed, rowCount)
	return nil
}

// doReset walks the ledger interactively, letting the operator clear
// individual entries (or all of them) so the corresponding files are
// re-ingested on the next run.
func doReset(rf *rootFlags) error {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, logFile, err := applog.New(cfg.LogPath, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	p, err := pool.Open(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	names, err := failedFileNames(ctx, p.DB())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no failed files in the ledger")
		return nil
	}

	fmt.Println("failed files:")
	for i, name := range names {
		fmt.Printf("  %d) %s\n", i+1, name)
	}
	fmt.Print("clear which entries? (comma-separated numbers, \"all\", or blank to cancel): ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		fmt.Println("cancelled")
		return nil
	}

	var toClear []string
	if strings.EqualFold(line, "all") {
		toClear = names
	} else {
		for _, tok := range strings.Split(line, ",") {
			idx, convErr := parseIndex(strings.TrimSpace(tok), len(names))
			if convErr != nil {
				return convErr
			}
			toClear = append(toClear, names[idx])
		}
	}

	for _, name := range toClear {
		if _, err := p.DB().ExecContext(ctx, "DELETE FROM `processed_files` WHERE `file_name` = ?", name); err != nil {
			return fmt.Errorf("clear ledger entry for %q: %w", name, err)
		}
	}
	fmt.Printf("cleared %d ledger entries\n", len(toClear))
	return nil
}

func parseIndex(tok string, count int) (int, error) {
	var n int
	if _, err := fmt.Sscanf(tok, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid selection %q", tok)
	}
	if n < 1 || n > count {
		return 0, fmt.Errorf("selection %d out of range (1-%d)", n, count)
	}
	return n - 1, nil
}

func failedFileNames(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT `file_name` FROM `processed_files` WHERE `status` = 'failed' ORDER BY `file_name`")
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query failed files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan file name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// doMenu offers a small interactive loop over the three operations above,
// for operators who would rather not remember subcommand names.
func doMenu(rf *rootFlags) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println()
		fmt.Println("1) run ingestion")
		fmt.Println("2) show status")
		fmt.Println("3) reset failed files")
		fmt.Println("4) quit")
		fmt.Print("choose an option: ")

		line, _ := reader.ReadString('\n')
		switch strings.TrimSpace(line) {
		case "1":
			if code, err := doRun(rf); err != nil {
				fmt.Fprintln(os.Stderr, err)
			} else if code == exitPartial {
				fmt.Println("run finished with some files failed")
			}
		case "2":
			if err := doStatus(rf); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case "3":
			if err := doReset(rf); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case "4", "":
			return nil
		default:
			fmt.Println("unrecognized option")
		}
	}
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "unknown table")
}
