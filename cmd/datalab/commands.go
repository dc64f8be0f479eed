package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/datalab-sh/datalab/internal/catalog"
	"github.com/datalab-sh/datalab/internal/config"
	"github.com/datalab-sh/datalab/internal/llm"
	"github.com/datalab-sh/datalab/internal/run"
	"github.com/datalab-sh/datalab/internal/runtime"
	"github.com/datalab-sh/datalab/internal/tools"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagRunsDir != "" {
		cfg.RunsRoot = flagRunsDir
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runLogger fans out to stderr and the run's debug.log, so a run directory
// is self-describing even when stderr scrolls away.
func runLogger(r *run.Run) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	stderrH := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	f, err := os.OpenFile(r.Path("debug.log"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening debug log: %w", err)
	}
	fileH := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})

	log := slog.New(slogmulti.Fanout(stderrH, fileH))
	return log, func() { f.Close() }, nil
}

func newRunCmd() *cobra.Command {
	var prompt string
	var maxTurns int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "execute one agent run for a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			r, err := run.New(cfg.RunsRoot)
			if err != nil {
				return err
			}
			log, closeLog, err := runLogger(r)
			if err != nil {
				return err
			}
			defer closeLog()

			reg, err := catalog.OpenRegistry(cfg.CatalogPath)
			if err != nil {
				return err
			}
			defer reg.Close()

			shell := tools.NewShellRunner(log)
			shell.Shell = cfg.Shell
			shell.DefaultTimeout = time.Duration(cfg.ShellTimeout) * time.Second
			shell.MaxOutput = cfg.MaxOutput

			cells := tools.NewCellRunner(cfg.Interpreter, cfg.CellExt, log)
			cells.MaxOutput = cfg.MaxOutput

			loop := &runtime.Loop{
				Client:       llm.New(llm.Options{Model: cfg.Model, APIKey: cfg.APIKey, APIBase: cfg.APIBase, RelayURL: cfg.RelayURL, AppToken: cfg.AppToken}),
				Cells:        cells,
				Shell:        shell,
				Catalog:      reg,
				Log:          log,
				LogDecisions: cfg.LogDecisions,
				DumpContext:  cfg.DumpContext,
			}
			if maxTurns == 0 {
				maxTurns = cfg.MaxTurns
			}

			res, err := loop.Run(ctx, r, prompt, maxTurns)
			if err != nil {
				return fmt.Errorf("run %s: %w", r.ID, err)
			}
			switch {
			case res.NeedsInput:
				fmt.Printf("Question: %s\n", res.Output)
			case res.Output == "":
				fmt.Printf("No answer within %d turns.\n", res.TurnsUsed)
			default:
				fmt.Println(res.Output)
			}
			fmt.Fprintf(os.Stderr, "run %s (%d turns): %s\n", r.ID, res.TurnsUsed, r.Dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "analysis request (required)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "turn budget (default from config)")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var sqlText string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "run SQL and materialize the last SELECT to result.parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := run.New(cfg.RunsRoot)
			if err != nil {
				return err
			}

			out := tools.RunSQL(r, sqlText)
			if err := r.SaveOutcome("sql", out); err != nil {
				return err
			}
			if !out.OK {
				return fmt.Errorf("%s", out.Message)
			}
			if out.Table != nil {
				printTable(out.Table)
				fmt.Fprintf(os.Stderr, "full result: %s\n", out.Table.Path)
			} else {
				fmt.Println(out.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sqlText, "sql", "s", "", "SQL statements, semicolon separated (required)")
	cmd.MarkFlagRequired("sql")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var path, name string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "load a CSV into the dataset catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			reg, err := catalog.OpenRegistry(cfg.CatalogPath)
			if err != nil {
				return err
			}
			defer reg.Close()

			ds, err := reg.Ingest(ctx, path, name)
			if err != nil {
				return err
			}
			fmt.Printf("ingested %s: %d rows, %d columns (catalog %s)\n",
				ds.Name, ds.RowCount, len(ds.Columns), reg.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "CSV file to ingest (required)")
	cmd.Flags().StringVar(&name, "name", "", "dataset name (default derived from the filename)")
	cmd.MarkFlagRequired("path")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "list recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runs, err := run.List(cfg.RunsRoot, limit)
			if err != nil {
				return err
			}
			for _, info := range runs {
				artifacts := 0
				if m, err := run.Attach(info.Dir).ReadManifest(); err == nil {
					artifacts = len(m.Artifacts)
				}
				fmt.Printf("%s  %d artifact(s)  %s\n", info.ID, artifacts, info.Dir)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	return cmd
}

// printTable renders a preview as a header line plus one JSON object per row.
func printTable(t *tools.TablePreview) {
	for i, col := range t.Schema {
		if i > 0 {
			fmt.Print("  ")
		}
		fmt.Printf("%s(%s)", col.Name, col.Type)
	}
	fmt.Println()
	for _, row := range t.Rows {
		raw, _ := json.Marshal(row)
		fmt.Println(string(raw))
	}
	fmt.Printf("%d rows shown\n", t.RowCount)
}
