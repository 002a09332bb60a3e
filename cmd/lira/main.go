package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lit-agent/internal/research"
	"lit-agent/internal/tui"
)

const version = "0.3.0"

func dataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".lira"
	}
	return filepath.Join(base, "lira")
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func openStore(path string) (research.Store, error) {
	if path == "" {
		path = filepath.Join(dataDir(), "lira.db")
	}
	return research.NewSQLiteStore(path)
}

func main() {
	root := &cobra.Command{
		Use:     "lira",
		Short:   "lira - recursive literature research sessions",
		Long:    "lira runs multi-branch literature-research sessions: branches search papers,\nsummarize them under a groundedness gate, and spawn hypothesis branches\nfrom accumulated evidence.",
		Version: version,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "profile config file (YAML)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "sqlite database path")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run a research session",
		Long:  "Run a research query through the branch orchestrator.\n\nExamples:\n  - lira run \"transformer attention mechanisms\"\n  - lira run \"LLM reasoning\" --profile accurate --iterations 5\n  - lira run \"sparse retrieval\" --stop-on-hypotheses 3 --watch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			log := newLogger(flagVerbose)
			cfg, err := research.LoadConfig(flagConfig)
			if err != nil {
				return err
			}
			if flagIterations > 0 {
				cfg.Research.MaxIterations = flagIterations
			}
			if flagStopOnHyps > 0 {
				cfg.Research.StopOnHypotheses = flagStopOnHyps
			}

			gateway, err := cfg.BuildGateway(flagProfile, log)
			if err != nil {
				return err
			}
			store, err := openStore(flagDB)
			if err != nil {
				return err
			}
			defer store.Close()

			events := research.NewEventLog(store, log)

			var drafter research.Drafter = research.FixtureDrafter{}
			if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
				drafter = research.NewLLMDrafter(key, os.Getenv("OPENROUTER_MODEL"), "")
			}

			orch := research.NewOrchestrator(
				store, events, gateway, research.NewBudgetTracker(),
				&research.FixtureSource{}, drafter, cfg.Research, log,
			)

			query := args[0]
			fmt.Printf("Research query: %s\n", query)
			start := time.Now()

			sess, err := orch.RunSession(ctx, query)
			if err != nil {
				return err
			}
			if flagWatch {
				if err := printEvents(events, sess.ID); err != nil {
					return err
				}
			}

			report, err := research.BuildReport(store, sess.ID)
			if err != nil {
				return err
			}
			fmt.Printf("\nSession %s %s in %v\n", sess.ID, sess.Status, time.Since(start).Round(time.Millisecond))
			printReport(report)

			hyps, err := store.TopHypotheses(sess.ID, 5, cfg.Research.MinHypConfidence)
			if err != nil {
				return err
			}
			if len(hyps) > 0 {
				fmt.Printf("\nTop hypotheses:\n")
				for i, h := range hyps {
					fmt.Printf("%d. [%.0f%%] %s\n", i+1, h.Confidence*100, h.Text)
					fmt.Printf("   supporting papers: %d\n", len(h.PaperIDs))
				}
			}
			return nil
		},
	}
	runCmd.Flags().StringVarP(&flagProfile, "profile", "p", "", "backend profile (fast|accurate|test|distributed)")
	runCmd.Flags().IntVarP(&flagIterations, "iterations", "i", 0, "maximum iterations per branch")
	runCmd.Flags().IntVarP(&flagStopOnHyps, "stop-on-hypotheses", "s", 0, "stop once this many hypotheses are accepted (0=disabled)")
	runCmd.Flags().BoolVar(&flagWatch, "watch", false, "print the event feed after the run")
	root.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show a session's aggregate progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flagDB)
			if err != nil {
				return err
			}
			defer store.Close()
			report, err := research.BuildReport(store, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s (%s)\nQuery: %s\n", report.Session.ID, report.Session.Status, report.Session.Query)
			printReport(report)
			return nil
		},
	}
	root.AddCommand(statusCmd)

	eventsCmd := &cobra.Command{
		Use:   "events [session-id]",
		Short: "Show a session's ordered event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flagDB)
			if err != nil {
				return err
			}
			defer store.Close()
			events := research.NewEventLog(store, newLogger(flagVerbose))
			if flagFollow {
				return tui.Run(events, args[0])
			}
			return printEvents(events, args[0])
		},
	}
	eventsCmd.Flags().BoolVarP(&flagFollow, "follow", "f", false, "follow the feed live")
	root.AddCommand(eventsCmd)

	hypsCmd := &cobra.Command{
		Use:   "hypotheses [session-id]",
		Short: "Show top hypotheses by confidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(flagDB)
			if err != nil {
				return err
			}
			defer store.Close()
			hyps, err := store.TopHypotheses(args[0], flagTopN, flagMinConf)
			if err != nil {
				return err
			}
			for i, h := range hyps {
				fmt.Printf("%d. [%.0f%%] %s\n", i+1, h.Confidence*100, h.Text)
			}
			return nil
		},
	}
	hypsCmd.Flags().IntVarP(&flagTopN, "top", "n", 5, "number of hypotheses")
	hypsCmd.Flags().Float64Var(&flagMinConf, "min-confidence", 0.3, "minimum confidence")
	root.AddCommand(hypsCmd)

	root.AddCommand(scorerCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printReport(r *research.SessionReport) {
	fmt.Printf("Branches: %d (%d active)\n", r.TotalBranches, r.ActiveBranches)
	fmt.Printf("Papers: %d\n", r.TotalPapers)
	fmt.Printf("Validated summaries: %d\n", r.TotalSummaries)
	fmt.Printf("Hypotheses: %d\n", r.TotalHypotheses)
	fmt.Printf("Context tokens used: %d\n", r.ContextUsed)
}

func printEvents(events *research.EventLog, sessionID string) error {
	evs, err := events.EventsSince(sessionID, 0)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		fmt.Printf("%5d %-22s %s\n", ev.Seq, ev.Type, ev.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

var (
	flagConfig     string
	flagDB         string
	flagVerbose    bool
	flagProfile    string
	flagIterations int
	flagStopOnHyps int
	flagWatch      bool
	flagFollow     bool
	flagTopN       int
	flagMinConf    float64
)
