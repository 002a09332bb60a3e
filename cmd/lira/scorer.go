package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"lit-agent/internal/research"
)

// scorerCmd manages standalone scorerd processes so the distributed profile
// has something to talk to. Handles are recorded in a JSON registry under
// the data dir; stopping uses the recorded pid.
func scorerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scorer",
		Short: "Manage standalone scoring service processes",
	}

	procStorePath := func() string {
		return filepath.Join(dataDir(), "scorers.json")
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Launch a scorerd process and record its handle",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := research.NewScorerProcStore(procStorePath())
			if err != nil {
				return err
			}
			bin := flagScorerBin
			if bin == "" {
				bin = "scorerd"
			}
			logPath := filepath.Join(dataDir(), "scorerd.log")
			proc, err := research.StartScorer(store, bin, flagScorerAddr, logPath)
			if err != nil {
				return err
			}
			fmt.Printf("started %s (pid %d) on %s\nlog: %s\n", proc.ID, proc.PID, proc.Addr, proc.LogPath)
			return nil
		},
	}
	startCmd.Flags().StringVar(&flagScorerAddr, "addr", "127.0.0.1:8791", "listen address for the scorer service")
	startCmd.Flags().StringVar(&flagScorerBin, "bin", "", "scorerd binary path (default: scorerd on PATH)")
	cmd.AddCommand(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop [id]",
		Short: "Stop a recorded scorerd process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := research.NewScorerProcStore(procStorePath())
			if err != nil {
				return err
			}
			if err := research.StopScorer(store, args[0]); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(stopCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded scorerd processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := research.NewScorerProcStore(procStorePath())
			if err != nil {
				return err
			}
			for _, proc := range store.List() {
				fmt.Printf("%s  %s  pid=%d  %s\n", proc.ID, proc.Status, proc.PID, proc.Addr)
			}
			return nil
		},
	}
	cmd.AddCommand(listCmd)

	return cmd
}

var (
	flagScorerAddr string
	flagScorerBin  string
)
