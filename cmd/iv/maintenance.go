package main

import (
	"fmt"
	"os"
	"time"

	"inertiavault/internal/app"
	"inertiavault/internal/iv"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the backup journal",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the newest journal entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "logs-list", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Service().Logs(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No log entries.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-7s  %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, e.Message)
		}
		return nil
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Write the journal as JSON",
	Long:  "Write the newest journal entries as a JSON array to FILE, or to inertiavault-logs-<date>.json. Use - for stdout.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "logs-export", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		name := iv.LogExportName(time.Now())
		if len(args) > 0 {
			name = args[0]
		}
		if name == "-" {
			return a.Service().ExportLogs(os.Stdout, limit)
		}

		f, err := os.Create(name)
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		if err := a.Service().ExportLogs(f, limit); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		fmt.Printf("Logs written to %s\n", name)
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Apply retention and delete unreferenced blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		keepLast, _ := cmd.Flags().GetInt("keep-last")

		a, err := newApp(cmd.Context(), "gc", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Service().CollectGarbage(cmd.Context(), keepLast)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshots pruned:    %d\n", r.Pruned)
		fmt.Printf("Snapshots collected: %d\n", r.Collected)
		fmt.Printf("References released: %d\n", r.Released)
		fmt.Printf("Blocks deleted:      %d\n", r.DeletedBlocks)
		fmt.Printf("Orphans deleted:     %d\n", r.DeletedOrphans)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify every stored block",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "check", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Service().Check(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range r.Problems {
			fmt.Printf("%s  %s  %s\n", p.Destination, p.Hash, p.Error)
		}
		fmt.Printf("Checked %d block(s), %d problem(s)\n", r.Blocks, len(r.Problems))
		if len(r.Problems) > 0 {
			return fmt.Errorf("%w: %d block(s) failed verification", iv.ErrIntegrity, len(r.Problems))
		}
		return nil
	},
}

func init() {
	logsListCmd.Flags().IntP("limit", "n", iv.DefaultLogLimit, "Maximum number of entries")
	logsExportCmd.Flags().IntP("limit", "n", iv.DefaultLogLimit, "Maximum number of entries")
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsExportCmd)

	gcCmd.Flags().Int("keep-last", 0, "Keep only the N newest snapshots of each job (0 keeps all)")

	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(checkCmd)
}
