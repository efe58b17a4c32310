package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"inertiavault/internal/app"
	"inertiavault/internal/iv"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage backup jobs",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create NAME SOURCE",
	Short: "Create a backup job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("destination")
		sched, _ := cmd.Flags().GetString("schedule")
		full, _ := cmd.Flags().GetBool("full")
		noCompress, _ := cmd.Flags().GetBool("no-compress")
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		a, err := newApp(cmd.Context(), "job-create", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.CreateJob(iv.JobSpec{
			Name:        args[0],
			SourceRoot:  args[1],
			Destination: dest,
			Schedule:    iv.Schedule(sched),
			Incremental: !full,
			Compressed:  !noCompress,
			Encrypted:   encrypt,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created job %s (%s)\n", job.Name, job.ID)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "job-list", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.Service().ListJobs()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}
		for _, j := range jobs {
			last := "never"
			if j.LastRunAt != nil {
				last = j.LastRunAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-20s  %-9s  %-8s  %-10s  %s  %s\n",
				j.Name, j.Status, j.Schedule, j.Destination, last, iv.FormatBytes(j.TotalSize))
		}
		return nil
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show JOB",
	Short: "Show a backup job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "job-show", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		j, err := a.Service().FindJob(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:           %s\n", j.ID)
		fmt.Printf("Name:         %s\n", j.Name)
		fmt.Printf("Source:       %s\n", j.SourceRoot)
		fmt.Printf("Destination:  %s\n", j.Destination)
		fmt.Printf("Schedule:     %s\n", j.Schedule)
		fmt.Printf("Incremental:  %t\n", j.Incremental)
		fmt.Printf("Compressed:   %t\n", j.Compressed)
		fmt.Printf("Encrypted:    %t\n", j.Encrypted)
		fmt.Printf("Status:       %s\n", j.Status)
		fmt.Printf("Runs:         %d (%d successful)\n", j.TotalRuns, j.SuccessfulRuns)
		fmt.Printf("Files:        %d\n", j.FilesBackedUp)
		fmt.Printf("Size:         %s\n", iv.FormatBytes(j.TotalSize))
		return nil
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete JOB",
	Short: "Delete a backup job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "job-delete", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().DeleteJob(args[0]); err != nil {
			return err
		}
		fmt.Println("Job deleted. Run `iv gc` to free its blocks.")
		return nil
	},
}

var jobExportCmd = &cobra.Command{
	Use:   "export JOB",
	Short: "Write a job definition to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "job-export", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.Service().ExportJob(args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	},
}

var jobImportCmd = &cobra.Command{
	Use:   "import [FILE]",
	Short: "Create a job from an exported definition",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "job-import", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.Service().ImportJob(data)
		if err != nil {
			return err
		}
		fmt.Printf("Imported job %s (%s)\n", job.Name, job.ID)
		return nil
	},
}

// readInput reads the named file, or stdin when no file or "-" is given.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return data, nil
}

var historyCmd = &cobra.Command{
	Use:   "history [JOB]",
	Short: "View run history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "history", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ref := ""
		if len(args) > 0 {
			ref = args[0]
		}
		runs, err := a.Service().History(ref, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  %-9s  %8s  +%d ~%d -%d  %s",
				shortID(r.ID),
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				r.Duration.Round(time.Millisecond),
				r.Added, r.Modified, r.Deleted,
				iv.FormatBytes(r.BytesTransferred),
			)
			if r.Error != "" {
				fmt.Printf("  %s", firstLine(r.Error))
			}
			fmt.Println()
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "stats", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Service().Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Jobs:          %d\n", s.Jobs)
		fmt.Printf("Runs:          %d\n", s.TotalRuns)
		fmt.Printf("Success rate:  %.1f%%\n", s.SuccessRate)
		fmt.Printf("Total size:    %s\n", iv.FormatBytes(s.TotalSize))
		return nil
	},
}

func init() {
	jobCreateCmd.Flags().StringP("destination", "d", "local", "Destination name from the config")
	jobCreateCmd.Flags().StringP("schedule", "s", string(iv.ScheduleManual), "manual, hourly, daily, weekly or monthly")
	jobCreateCmd.Flags().Bool("full", false, "Rehash every file on every run")
	jobCreateCmd.Flags().Bool("no-compress", false, "Store blocks uncompressed")
	jobCreateCmd.Flags().Bool("encrypt", false, "Encrypt blocks with the configured key")

	jobCmd.AddCommand(jobCreateCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobDeleteCmd)
	jobCmd.AddCommand(jobExportCmd)
	jobCmd.AddCommand(jobImportCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")

	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
}
