package main

import (
	"fmt"
	"os"

	"inertiavault/internal/app"
	"inertiavault/internal/iv"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run [JOB...]",
	Short: "Run backup jobs now",
	Long: "Run backup jobs now. Interrupting with Ctrl-C cancels the runs; " +
		"nothing they did becomes visible and the previous snapshots stay current.",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		quiet, _ := cmd.Flags().GetBool("quiet")
		if all == (len(args) > 0) {
			return fmt.Errorf("name one or more jobs, or pass --all")
		}

		var printer *app.ProgressPrinter
		opts := app.Options{}
		if !quiet && term.IsTerminal(int(os.Stdout.Fd())) {
			printer = app.NewProgressPrinter(os.Stdout)
			opts.Observer = printer
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg, "run", opts)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		jobs, err := a.Service().ListJobs()
		if err != nil {
			return err
		}
		if printer != nil {
			printer.SetJobs(jobs)
		}

		refs := args
		if all {
			if refs, err = a.AllJobRefs(); err != nil {
				return err
			}
			if len(refs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}
		}

		records, errs := a.RunJobs(cmd.Context(), refs, cfg.Pipeline.Concurrency)
		failed := 0
		for i, ref := range refs {
			rec, err := records[i], errs[i]
			name := ref
			if j, ferr := a.Service().FindJob(ref); ferr == nil {
				name = j.Name
			}
			switch {
			case rec == nil:
				fmt.Printf("%s: not started: %v\n", name, err)
				failed++
			case rec.Status == iv.RunStatusSuccess:
				fmt.Printf("%s: completed, %d added, %d modified, %d deleted, %s transferred\n",
					name, rec.Added, rec.Modified, rec.Deleted, iv.FormatBytes(rec.BytesTransferred))
			case rec.Status == iv.RunStatusCancelled:
				fmt.Printf("%s: cancelled\n", name)
				failed++
			default:
				fmt.Printf("%s: failed: %s\n", name, rec.Error)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d runs did not complete", failed, len(refs))
		}
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "daemon", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Scheduler().Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().Bool("all", false, "Run every job")
	runCmd.Flags().BoolP("quiet", "q", false, "Do not print phase changes")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
}
