package main

import (
	"fmt"

	"inertiavault/internal/app"
	"inertiavault/internal/iv"

	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list JOB",
	Short: "List the snapshots of a job, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "snapshots-list", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := a.Service().Snapshots(args[0])
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, s := range snaps {
			fmt.Printf("#%-4d %s  %s  %6d files  %s\n",
				s.Seq, s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				s.FileCount, iv.FormatBytes(s.TotalSize))
		}
		return nil
	},
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show SNAPSHOT",
	Short: "List the files of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "snapshots-show", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Service().Snapshot(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot #%d of job %s on %s, %d files, %s\n\n",
			s.Seq, s.JobID, s.Destination, s.FileCount, iv.FormatBytes(s.TotalSize))
		for _, e := range s.Entries {
			fmt.Printf("%s  %10s  %s  %s\n",
				shortID(e.ContentHash), iv.FormatBytes(e.Size),
				e.ModTime.Local().Format("2006-01-02 15:04:05"), e.Path)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore SNAPSHOT TARGET",
	Short: "Restore a snapshot into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("path")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a, err := newApp(cmd.Context(), "restore", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		encrypted, err := a.Encrypted(args[0])
		if err != nil {
			return err
		}
		if encrypted {
			pass, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			if err := a.Unlock(pass); err != nil {
				return fmt.Errorf("unlocking key: %w", err)
			}
		}

		res, err := a.Restore(cmd.Context(), args[0], prefix, args[1], overwrite)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %d file(s), %s\n", res.Files, iv.FormatBytes(res.Bytes))
		return nil
	},
}

func init() {
	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsShowCmd)

	restoreCmd.Flags().StringP("path", "p", "", "Restore only this file or directory of the snapshot")
	restoreCmd.Flags().Bool("overwrite", false, "Replace files that already exist")

	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(restoreCmd)
}
