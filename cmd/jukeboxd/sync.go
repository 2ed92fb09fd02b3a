package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jukeboxd/pkg/gitsync"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSyncCmd(v *viper.Viper) *cobra.Command {
	var (
		branch   string
		message  string
		syncType string
		root     string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "sync FILE...",
		Short: "Commit local files to the configured repository as one commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}
			files, err := readSyncFiles(root, args)
			if err != nil {
				return err
			}

			skip := !force
			s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
			s.Suffix = fmt.Sprintf(" Syncing %d file(s)...", len(files))
			s.Writer = cmd.ErrOrStderr()
			s.Start()
			result, err := a.sync.Sync(cmd.Context(), gitsync.Request{
				Files:         files,
				CommitMessage: message,
				Branch:        branch,
				SkipUnchanged: &skip,
				SyncType:      syncType,
			})
			s.Stop()
			if err != nil {
				return err
			}

			printSyncResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Target branch (default from config)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().StringVar(&syncType, "type", "cli", "Sync type recorded in history")
	cmd.Flags().StringVar(&root, "root", ".", "Directory repository paths are relative to")
	cmd.Flags().BoolVar(&force, "force", false, "Commit files even when unchanged")
	return cmd
}

// readSyncFiles reads each file and names it by its slash-separated path
// relative to root.
func readSyncFiles(root string, args []string) ([]gitsync.FileToSync, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	files := make([]gitsync.FileToSync, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%s is outside %s", arg, root)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		files = append(files, gitsync.FileToSync{Path: filepath.ToSlash(rel), Content: string(data)})
	}
	return files, nil
}

func printSyncResult(w io.Writer, result gitsync.Result) {
	if result.Commit == nil {
		fmt.Fprintln(w, color.YellowString("%s", result.Message))
	} else {
		fmt.Fprintf(w, "%s %s\n", color.GreenString("committed"), result.Commit.SHA)
		if result.Commit.URL != "" {
			fmt.Fprintln(w, result.Commit.URL)
		}
	}
	for _, p := range result.SyncedFiles {
		fmt.Fprintf(w, "  %s %s\n", color.GreenString("+"), p)
	}
	for _, p := range result.SkippedFiles {
		fmt.Fprintf(w, "  %s %s\n", color.New(color.Faint).Sprint("="), p)
	}
}
