package main

import (
	"fmt"
	"io"
	"strings"

	"jukeboxd/pkg/gateway"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which AI providers have credentials, in try order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), a.gateway.Status())
			return nil
		},
	}
}

func printStatus(w io.Writer, statuses []gateway.ProviderStatus) {
	ok := color.New(color.FgGreen).SprintFunc()
	missing := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	for _, s := range statuses {
		// Pad before coloring so escape codes do not skew the columns.
		state := ok(fmt.Sprintf("%-28s", "available"))
		if !s.Available {
			state = missing(fmt.Sprintf("%-28s", "missing "+s.CredentialKey))
		}
		line := fmt.Sprintf("%d. %-11s %s %s", s.Priority, s.Name, state, dim(s.Model))
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}
