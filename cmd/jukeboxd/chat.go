package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"jukeboxd/pkg/gateway"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newChatCmd(v *viper.Viper) *cobra.Command {
	var (
		preferred    string
		systemPrompt string
		maxTokens    int
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send one prompt through the provider fallback chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
			s.Suffix = " Asking providers..."
			s.Writer = cmd.ErrOrStderr()
			s.Start()
			result, err := a.gateway.Chat(cmd.Context(), gateway.Request{
				Prompt:            strings.Join(args, " "),
				SystemPrompt:      systemPrompt,
				MaxTokens:         maxTokens,
				PreferredProvider: preferred,
			})
			s.Stop()
			if err != nil {
				return err
			}

			return printChatResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result)
		},
	}
	cmd.Flags().StringVarP(&preferred, "provider", "p", "", "Provider to try first (anthropic, openai, gemini, groq, openrouter)")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "System prompt override")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max tokens override")
	return cmd
}

// printChatResult writes the completion to out and the provider trail to errOut.
func printChatResult(out, errOut io.Writer, result gateway.Result) error {
	tried := strings.Join(result.TriedProviders, ", ")
	if !result.Success {
		fmt.Fprintln(out, color.RedString("%s", result.Error))
		fmt.Fprintf(out, "tried: %s\n", tried)
		return fmt.Errorf("no provider answered")
	}
	fmt.Fprintln(out, result.Content)
	fmt.Fprintln(errOut, color.New(color.Faint).Sprintf("via %s (tried: %s)", result.Provider, tried))
	return nil
}
