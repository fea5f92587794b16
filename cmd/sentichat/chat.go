package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aixgo-dev/sentichat/internal/orchestration"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// chatClientKey is the rate limit key of the terminal client.
const chatClientKey = "terminal"

func newChatCmd(logger *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the pipeline from the terminal",
		Long: `Starts an interactive session against the local dataset, using the same
guardrails, intent extraction and answering as the HTTP API.
Type "exit" or press Ctrl-D to leave.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, logger)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			line := liner.NewLiner()
			defer func() { _ = line.Close() }()
			line.SetCtrlCAborts(true)

			return runChat(cmd.Context(), a.orch, line, cmd.OutOrStdout())
		},
	}
}

// prompter reads one line of input.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type pipeline interface {
	Handle(ctx context.Context, req orchestration.Request) (*orchestration.Result, error)
}

// runChat loops until the input ends. Pipeline errors other than a lost
// session store are printed and the loop continues.
func runChat(ctx context.Context, p pipeline, in prompter, out io.Writer) error {
	var sessionID string
	for {
		text, err := in.Prompt("you> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			_, _ = fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		text = strings.TrimSpace(text)
		switch text {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		in.AppendHistory(text)

		res, err := p.Handle(ctx, orchestration.Request{SessionID: sessionID, ClientKey: chatClientKey, Text: text})
		if errors.Is(err, orchestration.ErrSessionUnavailable) {
			return err
		}
		if err != nil {
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		sessionID = res.SessionID

		_, _ = fmt.Fprintf(out, "sentichat> %s\n", res.Message)
		if res.ChartSpec != nil {
			_, _ = fmt.Fprintf(out, "  [chart] %s (%s)\n", res.ChartSpec.Title, res.ChartSpec.ChartType)
		}
		if res.Answer != nil && res.Answer.ChartError != "" {
			_, _ = fmt.Fprintf(out, "  [chart error] %s\n", res.Answer.ChartError)
		}
	}
}
