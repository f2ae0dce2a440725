package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
	ragService "github.com/zhouzirui/ragchat/backend/internal/service/rag"
	"github.com/zhouzirui/ragchat/backend/internal/service/render"
)

func newAskCmd(opts *probeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a prompt and print the rendered bot reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), opts, strings.Join(args, " "))
		},
	}
}

func runAsk(ctx context.Context, out io.Writer, opts *probeOptions, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("prompt is empty")
	}

	host, err := chat.NormalizeHost(opts.host)
	if err != nil {
		return err
	}

	pipeline, err := ragService.NewMicroservicePipeline(ctx, host, opts.timeout, render.New(opts.sanitize))
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	markup, err := pipeline.Answer(ctx, prompt)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, markup)
	return err
}
