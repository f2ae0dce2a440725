package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
	ragService "github.com/zhouzirui/ragchat/backend/internal/service/rag"
)

func newUploadCmd(opts *probeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a PDF into the microservice knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}
}

func runUpload(ctx context.Context, out io.Writer, opts *probeOptions, path string) error {
	host, err := chat.NormalizeHost(opts.host)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	client := ragService.NewClient(host, opts.timeout)
	resp, err := client.Upload(ctx, rag.UploadRequest{Filename: filepath.Base(path), Content: f})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, resp.Message)
	if resp.DownloadLink != "" {
		fmt.Fprintf(out, "download: %s\n", resp.DownloadLink)
	}
	fmt.Fprintf(out, "knowledge source: %s\n", chat.Session{MicroserviceHost: host}.KnowledgeSourceURL())
	return nil
}
