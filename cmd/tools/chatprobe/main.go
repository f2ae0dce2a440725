package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type probeOptions struct {
	host     string
	timeout  time.Duration
	sanitize bool
}

func newRootCmd() *cobra.Command {
	opts := &probeOptions{}

	root := &cobra.Command{
		Use:   "chatprobe",
		Short: "Exercise a RAG microservice the way the chat widget does",
		Long: `chatprobe sends prompts and documents to a RAG microservice and prints what
the chat widget would show.

Examples:
  chatprobe ask "What is retrieval-augmented generation?" --host localhost:8000
  chatprobe upload ./handbook.pdf --host http://rag.internal:8000`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.host, "host", os.Getenv("MICROSERVICE_HOST"), "Microservice host URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.sanitize, "sanitize", true, "Sanitize rendered markup")

	root.AddCommand(newAskCmd(opts))
	root.AddCommand(newUploadCmd(opts))
	return root
}
