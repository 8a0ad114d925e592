package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/ocrjobs/internal/server"
)

// cli carries the connection shared by every subcommand.
type cli struct {
	addr    string
	timeout time.Duration
	conn    *grpc.ClientConn
	client  *server.Client
}

func main() {
	c := &cli{}
	root := &cobra.Command{
		Use:           "ocrjobsctl",
		Short:         "Submit and inspect OCR jobs on an ocrjobsd server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(c.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connect %s: %w", c.addr, err)
			}
			c.conn = conn
			c.client = server.NewClient(conn)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.conn != nil {
				return c.conn.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.addr, "addr", defaultAddr(), "ocrjobsd gRPC address")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "per-call timeout")

	root.AddCommand(
		SubmitCmd(c),
		ListCmd(c),
		GetCmd(c),
		RetryCmd(c),
		CancelCmd(c),
		ClearCmd(c),
		ExportCmd(c),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if addr := os.Getenv("OCRJOBS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:8080"
}

func (c *cli) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
