package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/ocrjobs/internal/server"
)

func SubmitCmd(c *cli) *cobra.Command {
	var item, jobType, createdBy string
	cmd := &cobra.Command{
		Use:   "submit <workspace> [record]",
		Short: "Queue full-page OCR for a record, or box re-OCR for one page with --item",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := server.CreateJobRequest{Workspace: args[0], Item: item, JobType: jobType, CreatedBy: createdBy}
			if len(args) == 2 {
				req.Record = args[1]
			}
			if req.Item != "" && req.JobType == "" {
				req.JobType = "reocr"
			}
			ctx, cancel := c.ctx(cmd)
			defer cancel()
			job, err := c.client.CreateJob(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
	cmd.Flags().StringVar(&item, "item", "", "page id <record>/<file> for box re-OCR")
	cmd.Flags().StringVar(&jobType, "type", "", "job type (ocr, reocr)")
	cmd.Flags().StringVar(&createdBy, "created-by", os.Getenv("USER"), "who submitted the job")
	return cmd
}

func ListCmd(c *cli) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()
			list, err := c.client.ListJobs(ctx, status, limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No jobs found.")
				return nil
			}
			fmt.Println("ID\tTYPE\tSTATUS\tPROGRESS\tRECORD\tITEM")
			for _, j := range list {
				fmt.Printf("%v\t%v\t%v\t%v\t%v\t%v\n", j["id"], j["job_type"], j["status"], j["progress"], j["record"], orDash(j["item"]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, running, finished, failed, canceled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum jobs to return (server default 50, max 100)")
	return cmd
}

func GetCmd(c *cli) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job; with --wait, poll until it is finished, failed or canceled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deadline := time.Now().Add(wait)
			for {
				ctx, cancel := c.ctx(cmd)
				job, err := c.client.GetJob(ctx, args[0])
				cancel()
				if err != nil {
					return err
				}
				if wait <= 0 || terminal(job["status"]) || time.Now().After(deadline) {
					return printJSON(job)
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(time.Second):
				}
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll for up to this long")
	return cmd
}

func RetryCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Run a finished, failed or canceled job again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()
			job, err := c.client.RetryJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
}

func CancelCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()
			job, err := c.client.CancelJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
}

func ClearCmd(c *cli) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete jobs by status (default: every finished, failed or canceled job)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()
			n, err := c.client.ClearJobs(ctx, statuses...)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to delete, repeatable or comma separated")
	return cmd
}

func ExportCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <workspace> <record>",
		Short: "Write a record's recognized text to an XLSX file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()
			b, err := c.client.ExportRecord(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if out == "" {
				out = args[1] + ".xlsx"
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("wrote %s (%d bytes)\n", out, len(b))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default <record>.xlsx)")
	return cmd
}

func terminal(status any) bool {
	switch status {
	case "finished", "failed", "canceled":
		return true
	}
	return false
}

func orDash(v any) any {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return "-"
}
