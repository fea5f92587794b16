package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		baseURL string
		out     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Download the usage report as an xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				out = fmt.Sprintf("activity-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			n, err := downloadReport(ctx, http.DefaultClient, baseURL, out)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8000", "Base URL of a running server")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default activity-<timestamp>.xlsx)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}

// downloadReport fetches /api/analytics/export from baseURL into path.
func downloadReport(ctx context.Context, client *http.Client, baseURL, path string) (int64, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/analytics/export"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("fetch report: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}
