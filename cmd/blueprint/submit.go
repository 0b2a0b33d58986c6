package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

type submitOptions struct {
	apiURL   string
	actor    string
	wait     bool
	interval time.Duration
	timeout  time.Duration
}

type runStatus struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type apiError struct {
	Code    string   `json:"error"`
	Details []string `json:"details"`
}

func submitCmd() *cobra.Command {
	opts := submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit <template>",
		Short: "Submit a template to the compositor API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readTemplate(cmd, args[0])
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 30 * time.Second}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			run, err := submitTemplate(ctx, client, opts, data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s %s\n", run.RunID, run.Status)
			if !opts.wait {
				return nil
			}
			run, err = waitForRun(ctx, client, opts, run.RunID, func(r runStatus) {
				fmt.Fprintf(out, "run %s %s %d%%\n", r.RunID, r.Status, r.Progress)
			})
			if err != nil {
				return err
			}
			if domain.RunStatus(run.Status) == domain.RunFailed {
				return fmt.Errorf("run %s failed at %d%%", run.RunID, run.Progress)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.apiURL, "api", "http://localhost:8080", "compositor API base URL")
	cmd.Flags().StringVar(&opts.actor, "actor", "", "actor recorded as the run author")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "poll until the run finishes")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "poll interval with --wait")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	return cmd
}

func submitTemplate(ctx context.Context, client *http.Client, opts submitOptions, data []byte) (runStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(opts.apiURL, "/")+"/v1/templates/runs", bytes.NewReader(data))
	if err != nil {
		return runStatus{}, err
	}
	contentType := "application/yaml"
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	if opts.actor != "" {
		req.Header.Set("X-Actor", opts.actor)
	}
	var run runStatus
	if err := doJSON(client, req, http.StatusAccepted, &run); err != nil {
		return runStatus{}, fmt.Errorf("submit: %w", err)
	}
	return run, nil
}

// waitForRun polls the run until it is terminal, reporting each progress
// change to onChange.
func waitForRun(ctx context.Context, client *http.Client, opts submitOptions, runID string, onChange func(runStatus)) (runStatus, error) {
	if opts.interval <= 0 {
		opts.interval = time.Second
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	last := runStatus{}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(opts.apiURL, "/")+"/v1/runs/"+runID, nil)
		if err != nil {
			return runStatus{}, err
		}
		var run runStatus
		if err := doJSON(client, req, http.StatusOK, &run); err != nil {
			return runStatus{}, fmt.Errorf("poll run %s: %w", runID, err)
		}
		if run != last && onChange != nil {
			onChange(run)
		}
		last = run
		if domain.RunStatus(run.Status).Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("wait for run %s: %w", runID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func doJSON(client *http.Client, req *http.Request, wantStatus int, dst any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != wantStatus {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			if len(apiErr.Details) > 0 {
				return fmt.Errorf("%s (%d): %s", apiErr.Code, resp.StatusCode, strings.Join(apiErr.Details, "; "))
			}
			return fmt.Errorf("%s (%d)", apiErr.Code, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
