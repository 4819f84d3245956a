package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
	"github.com/3leaps/inventoryctl/pkg/jobs"
	"github.com/3leaps/inventoryctl/pkg/output"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect server-side import and prediction jobs",
	Long: `Sales imports and demand predictions run as jobs on the server. A job
moves PENDING -> RUNNING -> SUCCESS or FAILED.

'jobs watch' polls each job on its own schedule (jobs.poll_interval) until
it ends. A poll that fails is retried; after jobs.max_consecutive_errors
failures in a row, or once jobs.max_wait has passed, tracking stops and the
job is reported as abandoned. The job may still finish on the server.

Finished jobs are recorded locally; see 'jobs history'.`,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <job_id>...",
	Short: "Follow jobs until they finish",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobsWatch,
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished jobs of the active company, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsHistory,
}

var (
	jobsMetricsAddr string
	historyLimit    int
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd, jobsWatchCmd, jobsHistoryCmd)

	jobsWatchCmd.Flags().StringVar(&jobsMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching (e.g. :9090)")
	jobsHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Max entries to show (0 = all)")
}

// jobView is the rendering of one job status.
type jobView struct {
	jobs.Job
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func viewJob(resp *apiclient.JobStatusResponse) (jobView, error) {
	status, err := jobs.ParseStatus(resp.Status)
	if err != nil {
		return jobView{}, err
	}
	v := jobView{Job: jobs.Job{
		ID:          resp.JobID,
		Status:      status,
		CreatedAt:   resp.CreatedAt.Time,
		StartedAt:   resp.StartedAt.TimePtr(),
		CompletedAt: resp.CompletedAt.TimePtr(),
		Result:      jobs.ResultFromResponse(status, resp.Result),
	}}
	switch r := v.Job.Result.(type) {
	case jobs.Pending:
		v.Message = r.Note
	case jobs.Failed:
		v.Message = r.Message
	case jobs.Succeeded:
		v.Message, v.Result, _ = successText(kindJob, r)
	}
	return v, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	id, err := parseID("job id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	resp, err := a.client.JobStatus(cmd.Context(), id)
	if err != nil {
		return apiFailure(fmt.Sprintf("Failed to fetch job %d", id), err)
	}
	v, err := viewJob(resp)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unexpected job status", err)
	}

	return a.printer.Print(v, func() output.Table {
		t := output.Table{Header: []string{"job", "status", "created", "started", "completed", "result"}}
		created := v.CreatedAt
		result := v.Message
		if result == "" {
			result = string(v.Result)
		}
		t.AddRow(v.ID, v.Status, formatTime(&created), formatTime(v.StartedAt), formatTime(v.CompletedAt), result)
		return t
	})
}

func runJobsWatch(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID("job id", arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	companyID, err := a.requireCompany()
	if err != nil {
		return err
	}
	w, err := a.newWatcher(cmd, "jobs watch", companyID, jobsMetricsAddr)
	if err != nil {
		return err
	}
	defer w.close()

	for _, id := range ids {
		// The current status is unknown; the first poll establishes it.
		if err := w.track(id, jobs.StatusPending, kindJob); err != nil {
			return err
		}
	}
	return w.run(cmd.Context())
}

func runJobsHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	companyID, err := a.requireCompany()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	h, err := a.historyStore(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open job history", err)
	}
	entries, err := h.List(ctx, companyID, historyLimit)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job history", err)
	}
	if entries == nil {
		entries = []jobs.HistoryEntry{}
	}

	return a.printer.Print(entries, func() output.Table {
		t := output.Table{Header: []string{"job", "kind", "outcome", "recorded", "message"}}
		for _, e := range entries {
			at := e.RecordedAt
			t.AddRow(e.JobID, e.Kind, e.Outcome, formatTime(&at), e.Message)
		}
		return t
	})
}
