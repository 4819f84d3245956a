package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
	"github.com/3leaps/inventoryctl/pkg/jobs"
	"github.com/3leaps/inventoryctl/pkg/output"
)

// Job kinds recorded in the local history.
const (
	kindImport     = "import"
	kindPrediction = "prediction"
	kindJob        = "job"
)

// watcher follows the jobs started (or named) by one command until each
// one ends, streaming events and recording outcomes in the history.
type watcher struct {
	app       *app
	command   string
	companyID int64
	tracker   *jobs.Tracker
	out       output.Writer
	kinds     map[int64]string
	metrics   *http.Server

	summary   output.SummaryRecord
	failed    []error
	malformed []error

	// authErr is the first poll rejected for a missing or revoked session.
	authErr error
}

// newWatcher builds a tracker from the jobs.* config. metricsAddr, when set,
// serves the tracker's Prometheus metrics while the watch runs.
func (a *app) newWatcher(cmd *cobra.Command, command string, companyID int64, metricsAddr string) (*watcher, error) {
	reg := prometheus.NewRegistry()
	m, err := jobs.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	w := &watcher{
		app:       a,
		command:   command,
		companyID: companyID,
		out:       output.NewWriter(cmd.OutOrStdout(), a.format, command, companyID),
		kinds:     make(map[int64]string),
	}
	w.tracker = jobs.NewTracker(a.client,
		jobs.WithInterval(a.cfg.Jobs.PollInterval),
		jobs.WithMaxConsecutiveErrors(a.cfg.Jobs.MaxConsecutiveErrors),
		jobs.WithMaxWait(a.cfg.Jobs.MaxWait),
		jobs.WithLogger(a.logger),
		jobs.WithMetrics(m),
	)

	if metricsAddr != "" {
		if err := w.serveMetrics(metricsAddr, reg); err != nil {
			w.close()
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --metrics-addr", err)
		}
	}
	return w, nil
}

func (w *watcher) serveMetrics(addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	w.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	w.app.logger.Info("Serving job metrics", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := w.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.app.logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// submit starts a job through the tracker. fn reports its own failures as
// CLI errors; anything else comes from the tracker.
func (w *watcher) submit(ctx context.Context, kind string, fn jobs.SubmitFunc) (jobs.Submission, error) {
	sub, err := w.tracker.Submit(ctx, fn)
	if err != nil {
		if !errors.As(err, new(*cliError)) {
			err = apiFailure("Failed to start job", err)
		}
		return sub, err
	}
	w.kinds[sub.JobID] = kind
	return sub, nil
}

// track follows an existing job.
func (w *watcher) track(id int64, status jobs.Status, kind string) error {
	if err := w.tracker.Track(id, status); err != nil {
		return err
	}
	if _, ok := w.kinds[id]; !ok {
		w.kinds[id] = kind
	}
	return nil
}

// run consumes events until every tracked job ended or ctx is done.
func (w *watcher) run(ctx context.Context) error {
	start := time.Now()
	remaining := len(w.tracker.Tracked())
	w.summary.Jobs = remaining

	for remaining > 0 {
		select {
		case <-ctx.Done():
			w.tracker.Close()
			return exitError(foundry.ExitSignalInt, "Watch cancelled", ctx.Err())
		case ev := <-w.tracker.Events():
			if err := w.handle(ctx, ev); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
			if ev.Kind == jobs.EventTerminal || ev.Kind == jobs.EventAbandoned {
				remaining--
			}
		}
	}

	elapsed := time.Since(start)
	w.summary.Duration = elapsed
	w.summary.DurationHuman = elapsed.Round(time.Millisecond).String()
	if err := w.out.WriteSummary(ctx, &w.summary); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return w.outcome()
}

func (w *watcher) handle(ctx context.Context, ev jobs.Event) error {
	kind := w.kinds[ev.JobID]
	rec := &output.JobEventRecord{
		JobID:  ev.JobID,
		Kind:   string(ev.Kind),
		Status: string(ev.Job.Status),
		At:     ev.At.UTC(),
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}

	switch ev.Kind {
	case jobs.EventTerminal:
		resultErr := w.describeResult(kind, ev, rec)
		w.record(ctx, kind, ev, resultErr)
	case jobs.EventAbandoned:
		w.summary.Abandoned++
		if w.authErr == nil && apiclient.IsUnauthenticated(ev.Err) {
			w.authErr = fmt.Errorf("job %d: %w", ev.JobID, ev.Err)
		}
		w.record(ctx, kind, ev, nil)
	}
	return w.out.WriteJobEvent(ctx, rec)
}

// describeResult fills the event record from a terminal job and counts it.
// A SUCCESS whose payload does not decode is counted as malformed, apart
// from FAILED jobs, and its decode error is returned.
func (w *watcher) describeResult(kind string, ev jobs.Event, rec *output.JobEventRecord) error {
	switch r := ev.Job.Result.(type) {
	case jobs.Failed:
		w.summary.Failed++
		w.failed = append(w.failed, fmt.Errorf("job %d failed: %s", ev.JobID, r.Message))
		rec.Message = r.Message
	case jobs.Succeeded:
		msg, payload, err := successText(kind, r)
		if err != nil {
			w.summary.Malformed++
			w.malformed = append(w.malformed, fmt.Errorf("job %d: %w", ev.JobID, err))
			rec.Error = err.Error()
			return err
		}
		w.summary.Succeeded++
		rec.Message = msg
		rec.Result = payload
	}
	return nil
}

func (w *watcher) record(ctx context.Context, kind string, ev jobs.Event, resultErr error) {
	h, err := w.app.historyStore(ctx)
	if err != nil {
		w.app.logger.Warn("Job history unavailable", zap.Error(err))
		return
	}
	entry, err := jobs.EntryFromEvent(w.companyID, kind, ev)
	if err != nil {
		return
	}
	if resultErr != nil {
		entry.MarkMalformed(resultErr)
	}
	if err := h.Record(ctx, entry); err != nil {
		w.app.logger.Warn("Failed to record job history", zap.Int64("job_id", ev.JobID), zap.Error(err))
	}
}

// outcome turns the tally into the command's exit status. A rejected session
// outranks every job outcome: nothing can be checked until the user logs in.
func (w *watcher) outcome() error {
	switch {
	case w.authErr != nil:
		return exitError(exitFailure, msgSessionExpired, w.authErr)
	case w.app.sessionExpired.Load():
		return exitError(exitFailure, msgSessionExpired, apiclient.ErrUnauthenticated)
	case w.summary.Failed > 0:
		return exitError(exitFailure, fmt.Sprintf("%d of %d job(s) failed", w.summary.Failed, w.summary.Jobs),
			w.failed[0])
	case w.summary.Malformed > 0:
		return exitError(exitFailure,
			fmt.Sprintf("%d of %d job(s) returned an unreadable result", w.summary.Malformed, w.summary.Jobs),
			w.malformed[0])
	case w.summary.Abandoned > 0:
		return exitError(foundry.ExitExternalServiceUnavailable,
			fmt.Sprintf("Stopped tracking %d job(s); check later with 'inventoryctl jobs status'", w.summary.Abandoned),
			jobs.ErrAbandoned)
	default:
		return nil
	}
}

func (w *watcher) close() {
	w.tracker.Close()
	_ = w.out.Close()
	if w.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.metrics.Shutdown(ctx)
	}
}

// successText renders a SUCCESS payload for the event stream. Import and
// prediction payloads must decode; any other job's payload is passed through.
func successText(kind string, r jobs.Succeeded) (string, json.RawMessage, error) {
	switch kind {
	case kindImport:
		s, err := jobs.DecodeImportSummary(r)
		if err != nil {
			return "", nil, err
		}
		return s.Message, nil, nil
	case kindPrediction:
		p, err := jobs.DecodePrediction(r)
		if err != nil {
			return "", nil, err
		}
		msg := fmt.Sprintf("forecast ready: %d days, total demand %.0f, reorder point %.0f",
			len(p.Points()), p.TotalDemand(), p.StockOptimization.ReorderPoint)
		return msg, r.Payload, nil
	default:
		if json.Valid(r.Payload) && len(r.Payload) > 0 && (r.Payload[0] == '{' || r.Payload[0] == '[') {
			return "", r.Payload, nil
		}
		return r.Text(), nil, nil
	}
}
