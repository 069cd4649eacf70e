package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/saagar210/AssistSupport-sub002/internal/ingest"
	"github.com/saagar210/AssistSupport-sub002/internal/output"
)

type ingestOptions struct {
	sources  []string
	full     bool
	jsonOut  bool
	failures bool
}

func newIngestCmd(a *app) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest every source once",
		Long: `Run one ingest pass per source definition.

Folder sources are diffed against the stored fingerprints: new and changed
files are re-chunked, files that disappeared are removed and the rest are left
alone. URL sources are re-fetched. A failing source is reported and the
remaining sources still run.`,
		Example: `  assistkb ingest --source ~/kb/sources.yaml
  assistkb ingest --full --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := a.definitions(opts.sources)
			if err != nil {
				return err
			}
			k, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = k.Close() }()

			reports, runErr := k.Ingest(cmd.Context(), defs, opts.full)
			if opts.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summarize(reports)); err != nil {
					return err
				}
			} else {
				renderReports(output.New(cmd.OutOrStdout()), reports, opts.failures)
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Source definition file (repeatable; default ingest.sources)")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Re-chunk documents even when unchanged")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the run reports as JSON")
	cmd.Flags().BoolVar(&opts.failures, "show-failures", true, "List documents that failed")

	return cmd
}

// reportJSON is the --json form of an ingest report.
type reportJSON struct {
	RunID      string         `json:"run_id"`
	Namespace  string         `json:"namespace"`
	SourceType string         `json:"source_type"`
	Started    time.Time      `json:"started"`
	DurationMS int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts"`
	Failures   []failureJSON  `json:"failures"`
}

type failureJSON struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

var actions = []ingest.Action{
	ingest.ActionAdded,
	ingest.ActionModified,
	ingest.ActionUnchanged,
	ingest.ActionRemoved,
	ingest.ActionFailed,
}

func summarize(reports []*ingest.Report) []reportJSON {
	out := make([]reportJSON, 0, len(reports))
	for _, r := range reports {
		rj := reportJSON{
			RunID:      r.RunID,
			Namespace:  r.Namespace,
			SourceType: string(r.SourceType),
			Started:    r.Started.UTC(),
			DurationMS: r.Duration.Milliseconds(),
			Counts:     make(map[string]int, len(actions)),
			Failures:   []failureJSON{},
		}
		for _, act := range actions {
			rj.Counts[string(act)] = r.Count(act)
		}
		for _, f := range r.Failures() {
			msg := ""
			if f.Err != nil {
				msg = f.Err.Error()
			}
			rj.Failures = append(rj.Failures, failureJSON{DocumentID: f.DocumentID, Error: msg})
		}
		out = append(out, rj)
	}
	return out
}

func renderReports(out *output.Writer, reports []*ingest.Report, showFailures bool) {
	for _, r := range reports {
		degraded := 0
		for _, o := range r.Outcomes {
			degraded += o.Degraded
		}
		line := "%s [%s] added %d, modified %d, unchanged %d, removed %d in %s"
		args := []any{r.Namespace, r.SourceType,
			r.Count(ingest.ActionAdded), r.Count(ingest.ActionModified),
			r.Count(ingest.ActionUnchanged), r.Count(ingest.ActionRemoved),
			r.Duration.Round(time.Millisecond)}

		failed := r.Failures()
		if len(failed) == 0 {
			out.Successf(line, args...)
		} else {
			out.Warningf(line+", %d failed", append(args, len(failed))...)
		}
		if degraded > 0 {
			out.Statusf("", "%d chunks indexed keyword-only (embedding unavailable)", degraded)
		}
		if showFailures {
			for _, f := range failed {
				if f.Err != nil {
					out.Statusf("", "%s: %v", f.DocumentID, f.Err)
				} else {
					out.Status("", f.DocumentID)
				}
			}
		}
	}
}
