package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/saagar210/AssistSupport-sub002/internal/logging"
	"github.com/saagar210/AssistSupport-sub002/internal/output"
)

type statusJSON struct {
	Namespace         string     `json:"namespace,omitempty"`
	DataDir           string     `json:"data_dir"`
	Documents         int        `json:"total_documents"`
	Chunks            int        `json:"total_chunks"`
	KeywordOnlyChunks int        `json:"keyword_only_chunks"`
	LastIndexedAt     *time.Time `json:"last_indexed_at"`
	Embedder          string     `json:"embedder"`
	KeywordBackend    string     `json:"keyword_backend"`
	LogFile           string     `json:"log_file,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		namespace string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Long: `Show document and chunk counts and the last index time, for one namespace
or across all of them. Chunks stored without a vector (embedding provider
unavailable at ingest time) are counted separately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = k.Close() }()

			st, err := k.Stats(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			s := statusJSON{
				Namespace:         namespace,
				DataDir:           k.Config().Paths.DataDir,
				Documents:         st.Documents,
				Chunks:            st.Chunks,
				KeywordOnlyChunks: st.KeywordOnlyChunks,
				Embedder:          k.Indexer().Embedder().ModelName(),
				KeywordBackend:    k.Config().Search.BM25Backend,
			}
			if path, err := logging.FindLogFile(a.logFile); err == nil {
				s.LogFile = path
			}
			if !st.LastIndexedAt.IsZero() {
				t := st.LastIndexedAt.UTC()
				s.LastIndexedAt = &t
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			out := output.New(cmd.OutOrStdout())
			title := "Knowledge base"
			if namespace != "" {
				title += " (" + namespace + ")"
			}
			out.Header(title)
			out.KeyValue("Data dir", s.DataDir)
			out.KeyValue("Documents", s.Documents)
			out.KeyValue("Chunks", s.Chunks)
			if s.KeywordOnlyChunks > 0 {
				out.KeyValue("Keyword-only", s.KeywordOnlyChunks)
			}
			if s.LastIndexedAt != nil {
				out.KeyValue("Last indexed", s.LastIndexedAt.Format(time.RFC3339))
			} else {
				out.KeyValue("Last indexed", "never")
			}
			out.KeyValue("Embedder", s.Embedder)
			out.KeyValue("Keyword index", s.KeywordBackend)
			if s.LogFile != "" {
				out.KeyValue("Log file", s.LogFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Limit to one namespace")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
