package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saagar210/AssistSupport-sub002/internal/api"
	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/output"
)

type searchOptions struct {
	namespace     string
	limit         int
	minScore      float64
	boosts        map[string]string
	vectorWeight  float64
	keywordWeight float64
	request       string
	jsonOut       bool
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search one namespace",
		Long: `Search a namespace with hybrid ranking.

Keyword (BM25) and vector rankings are fused with reciprocal rank fusion,
scaled by each source's weight and printed best first. With --request the
query is read as a JSON SearchRequest from a file, or stdin when the file is
"-". --json prints a SearchResponse, or an error body on failure.`,
		Example: `  assistkb search --namespace it "printer queue stuck"
  assistkb search -n it --limit 3 --boost urls=1.5 vpn
  echo '{"query":"vpn","namespace":"it"}' | assistkb search --request - --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildSearchRequest(cmd, opts, args)
			if err != nil {
				return reportSearchError(cmd.OutOrStdout(), opts.jsonOut, err)
			}

			k, err := a.open(cmd.Context())
			if err != nil {
				return reportSearchError(cmd.OutOrStdout(), opts.jsonOut, err)
			}
			defer func() { _ = k.Close() }()

			resp, err := k.Search(cmd.Context(), *req)
			if err != nil {
				return reportSearchError(cmd.OutOrStdout(), opts.jsonOut, err)
			}
			if opts.jsonOut {
				return api.Encode(cmd.OutOrStdout(), resp)
			}
			renderResults(output.New(cmd.OutOrStdout()), req.Query, resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "", "Namespace to search (required unless --request)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 0, "Maximum number of results (default search.max_results)")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop results scoring below this")
	cmd.Flags().StringToStringVar(&opts.boosts, "boost", nil, "Per source type multiplier, e.g. urls=1.5")
	cmd.Flags().Float64Var(&opts.vectorWeight, "vector-weight", -1, "Override the vector ranking weight")
	cmd.Flags().Float64Var(&opts.keywordWeight, "keyword-weight", -1, "Override the keyword ranking weight")
	cmd.Flags().StringVar(&opts.request, "request", "", "Read a JSON SearchRequest from a file or - for stdin")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the JSON SearchResponse")

	return cmd
}

func buildSearchRequest(cmd *cobra.Command, opts searchOptions, args []string) (*api.SearchRequest, error) {
	if opts.request != "" {
		if len(args) > 0 {
			return nil, kberrors.ValidationError(kberrors.ErrCodeInvalidInput, "pass the query either as arguments or with --request")
		}
		var r io.Reader = cmd.InOrStdin()
		if opts.request != "-" {
			f, err := os.Open(opts.request)
			if err != nil {
				return nil, kberrors.New(kberrors.ErrCodeFileNotFound, "cannot read request file", err).
					WithDetail("path", opts.request)
			}
			defer f.Close()
			r = f
		}
		return api.ReadSearchRequest(r)
	}

	req := &api.SearchRequest{
		Query:     strings.Join(args, " "),
		Namespace: opts.namespace,
		Options: api.SearchOptions{
			Limit:    opts.limit,
			MinScore: opts.minScore,
		},
	}
	if len(opts.boosts) > 0 {
		req.Options.SourceBoosts = make(map[string]float64, len(opts.boosts))
		for k, v := range opts.boosts {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, kberrors.ValidationError(kberrors.ErrCodeInvalidInput, fmt.Sprintf("boost %s=%s is not a number", k, v))
			}
			req.Options.SourceBoosts[k] = f
		}
	}
	if opts.vectorWeight >= 0 || opts.keywordWeight >= 0 {
		req.Options.Weights = &api.Weights{Vector: max(opts.vectorWeight, 0), Keyword: max(opts.keywordWeight, 0)}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func reportSearchError(w io.Writer, jsonOut bool, err error) error {
	if !jsonOut {
		return err
	}
	if encErr := api.Encode(w, api.NewErrorBody(err)); encErr != nil {
		return err
	}
	return silentError{err}
}

func renderResults(out *output.Writer, query string, resp *api.SearchResponse) {
	if len(resp.Results) == 0 {
		out.Statusf("🔍", "No results for %q", query)
		return
	}
	out.Header(fmt.Sprintf("%d results for %q", len(resp.Results), query))
	for i, r := range resp.Results {
		out.Result(i+1, r.Score, r.Title, r.Path, r.Excerpt)
	}
	out.Newline()
	out.Statusf("", "%d documents, %d chunks indexed", resp.Stats.TotalDocuments, resp.Stats.TotalChunks)
}
