// Package api defines the JSON request and response shapes exchanged with the
// command layer. Decoders are strict: unknown fields, missing required fields
// and trailing data are rejected with a validation error, and no input makes
// them panic.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
	"github.com/saagar210/AssistSupport-sub002/internal/search"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
	"github.com/saagar210/AssistSupport-sub002/internal/store"
	"github.com/saagar210/AssistSupport-sub002/internal/validation"
)

// MaxPayloadBytes bounds a request or response read from a stream.
const MaxPayloadBytes = 4 << 20

// SearchRequest asks for the best chunks of one namespace.
type SearchRequest struct {
	// Query is the search text (required).
	Query string `json:"query"`

	// Namespace is the index partition to search (required).
	Namespace string `json:"namespace"`

	Options SearchOptions `json:"options"`
}

// SearchOptions mirrors search.Options on the wire.
type SearchOptions struct {
	// Limit is the maximum number of results, 0 for the default.
	Limit int `json:"limit,omitempty"`

	MinScore     float64            `json:"min_score,omitempty"`
	SourceBoosts map[string]float64 `json:"source_boosts,omitempty"`
	Weights      *Weights           `json:"weights,omitempty"`
}

// Weights overrides the fusion weights.
type Weights struct {
	Vector  float64 `json:"vector"`
	Keyword float64 `json:"keyword"`
}

// SearchResponse is an ordered result list plus index statistics.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Stats   Stats          `json:"stats"`
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	ChunkID     string  `json:"chunk_id"`
	Score       float64 `json:"score"`
	Path        string  `json:"path"`
	Namespace   string  `json:"namespace"`
	Excerpt     string  `json:"excerpt"`
	MatchSource string  `json:"match_source"`
	Title       string  `json:"title,omitempty"`
	SourceType  string  `json:"source_type,omitempty"`
}

// Stats summarizes what is indexed. LastIndexedAt is nil when nothing is.
type Stats struct {
	TotalDocuments int        `json:"total_documents"`
	TotalChunks    int        `json:"total_chunks"`
	LastIndexedAt  *time.Time `json:"last_indexed_at"`
}

// ErrorBody is the JSON shape of a failed request.
type ErrorBody struct {
	Error json.RawMessage `json:"error"`
}

// NewErrorBody renders err with its code, category and suggestion.
func NewErrorBody(err error) ErrorBody {
	raw, mErr := kberrors.FormatJSON(err)
	if mErr != nil {
		raw, _ = json.Marshal(map[string]string{"message": err.Error()})
	}
	return ErrorBody{Error: raw}
}

// malformed reports a payload that does not match the wire shape.
func malformed(msg string, cause error) *kberrors.KBError {
	return kberrors.New(kberrors.ErrCodeMalformedPayload, msg, cause)
}

func missing(field string) error {
	return malformed("missing required field: "+field, nil).WithDetail("field", field)
}

func invalid(field, msg string) error {
	return kberrors.ValidationError(kberrors.ErrCodeInvalidInput, field+": "+msg).WithDetail("field", field)
}

// decodeStrict decodes exactly one JSON value from data into v.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return malformed("empty payload", nil)
		}
		return malformed("payload is not valid", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return malformed("trailing data after payload", err)
	}
	return nil
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeInvalidInput, "failed to read payload", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, malformed("payload exceeds maximum size", nil).
			WithDetail("max_bytes", strconv.Itoa(MaxPayloadBytes))
	}
	return data, nil
}

// wireRequest detects absent required fields.
type wireRequest struct {
	Query     *string        `json:"query"`
	Namespace *string        `json:"namespace"`
	Options   *SearchOptions `json:"options"`
}

// DecodeSearchRequest parses and validates a request.
func DecodeSearchRequest(data []byte) (*SearchRequest, error) {
	var w wireRequest
	if err := decodeStrict(data, &w); err != nil {
		return nil, err
	}
	if w.Query == nil {
		return nil, missing("query")
	}
	if w.Namespace == nil {
		return nil, missing("namespace")
	}
	req := &SearchRequest{Query: *w.Query, Namespace: *w.Namespace}
	if w.Options != nil {
		req.Options = *w.Options
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// ReadSearchRequest reads one request from r.
func ReadSearchRequest(r io.Reader) (*SearchRequest, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeSearchRequest(data)
}

// Validate checks the request without changing it.
func (r *SearchRequest) Validate() error {
	if err := validation.ValidateQuery(r.Query); err != nil {
		return err
	}
	if _, err := validation.NormalizeAndValidateNamespace(r.Namespace); err != nil {
		return err
	}
	return r.Options.Validate()
}

// Validate checks option ranges.
func (o *SearchOptions) Validate() error {
	if o.Limit < 0 || o.Limit > search.MaxLimit {
		return invalid("options.limit", fmt.Sprintf("must be between 0 and %d", search.MaxLimit))
	}
	if !finiteNonNegative(o.MinScore) {
		return invalid("options.min_score", "must be a non-negative number")
	}
	for k, v := range o.SourceBoosts {
		if !knownSourceType(k) {
			return invalid("options.source_boosts", "unknown source type "+strconv.Quote(k))
		}
		if !finiteNonNegative(v) {
			return invalid("options.source_boosts."+k, "must be a non-negative number")
		}
	}
	if o.Weights != nil {
		if !finiteNonNegative(o.Weights.Vector) || !finiteNonNegative(o.Weights.Keyword) {
			return invalid("options.weights", "must be non-negative numbers")
		}
		if o.Weights.Vector == 0 && o.Weights.Keyword == 0 {
			return invalid("options.weights", "at least one weight must be positive")
		}
	}
	return nil
}

// ToSearch converts to engine options.
func (o SearchOptions) ToSearch() search.Options {
	opts := search.Options{Limit: o.Limit, MinScore: o.MinScore}
	if len(o.SourceBoosts) > 0 {
		opts.SourceBoosts = make(map[source.Type]float64, len(o.SourceBoosts))
		for k, v := range o.SourceBoosts {
			opts.SourceBoosts[source.Type(k)] = v
		}
	}
	if o.Weights != nil {
		opts.Weights = search.Weights{Vector: o.Weights.Vector, Keyword: o.Weights.Keyword}
	}
	return opts
}

func knownSourceType(s string) bool {
	for _, t := range source.Types {
		if string(t) == s {
			return true
		}
	}
	return false
}

func finiteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

// NewSearchResponse builds a response from engine results and store stats.
func NewSearchResponse(results []search.Result, st store.Stats) SearchResponse {
	resp := SearchResponse{
		Results: make([]SearchResult, len(results)),
		Stats: Stats{
			TotalDocuments: st.Documents,
			TotalChunks:    st.Chunks,
		},
	}
	if !st.LastIndexedAt.IsZero() {
		t := st.LastIndexedAt.UTC()
		resp.Stats.LastIndexedAt = &t
	}
	for i, r := range results {
		resp.Results[i] = SearchResult{
			ChunkID:     r.ChunkID,
			Score:       r.Score,
			Path:        r.DocumentID,
			Namespace:   r.Namespace,
			Excerpt:     r.Excerpt,
			MatchSource: string(r.MatchSource),
			Title:       r.Title,
			SourceType:  string(r.SourceType),
		}
	}
	return resp
}

// wireResponse detects absent required fields.
type wireResponse struct {
	Results *[]SearchResult `json:"results"`
	Stats   *wireStats      `json:"stats"`
}

type wireStats struct {
	TotalDocuments *int       `json:"total_documents"`
	TotalChunks    *int       `json:"total_chunks"`
	LastIndexedAt  *time.Time `json:"last_indexed_at"`
}

// DecodeSearchResponse parses and validates a response.
func DecodeSearchResponse(data []byte) (*SearchResponse, error) {
	var w wireResponse
	if err := decodeStrict(data, &w); err != nil {
		return nil, err
	}
	switch {
	case w.Results == nil:
		return nil, missing("results")
	case w.Stats == nil:
		return nil, missing("stats")
	case w.Stats.TotalDocuments == nil:
		return nil, missing("stats.total_documents")
	case w.Stats.TotalChunks == nil:
		return nil, missing("stats.total_chunks")
	}
	resp := &SearchResponse{
		Results: *w.Results,
		Stats: Stats{
			TotalDocuments: *w.Stats.TotalDocuments,
			TotalChunks:    *w.Stats.TotalChunks,
			LastIndexedAt:  w.Stats.LastIndexedAt,
		},
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReadSearchResponse reads one response from r.
func ReadSearchResponse(r io.Reader) (*SearchResponse, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeSearchResponse(data)
}

// Validate checks that results are well formed, come from one namespace and
// are ordered by descending score.
func (r *SearchResponse) Validate() error {
	if r.Stats.TotalDocuments < 0 || r.Stats.TotalChunks < 0 {
		return invalid("stats", "counts must not be negative")
	}
	ns := ""
	for i, res := range r.Results {
		at := fmt.Sprintf("results[%d]", i)
		switch {
		case res.ChunkID == "":
			return missing(at + ".chunk_id")
		case res.Path == "":
			return missing(at + ".path")
		case math.IsNaN(res.Score) || math.IsInf(res.Score, 0):
			return invalid(at+".score", "must be a finite number")
		}
		if err := validation.ValidateNamespace(res.Namespace); err != nil {
			return invalid(at+".namespace", err.Error())
		}
		switch search.MatchSource(res.MatchSource) {
		case search.MatchVector, search.MatchKeyword, search.MatchBoth:
		default:
			return invalid(at+".match_source", "unknown value "+strconv.Quote(res.MatchSource))
		}
		if i == 0 {
			ns = res.Namespace
			continue
		}
		if res.Namespace != ns {
			return invalid(at+".namespace", "results span more than one namespace")
		}
		if res.Score > r.Results[i-1].Score {
			return invalid(at+".score", "results are not ordered by descending score")
		}
	}
	return nil
}

// Encode writes v as one JSON document followed by a newline.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
