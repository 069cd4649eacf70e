package extract

import (
	"context"
	"errors"
)

var errBinary = errors.New("content is binary")

// PlainText extracts text files as-is after encoding cleanup.
type PlainText struct{}

// NewPlainText creates a plain text extractor.
func NewPlainText() *PlainText { return &PlainText{} }

// Format returns "text".
func (p *PlainText) Format() string { return "text" }

// Extract rejects binary content and cleans the rest.
func (p *PlainText) Extract(_ context.Context, raw []byte) (Result, error) {
	if IsBinary(raw) {
		return Result{}, errBinary
	}
	return Result{Text: cleanText(string(raw))}, nil
}
