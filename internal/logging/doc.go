// Package logging sets up structured JSON logging for assistkb.
//
// Logs go to ~/.assistkb/logs/assistkb.log with size-based rotation and,
// optionally, to stderr. Messages are snake_case event names with attributes,
// for example slog.Info("document_upserted", "namespace", ns, "chunks", n).
package logging
