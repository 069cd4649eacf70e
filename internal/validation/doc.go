// Package validation is the boundary every external string crosses before it
// reaches ingestion or search: namespace identifiers, ticket identifiers,
// URLs, filesystem paths and query text.
//
// Every function is total over arbitrary input. Malformed UTF-8 is repaired
// or rejected, never propagated, and no function panics. Rejections are
// *errors.KBError values in the VALIDATION category.
package validation
