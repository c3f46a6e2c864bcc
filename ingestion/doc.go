// Package ingestion turns documents on disk into embedded passages in a
// passage store.
//
// The Pipeline type manages the ingestion workflow:
//   - Checking the document exists
//   - Loading it with a langchaingo document loader chosen by extension
//   - Splitting it into overlapping chunks
//   - Embedding chunks in concurrent batches with retry
//   - Writing the passages to the store
//
// A missing document is reported with ErrDocumentNotFound so callers can
// distinguish "nothing to ingest" from a real failure.
package ingestion
