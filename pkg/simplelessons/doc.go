// Package simplelessons stores generated HTML templates and lessons.
//
// Document bodies live in a BlobStore and structured metadata (ownership,
// course/module relations, prompt history) lives in a Repository. The Service
// keeps a row and its blob consistent across create, update and delete even
// though the two backends fail independently and share no transaction.
//
// Ordering rules
//
// Create writes the blob first and then inserts the row, so a live row always
// references a blob that exists. Update uploads the new content under a fresh
// key, repoints the row in one transaction and only then deletes the old key.
// Delete removes the blob and then the row. When a step after a blob write
// fails the blob is left behind as an orphan; orphans are reported to the
// EventSink and can be collected later by the sweep package.
//
// Implementations of repositories (memory, Postgres) and blob stores (memory,
// filesystem, S3, MinIO, GCS) are provided under subpackages.
package simplelessons
