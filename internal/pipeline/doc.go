// Package pipeline defines the core types and interfaces shared by the
// ingestion stages: queued work items, raw documents, chunks, and the
// per-batch outcome contract that drives queue acknowledgement.
package pipeline
