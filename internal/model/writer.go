package model

// Writer defines a generic interface for persisting a finalized flow batch.
type Writer interface {
	// Name identifies the writer in logs.
	Name() string

	// Write persists one batch. A failing writer must not affect the others.
	Write(batch *Batch) error
}
