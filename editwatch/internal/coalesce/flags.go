package coalesce

// Policy is the snapshot of platform and input state that decides when a
// pending set is flushed.
type Policy struct {
	// Compatibility routes every tick through the debounced flush.
	Compatibility bool
	// Composing is true while an input-method composition is in progress.
	Composing bool
	// Firefox flushes even while composing.
	Firefox bool
}

// Flags supplies the current Policy. It is read once per tick and never
// written by the coalescer.
type Flags interface {
	Policy() Policy
}

// StaticFlags is a fixed Policy.
type StaticFlags Policy

func (s StaticFlags) Policy() Policy { return Policy(s) }
