// Package mutation defines the structured types flowing through editwatch.
// Capture agents produce Records, the coalescer accumulates them, and every
// flush is persisted as a Change. Consumers of the change history import
// this package to decode what sinks emit.
package mutation

// Kind is the type of structural change observed on the editing surface.
// Values match MutationRecord.type so agent payloads decode directly.
type Kind string

const (
	KindAttribute     Kind = "attributes"    // an attribute was set or removed
	KindChildList     Kind = "childList"     // children inserted or removed
	KindCharacterData Kind = "characterData" // text node content changed
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAttribute, KindChildList, KindCharacterData:
		return true
	}
	return false
}

// AttrContentEditable is the editability flag of the editing root.
const AttrContentEditable = "contenteditable"

// NodeID identifies a DOM node within one editing session. The capture
// agent assigns IDs on first sight; the observed root is always RootID.
type NodeID int64

// RootID is the NodeID the capture agent gives the observed root.
const RootID NodeID = 1

// Record is a single observed structural change.
type Record struct {
	Kind          Kind   `json:"type"`
	Target        NodeID `json:"target"`
	AttributeName string `json:"attribute_name,omitempty"` // only for KindAttribute
	XPath         string `json:"xpath,omitempty"`
	OldValue      string `json:"old_value,omitempty"`
	Value         string `json:"value,omitempty"`
	HTML          string `json:"html,omitempty"` // serialised inserted nodes for childList
	Removed       int    `json:"removed,omitempty"`
}

// Batch is the ordered set of records delivered by one observation tick.
// It is not deduplicated and may be empty.
type Batch []Record

// Change is the persisted unit: everything accumulated between two flushes.
type Change struct {
	ID        string   `json:"id"` // UUIDv7
	SessionID string   `json:"session_id"`
	Seq       uint64   `json:"seq"`   // monotonically increasing per session
	Ticks     int      `json:"ticks"` // observation ticks merged into this change
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds at flush
}
