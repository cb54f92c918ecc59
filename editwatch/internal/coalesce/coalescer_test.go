package coalesce

import (
	"slices"
	"testing"

	"github.com/hazyhaar/editkit/editwatch/mutation"
)

const root = mutation.RootID

type recHistory struct {
	saves [][]mutation.Record
}

func (h *recHistory) Save(records []mutation.Record) {
	h.saves = append(h.saves, slices.Clone(records))
}

// mutableFlags lets a test flip flags between ticks.
type mutableFlags struct{ p Policy }

func (f *mutableFlags) Policy() Policy { return f.p }

func newTestCoalescer(p Policy) (*Coalescer, *recHistory, *mutableFlags, *int) {
	h := &recHistory{}
	f := &mutableFlags{p: p}
	emits := 0
	hooks := &Hooks{}
	hooks.Add(func() { emits++ })
	c := New(Config{Root: root, Flags: f, History: h, Hooks: hooks})
	return c, h, f, &emits
}

var (
	recA = mutation.Record{Kind: mutation.KindChildList, Target: 2, HTML: "<p>a</p>"}
	recB = mutation.Record{Kind: mutation.KindCharacterData, Target: 3, Value: "b"}
	recC = mutation.Record{Kind: mutation.KindAttribute, Target: 4, AttributeName: "href"}
)

func TestFirefoxFlushesWhileComposing(t *testing.T) {
	c, h, _, emits := newTestCoalescer(Policy{Firefox: true, Composing: true})

	child := mutation.Record{Kind: mutation.KindChildList, Target: 7}
	c.OnBatch(mutation.Batch{child})

	if len(h.saves) != 1 {
		t.Fatalf("saves: got %d, want 1", len(h.saves))
	}
	if len(h.saves[0]) != 1 || h.saves[0][0] != child {
		t.Errorf("saved: got %+v", h.saves[0])
	}
	if *emits != 1 {
		t.Errorf("emits: got %d, want 1", *emits)
	}
	if len(c.Pending()) != 0 {
		t.Errorf("pending: got %d, want 0", len(c.Pending()))
	}
}

func TestComposingAccumulatesAcrossTicks(t *testing.T) {
	c, h, f, emits := newTestCoalescer(Policy{Composing: true})

	c.OnBatch(mutation.Batch{recA})
	c.OnBatch(mutation.Batch{recB})

	if len(h.saves) != 0 {
		t.Fatalf("saves while composing: got %d, want 0", len(h.saves))
	}
	if got := c.Pending(); !slices.Equal(got, []mutation.Record{recA, recB}) {
		t.Fatalf("pending: got %+v", got)
	}
	if c.Ticks() != 2 {
		t.Errorf("ticks: got %d, want 2", c.Ticks())
	}

	f.p.Composing = false
	c.OnBatch(mutation.Batch{recC})

	if len(h.saves) != 1 {
		t.Fatalf("saves: got %d, want 1", len(h.saves))
	}
	if !slices.Equal(h.saves[0], []mutation.Record{recA, recB, recC}) {
		t.Errorf("saved: got %+v", h.saves[0])
	}
	if len(c.Pending()) != 0 {
		t.Errorf("pending after flush: got %d", len(c.Pending()))
	}
	if *emits != 1 {
		t.Errorf("emits: got %d, want 1", *emits)
	}
}

func TestStandardModeFlushesEveryTick(t *testing.T) {
	c, h, _, emits := newTestCoalescer(Policy{})

	c.OnBatch(mutation.Batch{recA, recB})
	c.OnBatch(mutation.Batch{recC})

	if len(h.saves) != 2 {
		t.Fatalf("saves: got %d, want 2", len(h.saves))
	}
	if !slices.Equal(h.saves[0], []mutation.Record{recA, recB}) {
		t.Errorf("saves[0]: got %+v", h.saves[0])
	}
	if *emits != 2 {
		t.Errorf("emits: got %d, want 2", *emits)
	}
}

func TestIrrelevantRootAttributeIsIgnored(t *testing.T) {
	c, h, _, emits := newTestCoalescer(Policy{})

	c.OnBatch(mutation.Batch{{Kind: mutation.KindAttribute, Target: root, AttributeName: "style"}})

	if len(h.saves) != 0 || *emits != 0 {
		t.Errorf("saves=%d emits=%d, want 0/0", len(h.saves), *emits)
	}
	if len(c.Pending()) != 0 {
		t.Errorf("pending: got %d", len(c.Pending()))
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	c, h, _, emits := newTestCoalescer(Policy{})
	c.OnBatch(nil)
	c.OnBatch(mutation.Batch{})
	if len(h.saves) != 0 || *emits != 0 {
		t.Errorf("saves=%d emits=%d, want 0/0", len(h.saves), *emits)
	}
}

func TestCompatibilityModeUsesScheduledFlush(t *testing.T) {
	c, h, _, _ := newTestCoalescer(Policy{Compatibility: true})
	scheduled := 0
	c.SetScheduledFlush(func() { scheduled++ })

	c.OnBatch(mutation.Batch{recA})
	c.OnBatch(mutation.Batch{recB})
	// Scheduled even for a fully filtered tick, and regardless of composing.
	c.OnBatch(mutation.Batch{{Kind: mutation.KindAttribute, Target: root, AttributeName: "class"}})

	if scheduled != 3 {
		t.Errorf("scheduled: got %d, want 3", scheduled)
	}
	if len(h.saves) != 0 {
		t.Fatalf("saves: got %d, want 0 (no synchronous flush)", len(h.saves))
	}

	if !c.Flush() {
		t.Fatal("Flush: got false with pending records")
	}
	if !slices.Equal(h.saves[0], []mutation.Record{recA, recB}) {
		t.Errorf("saved: got %+v", h.saves[0])
	}
}

func TestCompatibilityModeWithoutScheduledFlushAccumulates(t *testing.T) {
	c, h, _, _ := newTestCoalescer(Policy{Compatibility: true})

	c.OnBatch(mutation.Batch{recA})

	if len(h.saves) != 0 {
		t.Errorf("saves: got %d, want 0", len(h.saves))
	}
	if len(c.Pending()) != 1 {
		t.Errorf("pending: got %d, want 1", len(c.Pending()))
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	c, h, _, emits := newTestCoalescer(Policy{})
	if c.Flush() {
		t.Error("Flush: got true on empty pending set")
	}
	if len(h.saves) != 0 || *emits != 0 {
		t.Errorf("saves=%d emits=%d, want 0/0", len(h.saves), *emits)
	}
}

func TestFlushReusesPendingStorage(t *testing.T) {
	c, _, _, _ := newTestCoalescer(Policy{Composing: true})

	c.OnBatch(mutation.Batch{recA})
	before := c.Pending()[:1]
	capBefore := cap(c.Pending())

	c.Flush()

	after := c.Pending()
	if len(after) != 0 {
		t.Fatalf("pending after flush: got %d", len(after))
	}
	if cap(after) != capBefore || &after[:1][0] != &before[0] {
		t.Error("pending set was reallocated by Flush")
	}
}

func TestOrderPreservedAcrossTicks(t *testing.T) {
	c, _, _, _ := newTestCoalescer(Policy{Composing: true})

	ticks := []mutation.Batch{
		{recA, {Kind: mutation.KindAttribute, Target: root, AttributeName: "class"}, recB},
		{},
		{recC, recA},
	}
	var want []mutation.Record
	for _, b := range ticks {
		c.OnBatch(b)
		want = append(want, Filter(b, root)...)
	}

	if got := c.Pending(); !slices.Equal(got, want) {
		t.Errorf("pending: got %+v, want %+v", got, want)
	}
	if c.Ticks() != 2 {
		t.Errorf("ticks: got %d, want 2", c.Ticks())
	}
}

func TestNilHistoryAndHooks(t *testing.T) {
	c := New(Config{Root: root})
	c.OnBatch(mutation.Batch{recA})
	if len(c.Pending()) != 0 {
		t.Errorf("pending: got %d, want 0", len(c.Pending()))
	}
}

func TestPanickingHookPropagates(t *testing.T) {
	h := &recHistory{}
	hooks := &Hooks{}
	second := false
	hooks.Add(func() { panic("boom") })
	hooks.Add(func() { second = true })
	c := New(Config{Root: root, History: h, Hooks: hooks})

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate out of OnBatch")
			}
		}()
		c.OnBatch(mutation.Batch{recA})
	}()

	if second {
		t.Error("hook after the panicking one ran")
	}
	// The save and the reset happened before the hooks ran.
	if len(h.saves) != 1 || len(c.Pending()) != 0 {
		t.Errorf("saves=%d pending=%d, want 1/0", len(h.saves), len(c.Pending()))
	}
}
