package coalesce

import (
	"testing"

	"github.com/hazyhaar/editkit/editwatch/mutation"
)

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		rec  mutation.Record
		keep bool
	}{
		{"root style", mutation.Record{Kind: mutation.KindAttribute, Target: root, AttributeName: "style"}, false},
		{"root class", mutation.Record{Kind: mutation.KindAttribute, Target: root, AttributeName: "class"}, false},
		{"root contenteditable", mutation.Record{Kind: mutation.KindAttribute, Target: root, AttributeName: "contenteditable"}, true},
		{"child style", mutation.Record{Kind: mutation.KindAttribute, Target: 5, AttributeName: "style"}, true},
		{"root childList", mutation.Record{Kind: mutation.KindChildList, Target: root}, true},
		{"root characterData", mutation.Record{Kind: mutation.KindCharacterData, Target: root}, true},
		{"child characterData", mutation.Record{Kind: mutation.KindCharacterData, Target: 8}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(mutation.Batch{tt.rec}, root)
			if kept := len(got) == 1; kept != tt.keep {
				t.Errorf("kept: got %v, want %v", kept, tt.keep)
			}
		})
	}
}

func TestFilter_PreservesOrderAndInput(t *testing.T) {
	in := mutation.Batch{
		{Kind: mutation.KindChildList, Target: 2},
		{Kind: mutation.KindAttribute, Target: root, AttributeName: "style"},
		{Kind: mutation.KindCharacterData, Target: 3},
		{Kind: mutation.KindAttribute, Target: root, AttributeName: "contenteditable"},
	}
	orig := make(mutation.Batch, len(in))
	copy(orig, in)

	got := Filter(in, root)
	want := mutation.Batch{in[0], in[2], in[3]}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d]: %+v, want %+v", i, got[i], want[i])
		}
	}
	for i := range orig {
		if in[i] != orig[i] {
			t.Errorf("input mutated at %d", i)
		}
	}
}

func TestFilter_Empty(t *testing.T) {
	if got := Filter(nil, root); len(got) != 0 {
		t.Errorf("Filter(nil): got %d records", len(got))
	}
}
