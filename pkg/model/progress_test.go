package model

import "testing"

func TestItemResult_AdvanceForwardOnly(t *testing.T) {
	tests := []struct {
		name string
		from ItemStatus
		to   ItemStatus
		ok   bool
		want ItemStatus
	}{
		{"pending to generating", ItemPending, ItemGenerating, true, ItemGenerating},
		{"generating to ready", ItemGenerating, ItemReady, true, ItemReady},
		{"generating to submitted", ItemGenerating, ItemSubmitted, true, ItemSubmitted},
		{"generating to error", ItemGenerating, ItemError, true, ItemError},
		{"generating stays generating", ItemGenerating, ItemGenerating, true, ItemGenerating},
		{"ready to downloaded", ItemReady, ItemDownloaded, true, ItemDownloaded},
		{"ready back to generating", ItemReady, ItemGenerating, false, ItemReady},
		{"error back to pending", ItemError, ItemPending, false, ItemError},
		{"error to ready", ItemError, ItemReady, false, ItemError},
		{"error to downloaded", ItemError, ItemDownloaded, false, ItemError},
		{"downloaded to ready", ItemDownloaded, ItemReady, false, ItemDownloaded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ItemResult{Status: tt.from}
			if got := r.Advance(tt.to); got != tt.ok {
				t.Errorf("Advance(%s) from %s = %v, want %v", tt.to, tt.from, got, tt.ok)
			}
			if r.Status != tt.want {
				t.Errorf("status = %s, want %s", r.Status, tt.want)
			}
		})
	}
}

func TestItemResult_ResetAllowsRestart(t *testing.T) {
	r := ItemResult{Status: ItemError, Error: "boom"}
	r.Reset()
	if r.Status != ItemPending || r.Error != "" {
		t.Errorf("reset should clear status and error, got %+v", r)
	}
	if !r.Advance(ItemGenerating) {
		t.Error("reset item should advance again")
	}
}

func TestEnsureItems(t *testing.T) {
	existing := []ItemResult{
		{Index: 0, Prompt: "a", Status: ItemReady},
		{Index: 1, Prompt: "b", Status: ItemError},
		{Index: 2, Prompt: "c", Status: ItemReady},
	}

	got := EnsureItems(existing, []string{"a", "B", "c", "d"})

	if len(got) != 4 {
		t.Fatalf("length = %d, want 4", len(got))
	}
	if got[0].Status != ItemReady || got[2].Status != ItemReady {
		t.Error("unchanged prompts should keep their results")
	}
	if got[1].Status != ItemPending || got[1].Prompt != "B" {
		t.Errorf("changed prompt should reset, got %+v", got[1])
	}
	if got[3].Status != ItemPending || got[3].Index != 3 {
		t.Errorf("new prompt should be pending, got %+v", got[3])
	}
}

func TestJobProgress_HasErrorsAndCounts(t *testing.T) {
	p := NewJobProgress("p1")
	p.Images = []ItemResult{{Status: ItemReady}, {Status: ItemError}, {Status: ItemReady}}
	p.Videos = []ItemResult{{Status: ItemSubmitted}}

	if !p.HasErrors() {
		t.Error("expected errors")
	}
	done, failed := Counts(p.Images)
	if done != 2 || failed != 1 {
		t.Errorf("counts = (%d, %d), want (2, 1)", done, failed)
	}

	c := p.Clone()
	c.Images[0].Status = ItemError
	if p.Images[0].Status != ItemReady {
		t.Error("clone must not share item slices")
	}
}
