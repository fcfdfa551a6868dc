package chunking

import "testing"

func TestSplitKeepsParagraphOffsets(t *testing.T) {
	s := NewSplitter(100, 10)
	text := "Concrete B25.\n\n  Rebar A500C, 12 mm.\nLap 40d."

	blocks := s.Split(text)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Text != "Concrete B25." || blocks[0].Offset != 0 {
		t.Fatalf("unexpected first block %+v", blocks[0])
	}
	if blocks[1].Text != "Rebar A500C, 12 mm.\nLap 40d." || blocks[1].Offset != 17 {
		t.Fatalf("unexpected second block %+v", blocks[1])
	}
}

func TestSplitWindowsLongParagraph(t *testing.T) {
	s := NewSplitter(4, 1)
	blocks := s.Split("abcdefghij")
	want := []Block{{"abcd", 0}, {"defg", 3}, {"ghij", 6}}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %+v", len(want), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("block %d: expected %+v, got %+v", i, want[i], blocks[i])
		}
	}
}

func TestNewSplitterNormalizesOptions(t *testing.T) {
	s := NewSplitter(0, 2000)
	if s.ChunkSize != 900 || s.Overlap != 225 {
		t.Fatalf("unexpected splitter %+v", s)
	}
	if blocks := s.Split(""); blocks != nil {
		t.Fatalf("expected no blocks, got %+v", blocks)
	}
}
