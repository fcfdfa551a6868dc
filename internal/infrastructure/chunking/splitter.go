package chunking

import "strings"

// Block is a chunk of text with the rune offset of its first character in the source.
type Block struct {
	Text   string
	Offset int
}

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split cuts text at blank lines first. Paragraphs longer than ChunkSize are cut into overlapping
// windows.
func (s *Splitter) Split(text string) []Block {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var out []Block
	start := 0
	for start < len(runes) {
		end := paragraphEnd(runes, start)
		out = append(out, s.window(runes, start, end)...)
		start = end
	}
	return out
}

// paragraphEnd returns the index just past the blank line that closes the paragraph at start.
func paragraphEnd(runes []rune, start int) int {
	for i := start; i < len(runes)-1; i++ {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			j := i + 1
			for j < len(runes) && (runes[j] == '\n' || runes[j] == '\r') {
				j++
			}
			return j
		}
	}
	return len(runes)
}

func (s *Splitter) window(runes []rune, from, to int) []Block {
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	var out []Block
	for start := from; start < to; start += step {
		end := start + s.ChunkSize
		if end > to {
			end = to
		}
		raw := string(runes[start:end])
		chunk := strings.TrimSpace(raw)
		if chunk != "" {
			lead := len([]rune(raw)) - len([]rune(strings.TrimLeft(raw, " \t\r\n")))
			out = append(out, Block{Text: chunk, Offset: start + lead})
		}
		if end == to {
			break
		}
	}
	return out
}
