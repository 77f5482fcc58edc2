package index

import "strings"

// SplitText cuts text into chunks of at most size runes with the given
// overlap between consecutive chunks. Splits prefer paragraph, then line,
// then word boundaries near the cut point.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		if s := strings.TrimSpace(text); s != "" {
			return []string{s}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = splitPoint(runes, start, end)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// splitPoint backs the cut up to the nearest natural boundary, scanning at
// most a quarter of the chunk.
func splitPoint(runes []rune, start, end int) int {
	limit := end - (end-start)/4
	for _, sep := range []string{"\n\n", "\n", " "} {
		for i := end; i > limit; i-- {
			if hasSepAt(runes, i-len([]rune(sep)), sep) {
				return i
			}
		}
	}
	return end
}

func hasSepAt(runes []rune, pos int, sep string) bool {
	sepRunes := []rune(sep)
	if pos < 0 || pos+len(sepRunes) > len(runes) {
		return false
	}
	for i, r := range sepRunes {
		if runes[pos+i] != r {
			return false
		}
	}
	return true
}
