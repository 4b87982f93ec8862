// ABOUTME: Pure stream segmenter deciding where a streamed response can be split.
// ABOUTME: Finds paragraph boundaries near the end of the accumulation so chunks ship early.

package segment

// Splitting parameters. The boundary is only searched for near the end of the
// accumulated text (the newly arrived token plus a few runes before it), and
// trivially short fragments are never flushed because they read as choppy in
// a chat client.
const (
	// Boundary is the marker a segment is split on.
	Boundary = "\n\n"

	// windowRunes is how far back into the previous buffer the boundary is
	// searched for, so a boundary straddling the buffer/token seam is found.
	windowRunes = 5

	// minRunes is the minimum accumulated length before a split is allowed.
	minRunes = 20
)

// Split examines buffer+token for a paragraph boundary in the trailing
// region (the token plus the last few runes of buffer). When a boundary is
// found and the accumulated text is long enough, it returns the text before
// the boundary as a ready segment, the text after it as the new buffer, and
// ok=true. Otherwise it returns ok=false and the full accumulation as
// leftover.
//
// No characters are lost: when ok is true,
// buffer+token == segment + Boundary + leftover.
// Callers are expected to trim the segment before delivering it.
func Split(buffer, token string) (segment, leftover string, ok bool) {
	accumulated := buffer + token
	runes := []rune(accumulated)

	if len(runes) <= minRunes {
		return "", accumulated, false
	}

	start := len([]rune(buffer)) - windowRunes
	if start < 0 {
		start = 0
	}

	idx := indexBoundary(runes[start:])
	if idx < 0 {
		return "", accumulated, false
	}

	at := start + idx
	// The text before the boundary is the would-be segment; a long token can
	// carry a boundary close to its start, so the length gate must apply to
	// the boundary position, not just the accumulation.
	if at <= minRunes {
		return "", accumulated, false
	}
	segment = string(runes[:at])
	leftover = string(runes[at+len([]rune(Boundary)):])
	return segment, leftover, true
}

// indexBoundary returns the rune index of the first boundary in rs, or -1.
func indexBoundary(rs []rune) int {
	bound := []rune(Boundary)
	for i := 0; i+len(bound) <= len(rs); i++ {
		match := true
		for j := range bound {
			if rs[i+j] != bound[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
