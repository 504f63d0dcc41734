// normalize.go — caption text cleanup for downstream AI consumption.
//
// Auto-captions carry markup, speaker markers, and stuttered repeats
// ("Hello Hello world world"). Cleanup runs per segment; deduplication runs
// once over the joined plain text.
package extractor

import (
	"regexp"
	"strings"

	"github.com/tubetext/tubetext/internal/model"
)

var (
	tagRE        = regexp.MustCompile(`<[^>]+>`)
	speakerRE    = regexp.MustCompile(`^(SPEAKER_\d+:|>>>?\s*)`)
	bracketRE    = regexp.MustCompile(`\[.*?\]`)
	parenRE      = regexp.MustCompile(`\(.*?\)`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// cleanText strips markup, speaker markers, and bracketed annotations, then
// collapses whitespace. Order matters: tags first, so a marker exposed by
// tag removal still gets stripped.
func cleanText(text string) string {
	text = tagRE.ReplaceAllString(text, "")
	text = speakerRE.ReplaceAllString(text, "")
	text = bracketRE.ReplaceAllString(text, "")
	text = parenRE.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// CleanSegments normalizes every segment, drops the ones left empty, and
// returns the deduplicated plain text of the whole transcript.
func CleanSegments(segments []model.Segment) ([]model.Segment, string) {
	cleaned := make([]model.Segment, 0, len(segments))
	var texts []string
	for _, seg := range segments {
		text := cleanText(seg.Text)
		if text == "" {
			continue
		}
		cleaned = append(cleaned, model.Segment{Start: seg.Start, Duration: seg.Duration, Text: text})
		texts = append(texts, text)
	}
	return cleaned, dedupAdjacent(strings.Join(texts, " "))
}

// JoinPlain concatenates raw segment texts without cleanup, for callers that
// disable normalization.
func JoinPlain(segments []model.Segment) string {
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	return strings.Join(texts, " ")
}

// dedupAdjacent removes immediately repeated phrases and runs until the
// text stops changing, so a phrase repeated three times collapses fully and
// the whole operation is idempotent. Each pass shrinks the text, so the
// loop terminates.
func dedupAdjacent(text string) string {
	for {
		next := dedupPass(text)
		if next == text {
			return text
		}
		text = next
	}
}

// dedupPass makes one left-to-right sweep. At each word position phrase
// lengths 4 down to 1 are tried in order; a case-insensitive match against
// the following phrase keeps the first copy and skips the second. Length 1
// is included so the single-word stutter auto-captions produce
// ("Hello Hello") collapses too.
func dedupPass(text string) string {
	words := strings.Fields(text)
	if len(words) < 4 {
		return text
	}
	var result []string
	i := 0
	for i < len(words) {
		matched := false
		for _, length := range []int{4, 3, 2, 1} {
			if i+length*2 > len(words) {
				continue
			}
			a := strings.Join(words[i:i+length], " ")
			b := strings.Join(words[i+length:i+length*2], " ")
			if strings.EqualFold(a, b) {
				result = append(result, words[i:i+length]...)
				i += length * 2
				matched = true
				break
			}
		}
		if !matched {
			result = append(result, words[i])
			i++
		}
	}
	return strings.Join(result, " ")
}
