package pipeline

import (
	"regexp"
	"strings"
)

// sentenceTerminator matches a sentence-ending punctuation mark plus any
// trailing whitespace, translating the original implementation's
// `_SENTENCE_PUNCTUATION_R = r"(\. |\.$|[!?;])"` into Go's regexp dialect
// (no lookahead/lookbehind, hence matching the terminator itself rather than
// splitting around it).
var sentenceTerminator = regexp.MustCompile(`[.!?;]+\s*`)

// splitSentences extracts every complete sentence from buf, in order, plus
// whatever trailing text didn't end in a terminator. If the trailing text
// alone exceeds maxChars it is force-cut into maxChars-sized pieces too —
// this keeps a caller from waiting on TTS for a run-on reply with no
// punctuation at all.
func splitSentences(buf string, maxChars int) (done []string, rest string) {
	rest = buf
	for {
		loc := sentenceTerminator.FindStringIndex(rest)
		if loc == nil {
			break
		}
		sentence := strings.TrimSpace(rest[:loc[1]])
		rest = rest[loc[1]:]
		if sentence == "" {
			continue
		}
		done = append(done, sentence)
	}
	if maxChars > 0 {
		for len(rest) > maxChars {
			cut := strings.TrimSpace(rest[:maxChars])
			rest = rest[maxChars:]
			if cut == "" {
				continue
			}
			done = append(done, cut)
		}
	}
	return done, rest
}
