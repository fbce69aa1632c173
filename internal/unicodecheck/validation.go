// Package unicodecheck cleans user-supplied names before the relay shows them
// to other members of a room. It detects zero-width characters,
// bidirectional overrides and control characters, plus runs of combining
// marks ("Zalgo" text) that can be used to spoof or deface presence lists.
package unicodecheck

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Zero-width characters commonly used in spoofing attacks.
var zeroWidthChars = []rune{
	'\u200B', // Zero Width Space
	'\u200C', // Zero Width Non-Joiner
	'\u200D', // Zero Width Joiner
	'\u200E', // Left-to-Right Mark
	'\u200F', // Right-to-Left Mark
	'\uFEFF', // Byte Order Mark / Zero Width No-Break Space
}

// Bidirectional text override characters that can reorder displayed text.
var bidiOverrideChars = []rune{
	'\u202A', // Left-to-Right Embedding
	'\u202B', // Right-to-Left Embedding
	'\u202C', // Pop Directional Formatting
	'\u202D', // Left-to-Right Override
	'\u202E', // Right-to-Left Override
	'\u2066', // Left-to-Right Isolate
	'\u2067', // Right-to-Left Isolate
	'\u2068', // First Strong Isolate
	'\u2069', // Pop Directional Isolate
}

// MaxCombiningRun is the longest run of combining marks CleanDisplayName keeps
const MaxCombiningRun = 2

// ContainsZeroWidthChars checks for zero-width Unicode characters that can be used for spoofing.
func ContainsZeroWidthChars(s string) bool {
	return strings.ContainsFunc(s, isZeroWidthChar)
}

// ContainsBidiOverrides checks for bidirectional text override characters
// that can reorder displayed text.
func ContainsBidiOverrides(s string) bool {
	return strings.ContainsFunc(s, isBidiOverride)
}

// ContainsControlChars checks for control characters except common whitespace (\n, \r, \t).
func ContainsControlChars(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
	})
}

// HasExcessiveCombiningMarks reports a run of more than maxConsecutive
// combining marks
func HasExcessiveCombiningMarks(s string, maxConsecutive int) bool {
	run := 0
	for _, r := range s {
		if !unicode.Is(unicode.Mn, r) {
			run = 0
			continue
		}
		run++
		if run > maxConsecutive {
			return true
		}
	}
	return false
}

// IsNFCNormalized checks whether the string is in NFC (Canonical Composition) form.
func IsNFCNormalized(s string) bool {
	return norm.NFC.IsNormalString(s)
}

// CleanDisplayName returns s in NFC form with invisible, reordering, control
// and private-use characters removed, combining runs capped at
// MaxCombiningRun, whitespace collapsed, and the result cut to maxRunes.
func CleanDisplayName(s string, maxRunes int) string {
	var b strings.Builder
	run := 0
	space := false
	count := 0

	for _, r := range norm.NFC.String(s) {
		if maxRunes > 0 && count >= maxRunes {
			break
		}
		switch {
		case isZeroWidthChar(r), isBidiOverride(r), isHangulFiller(r):
			continue
		case unicode.Is(unicode.Co, r), unicode.Is(unicode.Cs, r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			run = 0
			continue
		case unicode.IsControl(r):
			continue
		case unicode.Is(unicode.Mn, r):
			run++
			if run > MaxCombiningRun {
				continue
			}
		default:
			run = 0
		}

		if space {
			b.WriteRune(' ')
			count++
			space = false
			if maxRunes > 0 && count >= maxRunes {
				break
			}
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

func isZeroWidthChar(r rune) bool {
	return slices.Contains(zeroWidthChars, r)
}

func isBidiOverride(r rune) bool {
	return slices.Contains(bidiOverrideChars, r)
}

func isHangulFiller(r rune) bool {
	return r == '\u3164' || r == '\uFFA0'
}
