package briefs

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeFilename makes a title safe to use as a filename component.
// Letters, digits and "-_." pass through; everything else becomes "_".
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if utf8.RuneCountInString(s) > 255 {
		s = string([]rune(s)[:255])
	}
	return s
}

// TranscriptPath returns the on-disk location for an episode's transcript copy.
func TranscriptPath(dir, videoID, title string) string {
	return filepath.Join(dir, videoID+"_"+SanitizeFilename(title)+".md")
}

// SummaryPath returns the on-disk location for an episode's summary copy.
func SummaryPath(dir, videoID, title string) string {
	return filepath.Join(dir, videoID+"_"+SanitizeFilename(title)+".md")
}
