package filter

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Words masks every case-insensitive occurrence of a listed word with '#'
type Words struct {
	re *regexp.Regexp
}

// NewWords builds a Words filter. Empty entries are ignored.
func NewWords(words ...string) *Words {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return &Words{}
	}
	return &Words{re: regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))}
}

// Filter implements Service
func (w *Words) Filter(_ context.Context, _ int64, text string) (string, error) {
	if w.re == nil {
		return text, nil
	}
	return w.re.ReplaceAllStringFunc(text, func(match string) string {
		return strings.Repeat("#", utf8.RuneCountInString(match))
	}), nil
}

var _ Service = (*Words)(nil)
