package datacache

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultKeyTemplate names records Player_1, Player_2, ...
const DefaultKeyTemplate = "Player_%i"

// KeyTemplate builds store keys from entity ids. It contains exactly one
// %i or %d placeholder.
type KeyTemplate string

// Validate checks the placeholder count
func (t KeyTemplate) Validate() error {
	s := string(t)
	n := strings.Count(s, "%i") + strings.Count(s, "%d")
	if n != 1 {
		return fmt.Errorf("key template %q must contain exactly one %%i or %%d placeholder, found %d", s, n)
	}
	return nil
}

// Key substitutes id into the template
func (t KeyTemplate) Key(id int64) string {
	s := string(t)
	idStr := strconv.FormatInt(id, 10)
	if i := strings.Index(s, "%i"); i >= 0 {
		return s[:i] + idStr + s[i+2:]
	}
	if i := strings.Index(s, "%d"); i >= 0 {
		return s[:i] + idStr + s[i+2:]
	}
	return s + idStr
}

// Parse extracts the entity id from a key built by this template
func (t KeyTemplate) Parse(key string) (int64, bool) {
	s := string(t)
	i := strings.Index(s, "%i")
	if i < 0 {
		i = strings.Index(s, "%d")
	}
	if i < 0 {
		return 0, false
	}
	prefix, suffix := s[:i], s[i+2:]
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) || len(key) <= len(prefix)+len(suffix) {
		return 0, false
	}
	id, err := strconv.ParseInt(key[len(prefix):len(key)-len(suffix)], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
