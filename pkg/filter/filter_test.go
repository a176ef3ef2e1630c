package filter

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var upper = Func(func(_ context.Context, _ int64, text string) (string, error) {
	return strings.ToUpper(text), nil
})

func sample() map[string]any {
	return map[string]any{
		"Name":  "bob",
		"Title": "hero",
		"Level": 3,
		"Pets":  []any{"rex", map[string]any{"Name": "tom"}},
		"Inventory": map[string]any{
			"Title": "sword",
		},
	}
}

func TestApplyModeAll(t *testing.T) {
	data := sample()
	n := Apply(context.Background(), upper, 1, data, Options{Mode: ModeAll})

	want := map[string]any{
		"Name":  "BOB",
		"Title": "HERO",
		"Level": 3,
		"Pets":  []any{"REX", map[string]any{"Name": "TOM"}},
		"Inventory": map[string]any{
			"Title": "SWORD",
		},
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("Unexpected result (-want +got):\n%s", diff)
	}
	if n != 5 {
		t.Fatalf("Expected 5 filtered leaves, got %d", n)
	}
}

func TestApplyAllowList(t *testing.T) {
	data := sample()
	Apply(context.Background(), upper, 1, data, Options{Mode: ModeAllowList, Keys: []string{"Title"}})

	if data["Name"] != "bob" {
		t.Fatalf("Name should not be filtered, got %v", data["Name"])
	}
	if data["Title"] != "HERO" {
		t.Fatalf("Expected HERO, got %v", data["Title"])
	}
	if data["Inventory"].(map[string]any)["Title"] != "SWORD" {
		t.Fatal("Nested Title should be filtered")
	}
	if data["Pets"].([]any)[0] != "rex" {
		t.Fatal("Sequence under an unlisted key should not be filtered")
	}
}

func TestApplyDenyList(t *testing.T) {
	data := sample()
	Apply(context.Background(), upper, 1, data, Options{Mode: ModeDenyList, Keys: []string{"Pets", "Name"}})

	if data["Name"] != "bob" {
		t.Fatalf("Denied key was filtered: %v", data["Name"])
	}
	if data["Pets"].([]any)[0] != "rex" {
		t.Fatal("Sequence under denied key was filtered")
	}
	if data["Title"] != "HERO" {
		t.Fatalf("Expected HERO, got %v", data["Title"])
	}
}

func TestApplyPlaceholderOnFailure(t *testing.T) {
	failing := Func(func(_ context.Context, _ int64, text string) (string, error) {
		if text == "bad" {
			return "", errors.New("service unavailable")
		}
		return text, nil
	})

	var failedKeys []string
	data := map[string]any{"A": "bad", "B": "good"}
	Apply(context.Background(), failing, 1, data, Options{
		OnError: func(key string, _ error) { failedKeys = append(failedKeys, key) },
	})

	if data["A"] != DefaultPlaceholder {
		t.Fatalf("Expected placeholder, got %v", data["A"])
	}
	if data["B"] != "good" {
		t.Fatalf("Expected good, got %v", data["B"])
	}
	if len(failedKeys) != 1 || failedKeys[0] != "A" {
		t.Fatalf("Expected failure reported for A, got %v", failedKeys)
	}
}

func TestCachedFilter(t *testing.T) {
	var calls int32
	svc := Func(func(_ context.Context, _ int64, text string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "*" + text, nil
	})

	c, err := NewCached(svc, 2)
	if err != nil {
		t.Fatalf("NewCached failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		out, _ := c.Filter(context.Background(), 1, "hi")
		if out != "*hi" {
			t.Fatalf("Expected *hi, got %s", out)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("Expected 1 service call, got %d", calls)
	}

	_, _ = c.Filter(context.Background(), 2, "hi")
	if c.Len() != 2 {
		t.Fatalf("Expected per-entity entries, got %d", c.Len())
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeAll, "all": ModeAll, "allowlist": ModeAllowList, "deny": ModeDenyList}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("Expected error for unknown mode")
	}
}

func TestWordsFilter(t *testing.T) {
	w := NewWords("rude", " ", "Bad")
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"rude", "####"},
		{"So RUDE and bad", "So #### and ###"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := w.Filter(context.Background(), 1, tt.in)
		if err != nil {
			t.Fatalf("Filter(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Filter(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}

	empty := NewWords()
	if got, _ := empty.Filter(context.Background(), 1, "rude"); got != "rude" {
		t.Fatalf("Expected empty word list to pass text through, got %q", got)
	}
}
