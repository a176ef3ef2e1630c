package datacache

import "testing"

func TestKeyTemplateValidate(t *testing.T) {
	valid := []KeyTemplate{"Player_%i", "%d", "inv/%i/v2"}
	for _, tmpl := range valid {
		if err := tmpl.Validate(); err != nil {
			t.Fatalf("Expected %q to be valid, got %v", tmpl, err)
		}
	}

	invalid := []KeyTemplate{"Player", "", "%i_%d", "%i%i"}
	for _, tmpl := range invalid {
		if err := tmpl.Validate(); err == nil {
			t.Fatalf("Expected %q to be invalid", tmpl)
		}
	}
}

func TestKeyTemplateKey(t *testing.T) {
	tests := []struct {
		tmpl KeyTemplate
		id   int64
		want string
	}{
		{DefaultKeyTemplate, 1, "Player_1"},
		{"inv/%d/v2", 42, "inv/42/v2"},
		{"%i", -7, "-7"},
	}

	for _, tt := range tests {
		if got := tt.tmpl.Key(tt.id); got != tt.want {
			t.Fatalf("Key(%d) with %q: expected %s, got %s", tt.id, tt.tmpl, tt.want, got)
		}
	}
}

func TestKeyTemplateParse(t *testing.T) {
	tmpl := KeyTemplate("inv/%i/v2")

	id, ok := tmpl.Parse("inv/42/v2")
	if !ok || id != 42 {
		t.Fatalf("Expected 42, got %d %v", id, ok)
	}

	for _, bad := range []string{"inv//v2", "inv/x/v2", "other/1/v2", "inv/1"} {
		if _, ok := tmpl.Parse(bad); ok {
			t.Fatalf("Expected %q not to parse", bad)
		}
	}
}
