package record

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testTemplate() Data {
	return Data{
		"Coins": 0,
		"Gems":  0,
		"Settings": map[string]any{
			"Music":  true,
			"Volume": 0.5,
		},
		"Inventory": []any{},
	}
}

func TestReconcileFillsMissingKeys(t *testing.T) {
	target := Data{"Coins": 10}

	got := Reconcile(target, testTemplate())

	want := Data{
		"Coins": 10,
		"Gems":  0,
		"Settings": map[string]any{
			"Music":  true,
			"Volume": 0.5,
		},
		"Inventory": []any{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Reconcile mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileNilTargetCopiesTemplate(t *testing.T) {
	tpl := testTemplate()
	got := Reconcile(nil, tpl)

	if !Equal(got, tpl) {
		t.Fatalf("Expected copy of template, got %v", got)
	}

	got["Settings"].(map[string]any)["Music"] = false
	if tpl["Settings"].(map[string]any)["Music"] != true {
		t.Fatal("Template was mutated through the reconciled copy")
	}
}

func TestReconcileRecursesIntoNestedMaps(t *testing.T) {
	target := Data{"Settings": map[string]any{"Volume": 0.9, "Custom": "x"}}

	got := Reconcile(target, testTemplate())
	settings := got["Settings"].(map[string]any)

	if settings["Volume"] != 0.9 {
		t.Fatalf("Expected existing Volume 0.9, got %v", settings["Volume"])
	}
	if settings["Music"] != true {
		t.Fatalf("Expected backfilled Music true, got %v", settings["Music"])
	}
	if settings["Custom"] != "x" {
		t.Fatal("Expected key absent from template to be kept")
	}
}

func TestReconcileKeepsMismatchedTypes(t *testing.T) {
	target := Data{"Coins": "lots", "Settings": 3}

	got := Reconcile(target, testTemplate())

	if got["Coins"] != "lots" {
		t.Fatalf("Expected Coins to keep its string value, got %v", got["Coins"])
	}
	if got["Settings"] != 3 {
		t.Fatalf("Expected Settings to keep its number value, got %v", got["Settings"])
	}
}

func TestReconcileReplacingTypes(t *testing.T) {
	target := Data{"Coins": "lots", "Gems": 4, "Settings": map[string]any{"Music": "loud"}}

	got := ReconcileReplacingTypes(target, testTemplate())

	if got["Coins"] != 0 {
		t.Fatalf("Expected template number to replace string, got %v", got["Coins"])
	}
	if got["Gems"] != 4 {
		t.Fatalf("Expected matching kind to be kept, got %v", got["Gems"])
	}
	if got["Settings"].(map[string]any)["Music"] != true {
		t.Fatal("Expected nested mismatched type to be replaced")
	}
}

func TestReconcileNilValueIsBackfilled(t *testing.T) {
	got := Reconcile(Data{"Coins": nil}, testTemplate())
	if got["Coins"] != 0 {
		t.Fatalf("Expected nil value to be backfilled, got %v", got["Coins"])
	}
}

func TestReconcileIdempotent(t *testing.T) {
	targets := []Data{
		nil,
		{},
		{"Coins": 10},
		{"Coins": "x", "Extra": []any{1, 2}},
		{"Settings": map[string]any{"Volume": 1}},
	}

	for _, target := range targets {
		once := Reconcile(Clone(target), testTemplate())
		twice := Reconcile(Clone(once), testTemplate())
		if !Equal(once, twice) {
			t.Fatalf("Reconcile not idempotent for %v: once=%v twice=%v", target, once, twice)
		}
	}
}

func TestReconcileNonDestructive(t *testing.T) {
	before := Data{
		"Coins":    25,
		"Extra":    "keep",
		"Settings": map[string]any{"Volume": 0.1},
		"List":     []any{"a", "b"},
	}
	after := Reconcile(Clone(before), testTemplate())

	for k, v := range before {
		if _, isMap := v.(map[string]any); isMap {
			continue
		}
		if !Equal(after[k], v) {
			t.Fatalf("Key %q changed from %v to %v", k, v, after[k])
		}
	}
	if after["Settings"].(map[string]any)["Volume"] != 0.1 {
		t.Fatal("Nested existing value changed")
	}
}
