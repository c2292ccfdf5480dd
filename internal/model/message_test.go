package model_test

import (
	"reflect"
	"testing"

	"github.com/channelhub/internal/model"
)

func TestShallowMergeNilPatchReturnsExisting(t *testing.T) {
	existing := map[string]any{"a": 1}
	got := model.ShallowMerge(existing, nil)
	if !reflect.DeepEqual(got, existing) {
		t.Fatalf("ShallowMerge(existing, nil) = %v, want %v", got, existing)
	}
}

func TestShallowMergeOverridesTopLevelKeys(t *testing.T) {
	existing := map[string]any{
		"files": []any{"a.png"},
		"done":  false,
	}
	patch := map[string]any{
		"done":  true,
		"extra": "x",
	}
	got := model.ShallowMerge(existing, patch)
	want := map[string]any{
		"files": []any{"a.png"},
		"done":  true,
		"extra": "x",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ShallowMerge = %v, want %v", got, want)
	}
	// Исходная карта не мутируется
	if existing["done"] != false {
		t.Fatal("existing map must not be mutated")
	}
}

func TestShallowMergeReplacesNestedValueWholesale(t *testing.T) {
	existing := map[string]any{"nested": map[string]any{"a": 1, "b": 2}}
	patch := map[string]any{"nested": map[string]any{"c": 3}}
	got := model.ShallowMerge(existing, patch)
	want := map[string]any{"nested": map[string]any{"c": 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("nested values must be replaced, not merged: %v", got)
	}
}

func TestShallowMergeFromNilExisting(t *testing.T) {
	got := model.ShallowMerge(nil, map[string]any{"a": 1})
	if !reflect.DeepEqual(got, map[string]any{"a": 1}) {
		t.Fatalf("ShallowMerge(nil, patch) = %v", got)
	}
}
