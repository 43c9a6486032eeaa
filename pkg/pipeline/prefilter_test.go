package pipeline

import (
	"strings"
	"testing"
)

func TestTagsMapExprReferencesGivenColumn(t *testing.T) {
	got := tagsMapExpr("tags_json")
	want := "COALESCE(NULLIF(tags_json, ''), '{}')::JSON::MAP(VARCHAR, VARCHAR)"
	if got != want {
		t.Errorf("tagsMapExpr(%q) = %q, want %q", "tags_json", got, want)
	}
}

func TestTagsMapExprDistinctColumns(t *testing.T) {
	if tagsMapExpr("a") == tagsMapExpr("b") {
		t.Error("tagsMapExpr() ignores its column argument")
	}
	if !strings.Contains(tagsMapExpr("raw"), "NULLIF(raw, '')") {
		t.Errorf("tagsMapExpr(%q) = %q, want the given column inside NULLIF", "raw", tagsMapExpr("raw"))
	}
}
