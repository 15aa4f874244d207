package patch

import (
	"errors"
	"testing"
)

func TestExtractUDiffModify(t *testing.T) {
	diff := "--- a/x.py\n+++ b/x.py\n@@ -1,1 +1,1 @@\n-old\n+new\n"
	patches, err := ExtractUDiff(diff)
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 1 {
		t.Fatalf("got %d patches", len(patches))
	}
	p := patches[0]
	if p.Operation != OpModify || p.Path() != "x.py" || p.OldPath != "x.py" {
		t.Fatalf("unexpected patch: %+v", p)
	}
	if p.Additions != 1 || p.Deletions != 1 {
		t.Fatalf("unexpected change counts: %+v", p)
	}
}

func TestExtractUDiffAdd(t *testing.T) {
	diff := "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,1 @@\n+hello\n"
	patches, err := ExtractUDiff(diff)
	if err != nil {
		t.Fatal(err)
	}
	p := patches[0]
	if p.Operation != OpAdd || !p.IsAddedFile() || p.Path() != "new.txt" {
		t.Fatalf("unexpected patch: %+v", p)
	}
	if p.OldPath != "" {
		t.Fatalf("add patch should have no old path: %+v", p)
	}
}

func TestExtractUDiffPathWithSpaces(t *testing.T) {
	diff := "--- a/docs/release notes.md\n+++ b/docs/release notes.md\n@@ -1,1 +1,1 @@\n-old\n+new\n"
	patches, err := ExtractUDiff(diff)
	if err != nil {
		t.Fatal(err)
	}
	p := patches[0]
	if p.Operation != OpModify || p.Path() != "docs/release notes.md" {
		t.Fatalf("unexpected patch: %+v", p)
	}
}

func TestExtractUDiffTimestampSuffix(t *testing.T) {
	diff := "--- a/x.py\t2025-01-01 00:00:00\n+++ b/x.py\t2025-01-02 00:00:00\n@@ -1,1 +1,1 @@\n-old\n+new\n"
	patches, err := ExtractUDiff(diff)
	if err != nil {
		t.Fatal(err)
	}
	p := patches[0]
	if p.Operation != OpModify || p.Path() != "x.py" {
		t.Fatalf("unexpected patch: %+v", p)
	}
}

func TestExtractUDiffDelete(t *testing.T) {
	diff := "--- a/gone.txt\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-bye\n"
	patches, err := ExtractUDiff(diff)
	if err != nil {
		t.Fatal(err)
	}
	p := patches[0]
	if p.Operation != OpDelete || !p.IsRemovedFile() || p.Path() != "gone.txt" {
		t.Fatalf("unexpected patch: %+v", p)
	}
}

func TestExtractUDiffRename(t *testing.T) {
	diff := "--- a/old_name.py\n+++ b/new_name.py\n@@ -1,1 +1,1 @@\n-x\n+x\n"
	patches, err := ExtractUDiff(diff)
	if err != nil {
		t.Fatal(err)
	}
	p := patches[0]
	if p.Operation != OpRename || !p.IsRename() {
		t.Fatalf("unexpected patch: %+v", p)
	}
	if p.OldPath != "old_name.py" || p.NewPath != "new_name.py" || p.Path() != "new_name.py" {
		t.Fatalf("unexpected paths: %+v", p)
	}
}

func TestExtractUDiffMultiFile(t *testing.T) {
	diff := "--- a/one.py\n+++ b/one.py\n@@ -1,1 +1,1 @@\n-a\n+b\n" +
		"--- /dev/null\n+++ b/two.py\n@@ -0,0 +1,1 @@\n+c\n"
	patches, err := ExtractUDiff(diff)
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 2 {
		t.Fatalf("got %d patches", len(patches))
	}
	if patches[0].Path() != "one.py" || patches[1].Path() != "two.py" {
		t.Fatalf("unexpected order: %+v", patches)
	}
	if patches[1].Operation != OpAdd {
		t.Fatalf("second patch should be an add: %+v", patches[1])
	}
}

func TestExtractUDiffDuplicateHeaders(t *testing.T) {
	// A +++ header with no preceding --- lands two targets in one chunk.
	diff := "--- a/x.py\n+++ b/x.py\n+++ b/y.py\n@@ -1,1 +1,1 @@\n-a\n+b\n"
	_, err := ExtractUDiff(diff)
	var parseErr *UnidiffParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("want UnidiffParseError, got %v", err)
	}
}

func TestExtractUDiffNoHeaders(t *testing.T) {
	_, err := ExtractUDiff("just some text\n")
	var parseErr *UnidiffParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("want UnidiffParseError, got %v", err)
	}
}

func TestParseRepresentationRoundTrip(t *testing.T) {
	// Path normalization must be stable across parse cycles.
	diffs := []struct {
		diff string
		path string
	}{
		{"--- a/src/app.go\n+++ b/src/app.go\n@@ -1,1 +1,1 @@\n-a\n+b\n", "src/app.go"},
		{"--- /dev/null\n+++ b/made.go\n@@ -0,0 +1,1 @@\n+x\n", "made.go"},
		{"--- plain.go\n+++ plain.go\n@@ -1,1 +1,1 @@\n-a\n+b\n", "plain.go"},
	}
	for _, tc := range diffs {
		rep, err := ParseRepresentation(tc.diff, "UDIFF_LLM")
		if err != nil {
			t.Fatalf("%q: %v", tc.diff, err)
		}
		if !rep.HasChanges() {
			t.Fatalf("%q: no changes", tc.diff)
		}
		if got := rep.Patches[0].Path(); got != tc.path {
			t.Errorf("path = %q, want %q", got, tc.path)
		}
	}
}

func TestStripMarkdownFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```python\nprint(1)\n```", "print(1)"},
		{"```\nraw\n```", "raw"},
		{"no fences here", "no fences here"},
		{"```go\nfunc main() {}\n\tx := 1\n```", "func main() {}\n\tx := 1"},
	}
	for _, tc := range cases {
		if got := stripMarkdownFences(tc.in); got != tc.want {
			t.Errorf("stripMarkdownFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestChangeStats(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nB\nc\nd\n"
	adds, dels := ChangeStats(before, after)
	if adds != 2 || dels != 1 {
		t.Fatalf("adds=%d dels=%d, want 2/1", adds, dels)
	}
}
