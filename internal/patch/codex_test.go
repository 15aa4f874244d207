package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const codexSample = `*** Begin Patch
*** Update File: main.go
@@
 func main() {
-	old()
+	new()
 }
*** Add File: extra.txt
+first
+second
*** Delete File: junk.txt
*** End Patch
`

func TestExtractCodex(t *testing.T) {
	patches, err := ExtractCodex(codexSample)
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 3 {
		t.Fatalf("got %d patches", len(patches))
	}
	if patches[0].Operation != OpModify || patches[0].Path() != "main.go" {
		t.Fatalf("unexpected patch: %+v", patches[0])
	}
	if patches[0].Additions != 1 || patches[0].Deletions != 1 {
		t.Fatalf("unexpected change counts: %+v", patches[0])
	}
	if patches[1].Operation != OpAdd || patches[1].Path() != "extra.txt" || patches[1].Additions != 2 {
		t.Fatalf("unexpected patch: %+v", patches[1])
	}
	if patches[2].Operation != OpDelete || patches[2].Path() != "junk.txt" {
		t.Fatalf("unexpected patch: %+v", patches[2])
	}
}

func TestExtractCodexRename(t *testing.T) {
	text := "*** Begin Patch\n*** Update File: a.go\n*** Move to: b.go\n@@\n-x\n+y\n*** End Patch\n"
	patches, err := ExtractCodex(text)
	if err != nil {
		t.Fatal(err)
	}
	p := patches[0]
	if p.Operation != OpRename || p.OldPath != "a.go" || p.NewPath != "b.go" || p.Path() != "b.go" {
		t.Fatalf("unexpected patch: %+v", p)
	}
}

func TestExtractCodexMissingMarkers(t *testing.T) {
	if _, err := ExtractCodex("no markers"); err == nil {
		t.Fatal("want error for missing begin marker")
	}
	if _, err := ExtractCodex("*** Begin Patch\n*** Delete File: x\n"); err == nil {
		t.Fatal("want error for missing end marker")
	}
	if _, err := ExtractCodex("*** Begin Patch\n*** End Patch\n"); err == nil {
		t.Fatal("want error for empty patch")
	}
}

func TestApplyCodex(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "main.go", "package main\n\nfunc main() {\n\told()\n}\n")
	mustWrite(t, root, "junk.txt", "trash\n")

	sample := `*** Begin Patch
*** Update File: main.go
@@
 func main() {
-	old()
+	new()
 }
*** Add File: extra.txt
+first
+second
*** Delete File: junk.txt
*** End Patch
`
	if err := ApplyCodex(root, sample); err != nil {
		t.Fatal(err)
	}

	got := mustRead(t, root, "main.go")
	if !strings.Contains(got, "new()") || strings.Contains(got, "old()") {
		t.Fatalf("update not applied:\n%s", got)
	}
	if got := mustRead(t, root, "extra.txt"); got != "first\nsecond\n" {
		t.Fatalf("added file content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "junk.txt")); !os.IsNotExist(err) {
		t.Fatalf("junk.txt should be deleted, stat err = %v", err)
	}
}

func TestApplyCodexRename(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "old.txt", "keep\nchange me\n")

	text := "*** Begin Patch\n*** Update File: old.txt\n*** Move to: lib/new.txt\n@@\n keep\n-change me\n+changed\n*** End Patch\n"
	if err := ApplyCodex(root, text); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, root, "lib/new.txt"); got != "keep\nchanged\n" {
		t.Fatalf("renamed content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
		t.Fatal("old path should be gone after rename")
	}
}

func TestApplyCodexContextMismatch(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "f.txt", "completely different\n")

	text := "*** Begin Patch\n*** Update File: f.txt\n@@\n-not present\n+anything\n*** End Patch\n"
	if err := ApplyCodex(root, text); err == nil {
		t.Fatal("want error when old lines cannot be located")
	}
	// File untouched on failure.
	if got := mustRead(t, root, "f.txt"); got != "completely different\n" {
		t.Fatalf("file modified despite failure: %q", got)
	}
}

func TestApplyCodexAnchorSeek(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "g.txt", "x\nsection one\nx\nsection two\nx\n")

	// The anchor skips the first matching context so the second x changes.
	text := "*** Begin Patch\n*** Update File: g.txt\n@@ section two\n-x\n+y\n*** End Patch\n"
	if err := ApplyCodex(root, text); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, root, "g.txt"); got != "x\nsection one\nx\nsection two\ny\n" {
		t.Fatalf("anchor seek result = %q", got)
	}
}

func mustWrite(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustRead(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
