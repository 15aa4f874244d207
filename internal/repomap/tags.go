package repomap

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// TagKind distinguishes definitions from references.
type TagKind string

const (
	TagDef TagKind = "def"
	TagRef TagKind = "ref"
)

// Tag is one captured definition or reference in a source file. Line is
// zero-based.
type Tag struct {
	Name string
	Kind TagKind
	Line int
}

// ExtractionError wraps a per-file extraction failure. Callers log it and
// skip the file; it never aborts map generation.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract tags from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var (
	pythonDefRe = regexp.MustCompile(`^\s*(?:class|def|async\s+def)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	jsDefRe     = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?(?:class|function|interface|enum|type)\s+([a-zA-Z_$][a-zA-Z0-9_$]*)`)
	jsConstRe   = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([a-zA-Z_$][a-zA-Z0-9_$]*)\s*=\s*(?:async\s+)?(?:\(|function)`)
	javaDefRe   = regexp.MustCompile(`^\s*(?:public|private|protected|static|final|abstract|\s)*(?:class|interface|enum|record)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	identRe     = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
)

var regexLangKeywords = map[string]bool{
	"class": true, "def": true, "async": true, "await": true, "function": true,
	"const": true, "let": true, "var": true, "export": true, "import": true,
	"from": true, "return": true, "if": true, "else": true, "elif": true,
	"for": true, "while": true, "in": true, "of": true, "new": true,
	"public": true, "private": true, "protected": true, "static": true,
	"final": true, "abstract": true, "interface": true, "enum": true,
	"record": true, "void": true, "int": true, "self": true, "this": true,
	"true": true, "false": true, "True": true, "False": true, "None": true,
	"null": true, "undefined": true, "type": true, "default": true,
	"try": true, "except": true, "catch": true, "finally": true, "raise": true,
	"throw": true, "with": true, "as": true, "pass": true, "not": true,
	"and": true, "or": true, "is": true, "lambda": true, "package": true,
}

// ExtractTags extracts definition and reference tags from a file. Files of
// unknown languages and empty files yield no tags.
func ExtractTags(path string) ([]Tag, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return extractGoTags(path)
	case ".py":
		return extractRegexTags(path, pythonDefRe, nil)
	case ".js", ".jsx", ".ts", ".tsx", ".mjs":
		return extractRegexTags(path, jsDefRe, jsConstRe)
	case ".java":
		return extractRegexTags(path, javaDefRe, nil)
	default:
		return nil, nil
	}
}

func extractGoTags(path string) ([]Tag, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	if len(src) == 0 {
		return nil, nil
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, 0)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}

	var tags []Tag
	defIdents := make(map[*ast.Ident]bool)
	addDef := func(id *ast.Ident) {
		if id == nil || id.Name == "_" {
			return
		}
		defIdents[id] = true
		tags = append(tags, Tag{Name: id.Name, Kind: TagDef, Line: fset.Position(id.Pos()).Line - 1})
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			addDef(d.Name)
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch sp := spec.(type) {
				case *ast.TypeSpec:
					addDef(sp.Name)
				case *ast.ValueSpec:
					for _, name := range sp.Names {
						addDef(name)
					}
				}
			}
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		id, ok := n.(*ast.Ident)
		if !ok || id.Name == "_" || defIdents[id] {
			return true
		}
		tags = append(tags, Tag{Name: id.Name, Kind: TagRef, Line: fset.Position(id.Pos()).Line - 1})
		return true
	})
	return tags, nil
}

// extractRegexTags captures per-line definitions via defRe (and altRe when
// given) and treats every other identifier occurrence as a reference.
func extractRegexTags(path string, defRe *regexp.Regexp, altRe *regexp.Regexp) ([]Tag, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	if len(src) == 0 {
		return nil, nil
	}

	var tags []Tag
	for i, line := range strings.Split(string(src), "\n") {
		defNames := make(map[string]bool)
		if m := defRe.FindStringSubmatch(line); m != nil {
			tags = append(tags, Tag{Name: m[1], Kind: TagDef, Line: i})
			defNames[m[1]] = true
		} else if altRe != nil {
			if m := altRe.FindStringSubmatch(line); m != nil {
				tags = append(tags, Tag{Name: m[1], Kind: TagDef, Line: i})
				defNames[m[1]] = true
			}
		}

		for _, ident := range identRe.FindAllString(line, -1) {
			if regexLangKeywords[ident] || defNames[ident] {
				continue
			}
			tags = append(tags, Tag{Name: ident, Kind: TagRef, Line: i})
		}
	}
	return tags, nil
}
