// Package ts extracts reference directives and module imports from TypeScript and JavaScript
// sources using tree-sitter.
package ts

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/c360studio/tsproject/extract"
)

func init() {
	extract.DefaultRegistry.Register("typescript",
		[]string{".ts", ".tsx", ".mts", ".cts"},
		func() extract.Parser { return NewParser() })
	extract.DefaultRegistry.Register("javascript",
		[]string{".js", ".jsx", ".mjs", ".cjs"},
		func() extract.Parser { return NewParser() })
}

// Parser finds reference directives, import declarations, re-exports and require calls.
type Parser struct{}

// NewParser creates a TypeScript/JavaScript parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses content and returns the specifiers it contains, in source order.
func (p *Parser) Parse(ctx context.Context, filePath string, content []byte) (extract.Raw, error) {
	select {
	case <-ctx.Done():
		return extract.Raw{}, ctx.Err()
	default:
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(languageFor(filePath))

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return extract.Raw{}, fmt.Errorf("parse error: %w", err)
	}
	defer tree.Close()

	w := &walker{
		source:  content,
		seenRef: make(map[string]bool),
		seenImp: make(map[string]bool),
	}
	cursor := sitter.NewTreeCursor(tree.RootNode())
	defer cursor.Close()
	w.walk(cursor)

	return w.raw, nil
}

// languageFor returns the tree-sitter language for the file type.
func languageFor(filePath string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".tsx":
		return tsx.GetLanguage()
	case ".js", ".jsx", ".mjs", ".cjs":
		return javascript.GetLanguage()
	default:
		return typescript.GetLanguage()
	}
}

type walker struct {
	source  []byte
	raw     extract.Raw
	seenRef map[string]bool
	seenImp map[string]bool
}

func (w *walker) walk(cursor *sitter.TreeCursor) {
	node := cursor.CurrentNode()

	switch node.Type() {
	case "comment":
		if ref, ok := extract.ReferenceDirective(node.Content(w.source)); ok {
			w.addReference(ref)
		}

	case "import_statement", "export_statement", "import_require_clause":
		if src := node.ChildByFieldName("source"); src != nil {
			w.addImport(src)
		} else if node.Type() == "import_require_clause" {
			w.addImport(firstString(node))
		}

	case "call_expression":
		// CommonJS require("...")
		fn := node.ChildByFieldName("function")
		if fn != nil && fn.Content(w.source) == "require" {
			if args := node.ChildByFieldName("arguments"); args != nil {
				w.addImport(firstString(args))
			}
		}
	}

	if cursor.GoToFirstChild() {
		for {
			w.walk(cursor)
			if !cursor.GoToNextSibling() {
				break
			}
		}
		cursor.GoToParent()
	}
}

func (w *walker) addReference(ref string) {
	if !w.seenRef[ref] {
		w.seenRef[ref] = true
		w.raw.References = append(w.raw.References, ref)
	}
}

func (w *walker) addImport(node *sitter.Node) {
	if node == nil {
		return
	}
	spec := strings.Trim(node.Content(w.source), "'\"`")
	if spec == "" || w.seenImp[spec] {
		return
	}
	w.seenImp[spec] = true
	w.raw.Imports = append(w.raw.Imports, spec)
}

func firstString(node *sitter.Node) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == "string" {
			return child
		}
	}
	return nil
}
