// Package extract finds the files a source file references or imports.
//
// Language parsers produce raw specifiers; a Resolver turns them into absolute paths
// relative to the referencing file. Parsers register with DefaultRegistry from init().
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/c360studio/tsproject/project"
)

// ErrNoParser is returned when no parser handles a file.
var ErrNoParser = errors.New("no parser registered")

// Raw holds the specifiers found in one file, exactly as written.
type Raw struct {
	// References come from reference-path directives.
	References []string
	// Imports are module specifiers from import declarations and require calls.
	Imports []string
}

// Parser extracts raw specifiers from file content.
type Parser interface {
	Parse(ctx context.Context, filePath string, content []byte) (Raw, error)
}

var referenceDirective = regexp.MustCompile(`^///\s*<reference\s+path\s*=\s*["']([^"']+)["']`)

// ReferenceDirective returns the path of a triple-slash reference directive, if line is one.
func ReferenceDirective(line string) (string, bool) {
	m := referenceDirective.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Resolver turns raw specifiers into absolute paths.
type Resolver struct {
	// ImportExtension is appended to import specifiers that do not already carry it.
	ImportExtension string
}

// DefaultResolver appends ".ts" to imports.
var DefaultResolver = Resolver{ImportExtension: ".ts"}

// Resolve resolves raw relative to the directory of from.
func (r Resolver) Resolve(from string, raw Raw) project.References {
	dir := path.Dir(from)
	refs := project.References{
		ReferencedPaths: make([]string, 0, len(raw.References)),
		ImportedPaths:   make([]string, 0, len(raw.Imports)),
	}
	for _, spec := range raw.References {
		if spec = strings.TrimSpace(spec); spec != "" {
			refs.ReferencedPaths = append(refs.ReferencedPaths, absolute(dir, spec))
		}
	}
	for _, spec := range raw.Imports {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if r.ImportExtension != "" && !strings.HasSuffix(spec, r.ImportExtension) {
			spec += r.ImportExtension
		}
		refs.ImportedPaths = append(refs.ImportedPaths, absolute(dir, spec))
	}
	return refs
}

func absolute(dir, spec string) string {
	spec = strings.ReplaceAll(spec, "\\", "/")
	if path.IsAbs(spec) {
		return path.Clean(spec)
	}
	return path.Join(dir, spec)
}

// Extractor implements project.ReferenceExtractor on top of a parser registry.
type Extractor struct {
	registry *Registry
	resolver Resolver
	fallback string
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRegistry selects the parser registry. The default is DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(e *Extractor) { e.registry = r }
}

// WithResolver replaces DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(e *Extractor) { e.resolver = r }
}

// WithFallback names the parser used for extensions nothing is registered for.
func WithFallback(name string) Option {
	return func(e *Extractor) { e.fallback = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor. Files with unregistered extensions use the "typescript" parser.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		registry: DefaultRegistry,
		resolver: DefaultResolver,
		fallback: "typescript",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate reports an error when the fallback parser is not registered and logs what is.
func (e *Extractor) Validate() error {
	if e.fallback != "" && !e.registry.HasParser(e.fallback) {
		return fmt.Errorf("%w: fallback %s", ErrNoParser, e.fallback)
	}
	e.logger.Debug("Reference parsers registered",
		"parsers", e.registry.ListParsers(), "extensions", e.registry.ListExtensions())
	return nil
}

// Extract parses content and resolves its references relative to filePath.
func (e *Extractor) Extract(filePath, content string) (project.References, error) {
	parser, err := e.parserFor(filePath)
	if err != nil {
		return project.References{}, err
	}
	raw, err := parser.Parse(context.Background(), filePath, []byte(content))
	if err != nil {
		return project.References{}, fmt.Errorf("parse %s: %w", filePath, err)
	}
	refs := e.resolver.Resolve(filePath, raw)
	e.logger.Debug("Extracted references", "path", filePath,
		"referenced", len(refs.ReferencedPaths), "imported", len(refs.ImportedPaths))
	return refs, nil
}

func (e *Extractor) parserFor(filePath string) (Parser, error) {
	ext := strings.ToLower(path.Ext(filePath))
	if p, err := e.registry.CreateParserForExtension(ext); err == nil {
		return p, nil
	}
	if e.fallback == "" {
		return nil, fmt.Errorf("%w: extension %q", ErrNoParser, ext)
	}
	return e.registry.CreateParser(e.fallback)
}
