package extract

import (
	"fmt"
	"sort"
	"sync"
)

// ParserFactory creates a Parser for a specific language.
type ParserFactory func() Parser

// Registry maps file extensions to language parsers.
// Parsers register themselves by name together with the extensions they handle.
// Thread-safe for concurrent access.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]ParserFactory // name → factory
	extMap  map[string]string        // extension → parser name
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[string]ParserFactory),
		extMap:  make(map[string]string),
	}
}

// Register adds a parser factory for the given extensions.
// The first registration wins if there's an extension conflict.
// Extensions include the leading dot (e.g. ".ts").
func (r *Registry) Register(name string, extensions []string, factory ParserFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.parsers[name] = factory
	for _, ext := range extensions {
		if _, exists := r.extMap[ext]; !exists {
			r.extMap[ext] = name
		}
	}
}

// ParserName returns the parser registered for a file extension.
func (r *Registry) ParserName(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.extMap[ext]
	return name, ok
}

// CreateParser instantiates a parser by name.
func (r *Registry) CreateParser(name string) (Parser, error) {
	r.mu.RLock()
	factory, ok := r.parsers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoParser, name)
	}
	return factory(), nil
}

// CreateParserForExtension instantiates the parser registered for ext.
func (r *Registry) CreateParserForExtension(ext string) (Parser, error) {
	name, ok := r.ParserName(ext)
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrNoParser, ext)
	}
	return r.CreateParser(name)
}

// HasParser reports whether a parser with the given name is registered.
func (r *Registry) HasParser(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.parsers[name]
	return ok
}

// ListParsers returns the registered parser names, sorted.
func (r *Registry) ListParsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListExtensions returns the registered file extensions, sorted.
func (r *Registry) ListExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	extensions := make([]string, 0, len(r.extMap))
	for ext := range r.extMap {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)
	return extensions
}

// DefaultRegistry is the global parser registry.
// Language parsers register themselves via init() functions.
var DefaultRegistry = NewRegistry()
