package extract

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/tsproject/project"
)

// lineParser recognises `ref <path>` and `import <spec>` lines.
type lineParser struct{}

func (lineParser) Parse(_ context.Context, _ string, content []byte) (Raw, error) {
	var raw Raw
	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "ref":
			raw.References = append(raw.References, fields[1])
		case "import":
			raw.Imports = append(raw.Imports, fields[1])
		case "fail":
			return Raw{}, errors.New(fields[1])
		}
	}
	return raw, nil
}

func newLineRegistry() *Registry {
	r := NewRegistry()
	r.Register("lines", []string{".ts"}, func() Parser { return lineParser{} })
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("first", []string{".a", ".b"}, func() Parser { return lineParser{} })
	r.Register("second", []string{".b", ".c"}, func() Parser { return lineParser{} })

	name, ok := r.ParserName(".b")
	require.True(t, ok)
	assert.Equal(t, "first", name, "first registration wins")

	name, ok = r.ParserName(".c")
	require.True(t, ok)
	assert.Equal(t, "second", name)

	_, ok = r.ParserName(".d")
	assert.False(t, ok)

	assert.Equal(t, []string{"first", "second"}, r.ListParsers())
	assert.Equal(t, []string{".a", ".b", ".c"}, r.ListExtensions())
	assert.True(t, r.HasParser("first"))
	assert.False(t, r.HasParser("third"))
}

func TestExtractor_Validate(t *testing.T) {
	e := New(WithRegistry(newLineRegistry()), WithFallback("lines"))
	assert.NoError(t, e.Validate())

	e = New(WithRegistry(newLineRegistry()))
	assert.ErrorIs(t, e.Validate(), ErrNoParser, "typescript fallback is not registered")

	e = New(WithRegistry(NewRegistry()), WithFallback(""))
	assert.NoError(t, e.Validate())
}

func TestRegistry_CreateParserErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.CreateParser("missing")
	assert.ErrorIs(t, err, ErrNoParser)

	_, err = r.CreateParserForExtension(".zz")
	assert.ErrorIs(t, err, ErrNoParser)
}

func TestReferenceDirective(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{`/// <reference path="a.ts" />`, "a.ts", true},
		{`///<reference path='../b.d.ts'/>`, "../b.d.ts", true},
		{`   /// <reference   path = "c.ts"/>`, "c.ts", true},
		{`// <reference path="d.ts" />`, "", false},
		{`/// <reference types="node" />`, "", false},
		{`let x = 1;`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ReferenceDirective(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	raw := Raw{
		References: []string{"../file1.ts", "/abs/lib.d.ts", " "},
		Imports:    []string{"./mod", "./other.ts", "../up/x"},
	}
	refs := DefaultResolver.Resolve("/root/project/src/file.ts", raw)

	assert.Equal(t, []string{"/root/project/file1.ts", "/abs/lib.d.ts"}, refs.ReferencedPaths)
	assert.Equal(t, []string{
		"/root/project/src/mod.ts",
		"/root/project/src/other.ts",
		"/root/project/up/x.ts",
	}, refs.ImportedPaths)
}

func TestResolver_NoImportExtension(t *testing.T) {
	refs := Resolver{}.Resolve("/a/b.ts", Raw{Imports: []string{"./c"}})
	assert.Equal(t, []string{"/a/c"}, refs.ImportedPaths)
}

func TestExtractor_Extract(t *testing.T) {
	e := New(WithRegistry(newLineRegistry()))

	refs, err := e.Extract("/root/a.ts", "ref b.ts\nimport ./c\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"/root/b.ts"}, refs.ReferencedPaths)
	assert.Equal(t, []string{"/root/c.ts"}, refs.ImportedPaths)
}

func TestExtractor_Fallback(t *testing.T) {
	e := New(WithRegistry(newLineRegistry()), WithFallback("lines"))
	refs, err := e.Extract("/root/a.d.unknown", "ref b.ts\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"/root/b.ts"}, refs.ReferencedPaths)

	e = New(WithRegistry(newLineRegistry()), WithFallback(""))
	_, err = e.Extract("/root/a.unknown", "ref b.ts\n")
	assert.ErrorIs(t, err, ErrNoParser)
}

func TestExtractor_ParseError(t *testing.T) {
	e := New(WithRegistry(newLineRegistry()))
	_, err := e.Extract("/root/a.ts", "fail boom\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

type countingExtractor struct {
	calls atomic.Int32
	err   error
}

func (c *countingExtractor) Extract(p, _ string) (project.References, error) {
	c.calls.Add(1)
	if c.err != nil {
		return project.References{}, c.err
	}
	return project.References{ReferencedPaths: []string{p + ".dep"}}, nil
}

func TestCached(t *testing.T) {
	next := &countingExtractor{}
	c, err := NewCached(next, 2)
	require.NoError(t, err)

	first, err := c.Extract("/a.ts", "x")
	require.NoError(t, err)
	second, err := c.Extract("/a.ts", "x")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())

	_, err = c.Extract("/a.ts", "changed")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load(), "content change misses the cache")

	_, err = c.Extract("/b.ts", "x")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len(), "bounded by size")
}

func TestCached_FailuresNotCached(t *testing.T) {
	next := &countingExtractor{err: errors.New("bad")}
	c, err := NewCached(next, 0)
	require.NoError(t, err)

	_, err = c.Extract("/a.ts", "x")
	require.Error(t, err)
	_, err = c.Extract("/a.ts", "x")
	require.Error(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestComputeHash(t *testing.T) {
	h := ComputeHash([]byte("content"))
	assert.Len(t, h, 64)
	assert.Equal(t, h, ComputeHash([]byte("content")))
	assert.NotEqual(t, h, ComputeHash([]byte("other")))
}
