package ts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/tsproject/extract"
)

func TestParse_TypeScript(t *testing.T) {
	src := `/// <reference path="../typings/node.d.ts" />
/// <reference path='lib.d.ts'/>
import { Component } from './base';
import { Config } from "./types";
import fs = require('./fs');
export * from './reexport';
export { helper } from './helper';

// not a directive: <reference path="ignored.ts" />
const legacy = require('./legacy');
const again = require('./legacy');

export class Service extends Component {}
`
	raw, err := NewParser().Parse(context.Background(), "/root/src/service.ts", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"../typings/node.d.ts", "lib.d.ts"}, raw.References)
	assert.Equal(t, []string{"./base", "./types", "./fs", "./reexport", "./helper", "./legacy"}, raw.Imports)
}

func TestParse_JavaScript(t *testing.T) {
	src := "const a = require('./a');\nimport b from './b';\n"
	raw, err := NewParser().Parse(context.Background(), "/root/app.js", []byte(src))
	require.NoError(t, err)

	assert.Empty(t, raw.References)
	assert.ElementsMatch(t, []string{"./a", "./b"}, raw.Imports)
}

func TestParse_NoReferences(t *testing.T) {
	raw, err := NewParser().Parse(context.Background(), "/root/empty.ts", []byte("let x = 1;\n"))
	require.NoError(t, err)
	assert.Empty(t, raw.References)
	assert.Empty(t, raw.Imports)
}

func TestParse_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParser().Parse(ctx, "/root/a.ts", []byte("import './b';"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistered(t *testing.T) {
	for _, ext := range []string{".ts", ".tsx", ".js", ".mjs"} {
		_, ok := extract.DefaultRegistry.ParserName(ext)
		assert.True(t, ok, ext)
	}
	assert.True(t, extract.DefaultRegistry.HasParser("typescript"))
	assert.Subset(t, extract.DefaultRegistry.ListParsers(), []string{"javascript", "typescript"})
	assert.Subset(t, extract.DefaultRegistry.ListExtensions(), []string{".js", ".ts", ".tsx"})
	assert.NoError(t, extract.New().Validate())
}

func TestExtractor_ResolvesAgainstFile(t *testing.T) {
	src := "/// <reference path=\"../defs/d.ts\" />\nimport { x } from './x';\nimport y = require('./y.ts');\n"
	refs, err := extract.New().Extract("/root/project/src/file.ts", src)
	require.NoError(t, err)

	assert.Equal(t, []string{"/root/project/defs/d.ts"}, refs.ReferencedPaths)
	assert.Equal(t, []string{"/root/project/src/x.ts", "/root/project/src/y.ts"}, refs.ImportedPaths)
}
