package vfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/tsproject/project"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestOSFS_ListFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"tsproject.json":          "{}",
		".brackets-typescript":    "{}",
		"src/a.ts":                "a",
		"src/gen/b.ts":            "b",
		"node_modules/x/index.ts": "x",
		".git/HEAD":               "ref",
		"build/out.js":            "o",
	})

	fsys := NewOSFS(root, WithExcludePatterns("build/**"))
	files, err := fsys.ListFiles(context.Background())
	require.NoError(t, err)

	base := filepath.ToSlash(fsys.Root())
	assert.Equal(t, []string{
		base + "/.brackets-typescript",
		base + "/src/a.ts",
		base + "/src/gen/b.ts",
		base + "/tsproject.json",
	}, files)
}

func TestOSFS_ReadFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.ts": "content"})
	fsys := NewOSFS(root)

	content, ok := fsys.ReadFile(context.Background(), fsys.Root()+"/a.ts")
	assert.True(t, ok)
	assert.Equal(t, "content", content)

	_, ok = fsys.ReadFile(context.Background(), fsys.Root()+"/missing.ts")
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok = fsys.ReadFile(ctx, fsys.Root()+"/a.ts")
	assert.False(t, ok)
}

func TestOSFS_Excluded(t *testing.T) {
	fsys := NewOSFS("/work", WithExcludeDirs("vendor"), WithExcludePatterns("**/*.gen.ts"))

	assert.True(t, fsys.ExcludedDir("/work/vendor"))
	assert.False(t, fsys.ExcludedDir("/work/node_modules"), "defaults replaced")
	assert.True(t, fsys.Excluded("/work/src/a.gen.ts"))
	assert.False(t, fsys.Excluded("/work/src/a.ts"))
}

func TestMemFS_ReadAndList(t *testing.T) {
	m := NewMemFS(map[string]string{"/a.ts": "a", "/dir/../b.ts": "b"})
	m.ListOnly("/ghost.ts")

	files, err := m.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.ts", "/b.ts", "/ghost.ts"}, files)

	content, ok := m.ReadFile(context.Background(), "/b.ts")
	assert.True(t, ok)
	assert.Equal(t, "b", content)

	_, ok = m.ReadFile(context.Background(), "/ghost.ts")
	assert.False(t, ok)
	assert.Equal(t, 1, m.ReadCount("/ghost.ts"))
}

func TestMemFS_ChangeEvents(t *testing.T) {
	m := NewMemFS(map[string]string{"/a.ts": "a"})

	var got []project.ChangeRecord
	unsubscribe := m.Subscribe(func(records []project.ChangeRecord) {
		got = append(got, records...)
	})

	m.WriteFile("/a.ts", "a2")
	m.WriteFile("/b.ts", "b")
	m.DeleteFile("/a.ts")
	m.Reset()
	unsubscribe()
	m.WriteFile("/c.ts", "c")

	assert.Equal(t, []project.ChangeRecord{
		{Kind: project.ChangeUpdate, Path: "/a.ts"},
		{Kind: project.ChangeAdd, Path: "/b.ts"},
		{Kind: project.ChangeDelete, Path: "/a.ts"},
		{Kind: project.ChangeReset},
	}, got)
}

func TestMemFS_Block(t *testing.T) {
	m := NewMemFS(map[string]string{"/a.ts": "old"})
	release := m.Block("/a.ts")

	done := make(chan string, 1)
	go func() {
		content, _ := m.ReadFile(context.Background(), "/a.ts")
		done <- content
	}()

	select {
	case <-done:
		t.Fatal("read completed while blocked")
	case <-time.After(20 * time.Millisecond):
	}

	m.Put("/a.ts", "new")
	release()
	release()

	select {
	case content := <-done:
		assert.Equal(t, "new", content)
	case <-time.After(time.Second):
		t.Fatal("read did not complete after release")
	}
}

func TestMemFS_BlockSnapshot(t *testing.T) {
	m := NewMemFS(nil)
	release := m.BlockSnapshot("/a.ts")

	type result struct {
		content string
		ok      bool
	}
	done := make(chan result, 1)
	go func() {
		content, ok := m.ReadFile(context.Background(), "/a.ts")
		done <- result{content, ok}
	}()
	require.Eventually(t, func() bool { return m.ReadCount("/a.ts") == 1 }, time.Second, 5*time.Millisecond)

	m.Put("/a.ts", "created")
	release()

	select {
	case r := <-done:
		assert.False(t, r.ok, "the read started before the file existed")
	case <-time.After(time.Second):
		t.Fatal("read did not complete after release")
	}

	content, ok := m.ReadFile(context.Background(), "/a.ts")
	assert.True(t, ok)
	assert.Equal(t, "created", content)
}

func TestMemFS_BlockHonoursContext(t *testing.T) {
	m := NewMemFS(map[string]string{"/a.ts": "a"})
	release := m.Block("/a.ts")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := m.ReadFile(ctx, "/a.ts")
	assert.False(t, ok)
}
