package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/models"
)

// fakeService is an in-memory file tree served under /files.
type fakeService struct {
	t *testing.T

	mu       sync.Mutex
	nodes    map[string]*fakeNode
	requests []string
	refuse   map[string]int // "METHOD /path" -> status
	afterGet func(p string) // runs once a file GET has been answered
}

type fakeNode struct {
	dir     bool
	content []byte
	version int
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	fs := &fakeService{
		t:      t,
		nodes:  map[string]*fakeNode{"/": {dir: true}},
		refuse: make(map[string]int),
	}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeService) put(p string, content string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.putLocked(p, &fakeNode{content: []byte(content), version: 1})
}

func (fs *fakeService) putLocked(p string, n *fakeNode) {
	for d := path.Dir(p); ; d = path.Dir(d) {
		if _, ok := fs.nodes[d]; !ok {
			fs.nodes[d] = &fakeNode{dir: true}
		}
		if d == "/" {
			break
		}
	}
	fs.nodes[p] = n
}

func (fs *fakeService) has(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.nodes[p]
	return ok
}

func (fs *fakeService) content(p string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n, ok := fs.nodes[p]; ok {
		return string(n.content)
	}
	return ""
}

// bump simulates a write by another client.
func (fs *fakeService) bump(p, content string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.nodes[p]
	n.content = []byte(content)
	n.version++
}

func (fs *fakeService) mutations() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []string
	for _, r := range fs.requests {
		if !strings.HasPrefix(r, "GET ") {
			out = append(out, r)
		}
	}
	return out
}

func (n *fakeNode) resource(name string) models.FileResource {
	if n.dir {
		return models.FileResource{Name: name, Type: constants.DirectoryMediaType}
	}
	return models.FileResource{
		Name:         name,
		Type:         "text/plain",
		Size:         int64(len(n.content)),
		LastModified: 1700000000000,
		ETag:         n.etag(),
	}
}

func (n *fakeNode) etag() string {
	return fmt.Sprintf(`"v%d"`, n.version)
}

func (fs *fakeService) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	p := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/files"))

	fs.mu.Lock()
	fs.requests = append(fs.requests, r.Method+" "+p)
	status, refused := fs.refuse[r.Method+" "+p]
	fs.mu.Unlock()

	if r.Header.Get("Authorization") != constants.DefaultAuthScheme+" tok" {
		w.WriteHeader(nethttp.StatusUnauthorized)
		return
	}
	if refused {
		w.WriteHeader(status)
		return
	}

	switch r.Method {
	case nethttp.MethodGet:
		fs.get(w, r, p)
	case nethttp.MethodPut:
		fs.write(w, r, p)
	case nethttp.MethodDelete:
		fs.mu.Lock()
		_, ok := fs.nodes[p]
		for k := range fs.nodes {
			if k == p || strings.HasPrefix(k, p+"/") {
				delete(fs.nodes, k)
			}
		}
		fs.mu.Unlock()
		if !ok {
			w.WriteHeader(nethttp.StatusNotFound)
		}
	case nethttp.MethodPost:
		fs.action(w, r, p)
	default:
		w.WriteHeader(nethttp.StatusBadRequest)
	}
}

func (fs *fakeService) get(w nethttp.ResponseWriter, r *nethttp.Request, p string) {
	fs.mu.Lock()
	n, ok := fs.nodes[p]
	if !ok {
		fs.mu.Unlock()
		w.WriteHeader(nethttp.StatusNotFound)
		return
	}

	if n.dir {
		if r.URL.Query().Get("_action") == "zip_download" {
			fs.mu.Unlock()
			w.Header().Set("Content-Type", "application/zip")
			fmt.Fprintf(w, "PK zip of %s", strings.Join(r.URL.Query()["file"], ","))
			return
		}
		listing := models.Listing{URI: "/files" + p}
		for k, child := range fs.nodes {
			if k != p && path.Dir(k) == p {
				listing.Files = append(listing.Files, child.resource(path.Base(k)))
				listing.Size += int64(len(child.content))
			}
		}
		fs.mu.Unlock()
		writeJSON(w, listing)
		return
	}

	body := append([]byte(nil), n.content...)
	etag := n.etag()
	hook := fs.afterGet
	fs.afterGet = nil
	fs.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("ETag", etag)
	w.Write(body)
	if hook != nil {
		hook(p)
	}
}

func (fs *fakeService) write(w nethttp.ResponseWriter, r *nethttp.Request, p string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var content []byte
	switch mediaType {
	case constants.DirectoryMediaType:
		fs.mu.Lock()
		fs.putLocked(p, &fakeNode{dir: true})
		fs.mu.Unlock()
		writeJSON(w, models.FileResource{Name: path.Base(p), Type: constants.DirectoryMediaType})
		return
	case "multipart/form-data":
		f, _, err := r.FormFile(constants.UploadFormField)
		require.NoError(fs.t, err)
		content, _ = io.ReadAll(f)
	default:
		content, _ = io.ReadAll(r.Body)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, exists := fs.nodes[p]
	if match := r.Header.Get("If-Match"); match != "" {
		if !exists || n.etag() != match {
			w.WriteHeader(nethttp.StatusPreconditionFailed)
			return
		}
	}
	if !exists {
		n = &fakeNode{}
		fs.putLocked(p, n)
	}
	n.content = content
	n.version++
	writeJSON(w, n.resource(path.Base(p)))
}

func (fs *fakeService) action(w nethttp.ResponseWriter, r *nethttp.Request, p string) {
	require.NoError(fs.t, r.ParseForm())

	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch r.PostForm.Get("_action") {
	case "copy", "move":
		src := path.Clean("/" + strings.TrimPrefix(r.PostForm.Get("source"), "/files"))
		n, ok := fs.nodes[src]
		if !ok {
			w.WriteHeader(nethttp.StatusNotFound)
			return
		}
		dst := path.Join(p, path.Base(src))
		fs.putLocked(dst, &fakeNode{dir: n.dir, content: n.content, version: 1})
		if r.PostForm.Get("_action") == "move" {
			delete(fs.nodes, src)
		}
		writeJSON(w, fs.nodes[dst].resource(path.Base(dst)))

	case "rename":
		n, ok := fs.nodes[p]
		if !ok {
			w.WriteHeader(nethttp.StatusNotFound)
			return
		}
		delete(fs.nodes, p)
		fs.nodes[path.Join(path.Dir(p), r.PostForm.Get("newName"))] = n

	case "zip":
		name := "archive.zip"
		fs.putLocked(path.Join(p, name), &fakeNode{content: []byte("PK"), version: 1})
		writeJSON(w, fs.nodes[path.Join(p, name)].resource(name))

	default:
		w.WriteHeader(nethttp.StatusBadRequest)
	}
}

func writeJSON(w nethttp.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// setupCLI points the CLI at srv with a private config directory.
func setupCLI(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("APPDATA", dir)
	t.Setenv("FILEZ_URL", srv.URL+"/files")
	t.Setenv("FILEZ_TOKEN", "tok")
	t.Setenv("FILEZ_TIMING", "")
	t.Setenv("HTTPS_PROXY", "")
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	AddCommands(root)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--rps", "0"}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestLsPrintsDirectoriesFirst(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/docs/b.txt", "bb")
	fs.put("/docs/a.txt", "a")
	fs.put("/docs/sub/c.txt", "ccc")

	out, _, err := runCLI(t, "", "ls", "/docs")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, []string{"sub/", "a.txt", "b.txt"}, lines[:3])
	assert.Contains(t, out, "1 directory, 2 files")
}

func TestLsMissingDirectoryShowsParent(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/docs/a.txt", "a")

	_, stderr, err := runCLI(t, "", "ls", "/docs/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Contains(t, stderr, "Current contents of /docs")
	assert.Contains(t, stderr, "a.txt")
}

func TestMkdirTouchAndRename(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)

	_, _, err := runCLI(t, "", "mkdir", "/projects")
	require.NoError(t, err)
	_, _, err = runCLI(t, "", "touch", "/projects/notes.txt")
	require.NoError(t, err)
	out, _, err := runCLI(t, "", "rename", "/projects/notes.txt", "todo.txt")
	require.NoError(t, err)

	assert.Contains(t, out, "Renamed /projects/notes.txt to todo.txt")
	assert.True(t, fs.has("/projects/todo.txt"))
	assert.False(t, fs.has("/projects/notes.txt"))
}

func TestRmHaltsAtFirstFailure(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/a", "1")
	fs.put("/b", "2")
	fs.put("/c", "3")
	fs.refuse["DELETE /b"] = nethttp.StatusForbidden

	out, _, err := runCLI(t, "", "rm", "--yes", "/a", "/b", "/c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operation not allowed.")

	assert.Equal(t, []string{"DELETE /a", "DELETE /b"}, fs.mutations())
	assert.False(t, fs.has("/a"))
	assert.True(t, fs.has("/b"))
	assert.True(t, fs.has("/c"))
	assert.Contains(t, out, "failed at /b, not attempted: /c")
}

func TestRmAsksForConfirmation(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/a", "1")

	_, _, err := runCLI(t, "n\n", "rm", "/a")
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.True(t, fs.has("/a"))

	_, _, err = runCLI(t, "y\n", "rm", "/a")
	require.NoError(t, err)
	assert.False(t, fs.has("/a"))
}

func TestCopyThenPasteInMarkOrder(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/src/one.txt", "1")
	fs.put("/src/two.txt", "2")
	fs.put("/dst/.keep", "")

	_, _, err := runCLI(t, "", "copy", "/src/two.txt", "/src/one.txt")
	require.NoError(t, err)

	out, _, err := runCLI(t, "", "clipboard", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "copy")
	assert.Contains(t, out, "/src/two.txt")

	_, _, err = runCLI(t, "", "paste", "/dst")
	require.NoError(t, err)

	assert.Equal(t, []string{"POST /dst", "POST /dst"}, fs.mutations())
	assert.Equal(t, "2", fs.content("/dst/two.txt"))
	assert.Equal(t, "1", fs.content("/dst/one.txt"))
	assert.True(t, fs.has("/src/one.txt"))

	// The clipboard is consumed by the paste.
	_, _, err = runCLI(t, "", "paste", "/dst")
	assert.Error(t, err)
	out, _, err = runCLI(t, "", "clipboard", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Clipboard is empty")
}

func TestCutPasteHaltEmptiesClipboard(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/src/a", "a")
	fs.put("/src/c", "c")
	fs.put("/dst/.keep", "")

	_, _, err := runCLI(t, "", "cut", "/src/a", "/src/missing", "/src/c")
	require.NoError(t, err)

	out, _, err := runCLI(t, "", "paste", "/dst")
	require.Error(t, err)
	assert.Contains(t, out, "failed at /src/missing, not attempted: /src/c")
	assert.True(t, fs.has("/dst/a"))
	assert.False(t, fs.has("/src/a"))
	assert.True(t, fs.has("/src/c"))

	out, _, err = runCLI(t, "", "clipboard", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Clipboard is empty")
}

func TestUploadDirectoryTree(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)

	local := filepath.Join(t.TempDir(), "results")
	require.NoError(t, os.MkdirAll(filepath.Join(local, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "summary.csv"), []byte("a,b\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "logs", "run.log"), []byte("ok\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, ".hidden"), []byte("x"), 0o644))

	out, _, err := runCLI(t, "", "upload", local, "--to", "/runs")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded 2 files")

	assert.Equal(t, "a,b\n", fs.content("/runs/results/summary.csv"))
	assert.Equal(t, "ok\n", fs.content("/runs/results/logs/run.log"))
	assert.False(t, fs.has("/runs/results/.hidden"))
}

func TestUploadStopsAtFailedFile(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)

	dir := t.TempDir()
	for _, name := range []string{"z.txt", "m.txt", "a.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	fs.refuse["PUT /in/m.txt"] = nethttp.StatusRequestEntityTooLarge

	out, _, err := runCLI(t, "",
		"upload", filepath.Join(dir, "z.txt"), filepath.Join(dir, "m.txt"), filepath.Join(dir, "a.txt"), "--to", "/in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Contains(t, out, "Uploaded 1 of 3 files; 1 not attempted")

	assert.Equal(t, []string{"PUT /in/z.txt", "PUT /in/m.txt"}, fs.mutations())
	assert.False(t, fs.has("/in/a.txt"))
}

func TestUploadKeepsDropOrder(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)

	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	require.NoError(t, os.MkdirAll(tree, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "a.txt"), []byte("a"), 0o644))
	for _, name := range []string{"z.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	_, _, err := runCLI(t, "",
		"upload", filepath.Join(dir, "z.txt"), tree, filepath.Join(dir, "c.txt"), "--to", "/in")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"PUT /in/z.txt",
		"PUT /in/tree/a.txt",
		"PUT /in/tree/b.txt",
		"PUT /in/c.txt",
	}, fs.mutations())
}

func TestEditSavesWithVersion(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/notes/todo.txt", "old")

	local := filepath.Join(t.TempDir(), "todo.txt")
	require.NoError(t, os.WriteFile(local, []byte("new"), 0o644))

	out, _, err := runCLI(t, "", "edit", "/notes/todo.txt", "--from", local)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved /notes/todo.txt")
	assert.Equal(t, "new", fs.content("/notes/todo.txt"))
}

func TestEditConflictKeepsBuffer(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/notes/todo.txt", "old")
	fs.afterGet = func(p string) { fs.bump(p, "theirs") }

	work := t.TempDir()
	t.Chdir(work)
	local := filepath.Join(work, "mine.txt")
	require.NoError(t, os.WriteFile(local, []byte("mine"), 0o644))

	_, stderr, err := runCLI(t, "", "edit", "/notes/todo.txt", "--from", local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Concurrent modification detected")
	assert.Contains(t, stderr, "changed on the server")
	assert.Equal(t, "theirs", fs.content("/notes/todo.txt"))

	kept, rerr := os.ReadFile(filepath.Join(work, "todo.txt.unsaved"))
	require.NoError(t, rerr)
	assert.Equal(t, "mine", string(kept))
}

func TestEditApplyKeepsSessionOpen(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("editor script needs sh")
	}
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/notes/todo.txt", "old")

	script := filepath.Join(t.TempDir(), "ed.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf + >> \"$1\"\n"), 0o755))

	out, _, err := runCLI(t, "y\n", "edit", "/notes/todo.txt", "--apply", "--editor", "sh "+script)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Saved /notes/todo.txt"))
	assert.Equal(t, "old++", fs.content("/notes/todo.txt"))
}

func TestZipDownloadWritesFile(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/reports/q1.pdf", "1")

	out := filepath.Join(t.TempDir(), "r.zip")
	_, _, err := runCLI(t, "", "zip-download", "/reports", "q1.pdf", "-o", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "PK zip of q1.pdf", string(data))
}

func TestCatToStdout(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/a.txt", "hello")

	out, _, err := runCLI(t, "", "cat", "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestMissingTokenIsReported(t *testing.T) {
	_, srv := newFakeService(t)
	setupCLI(t, srv)
	t.Setenv("FILEZ_TOKEN", "")

	_, _, err := runCLI(t, "", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session token is required")
}

func TestCatToLocalFile(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/data/run.log", "line 1\nline 2\n")

	target := filepath.Join(t.TempDir(), "new", "run.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))

	_, _, err := runCLI(t, "", "cat", "/data/run.log", "-o", target)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2\n", string(data))
}

func TestInvalidNamesAreRejectedLocally(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)
	fs.put("/a.txt", "x")

	_, _, err := runCLI(t, "", "rename", "/a.txt", "b/c.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot contain '/'")

	_, _, err = runCLI(t, "", "mkdir", "/docs/..")
	require.Error(t, err)

	assert.Empty(t, fs.mutations())
}

func TestUploadNumbersCollidingPaths(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)

	first := filepath.Join(t.TempDir(), "x.txt")
	second := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(first, []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("two"), 0o644))

	out, stderr, err := runCLI(t, "", "upload", first, second, "--to", "/in")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded 2 files")
	assert.Contains(t, stderr, "shared a destination path")

	assert.Equal(t, "one", fs.content("/in/x_1.txt"))
	assert.Equal(t, "two", fs.content("/in/x_2.txt"))
	assert.False(t, fs.has("/in/x.txt"))
}

func TestPasteWithEmptyClipboard(t *testing.T) {
	fs, srv := newFakeService(t)
	setupCLI(t, srv)

	_, _, err := runCLI(t, "", "paste", "/d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to paste")
	assert.Empty(t, fs.mutations())
}
