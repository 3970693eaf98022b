package repo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(Connection{Owner: "octo", Repo: "spoon", Token: "tok", Branch: "main"})
	c.BaseURL = srv.URL
	c.HTTPClient = &http.Client{Timeout: time.Second}
	return c
}

func TestValidateAccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/spoon" {
			w.WriteHeader(404)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(401)
			return
		}
		_, _ = w.Write([]byte(`{"default_branch":"trunk"}`))
	}))
	defer srv.Close()
	c := newTestClient(srv)
	if err := c.ValidateAccess(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.defaultBranch != "trunk" {
		t.Fatalf("expected default branch recorded, got %q", c.defaultBranch)
	}
}

func TestValidateAccess_BadCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()
	c := newTestClient(srv)
	if err := c.ValidateAccess(context.Background()); err == nil {
		t.Fatalf("expected error for bad credentials")
	}
}

func TestListFiles_FiltersBlobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/repos/octo/spoon/git/trees/main") {
			w.WriteHeader(404)
			return
		}
		_, _ = w.Write([]byte(`{"tree":[
			{"path":"README.md","type":"blob"},
			{"path":"internal","type":"tree"},
			{"path":"internal/a.go","type":"blob"}
		]}`))
	}))
	defer srv.Close()
	c := newTestClient(srv)
	files, err := c.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || files[0] != "README.md" || files[1] != "internal/a.go" {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestReadFile_DecodesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/spoon/contents/internal/a.go" {
			w.WriteHeader(404)
			return
		}
		body := map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte("package a\n")),
			"encoding": "base64",
			"sha":      "abc",
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()
	c := newTestClient(srv)
	content, err := c.ReadFile(context.Background(), "internal/a.go")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "package a\n" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestReadFile_NotFoundIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()
	c := newTestClient(srv)
	_, err := c.ReadFile(context.Background(), "missing.go")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateChange_FullSequence(t *testing.T) {
	var gotRef, gotPut, gotPull bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/spoon/git/ref/heads/main":
			_, _ = w.Write([]byte(`{"object":{"sha":"headsha"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/spoon/git/refs":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["sha"] != "headsha" || !strings.HasPrefix(body["ref"], "refs/heads/pair-ai/change-") {
				t.Errorf("unexpected ref body: %v", body)
			}
			gotRef = true
			w.WriteHeader(201)
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/spoon/contents/notes.md":
			// file does not exist on the work branch yet
			w.WriteHeader(404)
		case r.Method == http.MethodPut && r.URL.Path == "/repos/octo/spoon/contents/notes.md":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["message"] != "add notes" {
				t.Errorf("unexpected commit message %q", body["message"])
			}
			if _, ok := body["sha"]; ok {
				t.Errorf("did not expect blob sha for a new file")
			}
			gotPut = true
			w.WriteHeader(201)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/spoon/pulls":
			gotPull = true
			_, _ = w.Write([]byte(`{"html_url":"https://github.com/octo/spoon/pull/42"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(500)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)
	u, err := c.CreateChange(context.Background(), "notes.md", "hello\n", "add notes")
	if err != nil {
		t.Fatalf("create change: %v", err)
	}
	if u != "https://github.com/octo/spoon/pull/42" {
		t.Fatalf("unexpected pull url %q", u)
	}
	if !gotRef || !gotPut || !gotPull {
		t.Fatalf("missing steps: ref=%v put=%v pull=%v", gotRef, gotPut, gotPull)
	}
}

func TestCreateChange_UpdateCarriesBlobSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/repos/octo/spoon/git/ref/"):
			_, _ = w.Write([]byte(`{"object":{"sha":"headsha"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/spoon/git/refs":
			w.WriteHeader(201)
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/spoon/contents/notes.md":
			body := map[string]string{
				"content":  base64.StdEncoding.EncodeToString([]byte("old")),
				"encoding": "base64",
				"sha":      "blobsha",
			}
			_ = json.NewEncoder(w).Encode(body)
		case r.Method == http.MethodPut && r.URL.Path == "/repos/octo/spoon/contents/notes.md":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["sha"] != "blobsha" {
				t.Errorf("expected existing blob sha, got %q", body["sha"])
			}
			w.WriteHeader(200)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/spoon/pulls":
			_, _ = w.Write([]byte(`{"html_url":"https://github.com/octo/spoon/pull/43"}`))
		default:
			w.WriteHeader(500)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)
	if _, err := c.CreateChange(context.Background(), "notes.md", "new", "update notes"); err != nil {
		t.Fatalf("create change: %v", err)
	}
}
