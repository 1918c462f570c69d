package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ibeckermayer/post4me/internal/types"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.Set("composer_text", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("composer_text", "hello again"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.Get("composer_text")
	if err != nil || !ok || v != "hello again" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}
	if err := s.Delete("composer_text", "never_set"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get("composer_text"); ok {
		t.Fatalf("key should be gone")
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	when := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetTime("digest_last_sent", when); err != nil {
		t.Fatalf("set time: %v", err)
	}
	s.Close()

	reopened := openTestStore(t, path)
	got, ok, err := reopened.GetTime("digest_last_sent")
	if err != nil || !ok || !got.Equal(when) {
		t.Fatalf("get time: %v ok=%v err=%v", got, ok, err)
	}
}

func TestExportPosts(t *testing.T) {
	dir := t.TempDir()
	path, err := ExportPosts(dir, []types.Post{{ID: 1, Text: "hi", Status: types.StatusDraft}})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, "posts")) {
		t.Fatalf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var posts []types.Post
	if err := json.Unmarshal(data, &posts); err != nil || len(posts) != 1 || posts[0].Text != "hi" {
		t.Fatalf("export content: %s err=%v", data, err)
	}
}
