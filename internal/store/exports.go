package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ibeckermayer/post4me/internal/types"
)

// ExportPosts serializes posts to JSON and writes them to a timestamped file
// under dir/posts. Returns the path to the saved file.
func ExportPosts(dir string, posts []types.Post) (string, error) {
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return "", err
	}
	return writeExport(filepath.Join(dir, "posts"), ".json", data)
}

// ExportLogs writes a backend log tail under dir/logs.
func ExportLogs(dir, logs string) (string, error) {
	return writeExport(filepath.Join(dir, "logs"), ".log", []byte(logs))
}

func writeExport(dir, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	// Dashes instead of colons for filesystem compatibility
	filename := time.Now().Format("2006-01-02T15-04-05.000") + ext
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
