package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/spf13/afero"
)

// WriteFileAtomic writes data to path via a temp file + rename so concurrent
// readers (the engine and, for tasks.json, the agent subprocess) always see
// either the previous content or the new content in full, never a partial
// write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// WriteJSONAtomic marshals v as pretty-printed JSON and writes it atomically.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data, 0644)
}

// WriteFileAtomicFS is WriteFileAtomic generalized over an afero.Fs so tests
// can exercise the same atomic-write discipline against an in-memory
// filesystem. On the real OS filesystem it delegates to renameio directly
// (which fsyncs the rename); on any other afero backend it does the
// temp-file-plus-rename dance by hand through the afero API.
func WriteFileAtomicFS(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	if _, ok := fs.(*afero.OsFs); ok {
		return WriteFileAtomic(path, data, perm)
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// WriteJSONAtomicFS is WriteJSONAtomic generalized over an afero.Fs.
func WriteJSONAtomicFS(fs afero.Fs, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteFileAtomicFS(fs, path, data, 0644)
}
