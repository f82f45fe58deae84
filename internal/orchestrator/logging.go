package orchestrator

import (
	"os"
	"path/filepath"
)

// appendToLogFile appends content to path, creating parent directories and
// the file itself if needed.
func appendToLogFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}
