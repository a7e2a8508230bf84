package config

import (
	"os"
	"path/filepath"
)

// DefaultIgnoreContent seeds the ignore file used by find_pdf_files.
const DefaultIgnoreContent = `# pdf-mcp ignore rules (gitignore format)
# Directories
.git
node_modules
.cache
.Trash
# Files
~$*
*.part
*.crdownload
`

// ReadIgnoreFile returns the raw ignore rules at path. A missing file is
// created with DefaultIgnoreContent; if that write fails the default content
// is still returned. An empty path means no file: the defaults apply.
func ReadIgnoreFile(path string) ([]byte, error) {
	if path == "" {
		return []byte(DefaultIgnoreContent), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		def := []byte(DefaultIgnoreContent)
		_ = WriteIgnoreFile(abs, def)
		return def, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteIgnoreFile replaces the ignore file, creating its directory if needed.
func WriteIgnoreFile(path string, content []byte) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	return os.WriteFile(abs, content, 0644)
}
