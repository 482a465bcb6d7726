package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrEmptyToken indicates a token source produced no credential.
var ErrEmptyToken = errors.New("empty token")

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// FileToken reads a token from a file, re-reading it when the file's
// modification time changes. Surrounding whitespace is trimmed.
type FileToken struct {
	path string

	mu      sync.Mutex
	token   string
	modTime time.Time
}

// NewFileToken creates a FileToken for path. The file is read lazily.
func NewFileToken(path string) *FileToken {
	return &FileToken{path: path}
}

// Token returns the current token from the file.
func (f *FileToken) Token(context.Context) (string, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("token file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" && info.ModTime().Equal(f.modTime) {
		return f.token, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s: %w", f.path, ErrEmptyToken)
	}

	f.token = token
	f.modTime = info.ModTime()
	return token, nil
}
