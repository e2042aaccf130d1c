package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// ContentRoute is the URL prefix under which content files are referenced.
const ContentRoute = "/files"

// ContentStore writes externalized binary payloads under a single root.
type ContentStore struct {
	root string
}

func NewContentStore(root string) *ContentStore {
	return &ContentStore{root: strings.TrimSpace(root)}
}

// Root returns the directory holding content files.
func (c *ContentStore) Root() string {
	return c.root
}

// Write stores data as name and returns its reference path.
func (c *ContentStore) Write(name string, data []byte) (string, error) {
	p, err := c.resolvePath(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}
	return ContentRoute + "/" + filepath.Base(p), nil
}

// ContentName builds <agentID>_<timestamp>.<ext> with path-unsafe bytes replaced.
func ContentName(agentID, timestamp, ext string) string {
	name := sanitize(agentID) + "_" + sanitize(timestamp)
	if ext = sanitize(ext); ext != "" {
		name += "." + ext
	}
	return name
}

func (c *ContentStore) resolvePath(name string) (string, error) {
	rel := strings.TrimSpace(name)
	if rel == "" {
		return "", fmt.Errorf("logstore: missing content name")
	}
	if filepath.IsAbs(rel) || strings.ContainsAny(rel, `/\`) {
		return "", fmt.Errorf("logstore: content name must be a bare file name")
	}
	root, err := filepath.Abs(c.root)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, rel))
	if !isWithin(p, root) || p == root {
		return "", fmt.Errorf("logstore: content path escapes root")
	}
	return p, nil
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}

func sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if strings.Trim(out, ".") == "" {
		return strings.Repeat("_", len(out))
	}
	return out
}
