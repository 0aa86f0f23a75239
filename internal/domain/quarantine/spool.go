package quarantine

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

var spoolNamePattern = regexp.MustCompile(`^[0-9a-f-]{36}\.bin$`)

// Spool holds the retained bytes of quarantined artifacts, separate from
// public object storage. Files follow the same tmp-then-rename discipline
// as the storage gateway so a crash never leaves a half-written spool.
type Spool struct {
	root string
}

func NewSpool(root string) (*Spool, error) {
	for _, dir := range []string{root, filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating spool directory %s: %w", dir, err)
		}
	}
	return &Spool{root: root}, nil
}

// Put retains the bytes and returns the spool name recorded on the
// quarantine record.
func (s *Spool) Put(data []byte) (string, error) {
	name := uuid.New().String() + ".bin"

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "spool-*.part")
	if err != nil {
		return "", fmt.Errorf("creating spool temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing spool file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing spool file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.root, name)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("publishing spool file: %w", err)
	}
	return name, nil
}

// Read returns the retained bytes for a spool name.
func (s *Spool) Read(name string) ([]byte, error) {
	if !spoolNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid spool name %q", name)
	}
	return os.ReadFile(filepath.Join(s.root, name))
}

// Remove discards the retained bytes. Missing files are fine: purge must
// be idempotent.
func (s *Spool) Remove(name string) error {
	if !spoolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid spool name %q", name)
	}
	if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
