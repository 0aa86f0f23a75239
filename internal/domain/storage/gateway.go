package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const tmpDir = "tmp"

// pointerPattern is the only accepted pointer shape. Validating it before
// touching the filesystem keeps retrieval free of path traversal by
// construction.
var pointerPattern = regexp.MustCompile(`^obj-[0-9a-f]{32}-[0-9a-f]{8}$`)

// Gateway writes accepted bytes to a collision-free, traversal-proof
// location and serves them back by pointer only. Locations derive from the
// content hash plus a random disambiguator, never from the original
// filename, so two uploads can never fight over a path.
type Gateway struct {
	root string
	repo Repository
}

// NewGateway creates a Gateway rooted at the given directory. The root
// and its tmp dir are created if missing.
func NewGateway(root string, repo Repository) (*Gateway, error) {
	for _, dir := range []string{root, filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
		}
	}
	return &Gateway{root: root, repo: repo}, nil
}

// Store persists the bytes atomically and returns the pointer. A crash
// mid-write never leaves a partially visible object: bytes land in tmp/
// and become reachable only through the final rename.
func (g *Gateway) Store(ctx context.Context, data []byte, contextTag, mediaType string) (string, error) {
	sum := blake2b.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	pointer := fmt.Sprintf("obj-%s-%s", hash[:32], disambiguator())

	tmpFile, err := os.CreateTemp(filepath.Join(g.root, tmpDir), "obj-*.part")
	if err != nil {
		return "", fmt.Errorf("creating temp object: %w", err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing object: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing object: %w", err)
	}

	finalPath := g.objectPath(pointer, hash)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("creating shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("publishing object: %w", err)
	}

	record := &StoredObject{
		Pointer:     pointer,
		ContentHash: hash,
		Context:     contextTag,
		MediaType:   mediaType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	if err := g.repo.Create(ctx, record); err != nil {
		os.Remove(finalPath)
		return "", fmt.Errorf("recording object: %w", err)
	}
	return pointer, nil
}

// Open returns the object's bytes and metadata. Retrieval is by pointer
// only; nothing here can re-derive an original filename.
func (g *Gateway) Open(ctx context.Context, pointer string) (io.ReadCloser, *StoredObject, error) {
	if !pointerPattern.MatchString(pointer) {
		return nil, nil, ErrInvalidPointer
	}
	meta, err := g.repo.GetByPointer(ctx, pointer)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(g.objectPath(pointer, meta.ContentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("opening object: %w", err)
	}
	return f, meta, nil
}

// Delete removes the object's bytes and metadata row.
func (g *Gateway) Delete(ctx context.Context, pointer string) error {
	if !pointerPattern.MatchString(pointer) {
		return ErrInvalidPointer
	}
	meta, err := g.repo.GetByPointer(ctx, pointer)
	if err != nil {
		return err
	}
	if err := os.Remove(g.objectPath(pointer, meta.ContentHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing object: %w", err)
	}
	return g.repo.Delete(ctx, pointer)
}

// objectPath shards by the first two hash byte pairs so directories stay
// small. The sharding scheme is internal; the public contract is the
// pointer alone.
func (g *Gateway) objectPath(pointer, hash string) string {
	return filepath.Join(g.root, hash[0:2], hash[2:4], pointer)
}

func disambiguator() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}
