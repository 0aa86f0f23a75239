package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObjectRepo struct {
	mock.Mock
}

func (m *MockObjectRepo) Create(ctx context.Context, o *StoredObject) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockObjectRepo) GetByPointer(ctx context.Context, pointer string) (*StoredObject, error) {
	args := m.Called(ctx, pointer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoredObject), args.Error(1)
}

func (m *MockObjectRepo) Delete(ctx context.Context, pointer string) error {
	args := m.Called(ctx, pointer)
	return args.Error(0)
}

func TestStoreAndOpenRoundtrip(t *testing.T) {
	repo := new(MockObjectRepo)
	gw, err := NewGateway(t.TempDir(), repo)
	require.NoError(t, err)

	var saved *StoredObject
	repo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*StoredObject) }).
		Return(nil)

	content := []byte("submission body")
	pointer, err := gw.Store(context.Background(), content, "assignment", "text/plain")
	require.NoError(t, err)
	assert.Regexp(t, `^obj-[0-9a-f]{32}-[0-9a-f]{8}$`, pointer)
	require.NotNil(t, saved)
	assert.Equal(t, pointer, saved.Pointer)
	assert.Equal(t, int64(len(content)), saved.Size)

	repo.On("GetByPointer", mock.Anything, pointer).Return(saved, nil)
	rc, meta, err := gw.Open(context.Background(), pointer)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "text/plain", meta.MediaType)
}

func TestStoreSameContentDistinctPointers(t *testing.T) {
	repo := new(MockObjectRepo)
	gw, err := NewGateway(t.TempDir(), repo)
	require.NoError(t, err)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	content := []byte("identical bytes")
	p1, err := gw.Store(context.Background(), content, "assignment", "text/plain")
	require.NoError(t, err)
	p2, err := gw.Store(context.Background(), content, "assignment", "text/plain")
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	// Same content hash, different disambiguator.
	assert.Equal(t, p1[:36], p2[:36])
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	repo := new(MockObjectRepo)
	gw, err := NewGateway(root, repo)
	require.NoError(t, err)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	_, err = gw.Store(context.Background(), []byte("x"), "avatar", "image/png")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreMetadataFailureRemovesBytes(t *testing.T) {
	root := t.TempDir()
	repo := new(MockObjectRepo)
	gw, err := NewGateway(root, repo)
	require.NoError(t, err)
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err = gw.Store(context.Background(), []byte("orphan"), "assignment", "text/plain")
	require.Error(t, err)

	// Nothing outside tmp/ may remain.
	var files []string
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	assert.Empty(t, files)
}

func TestOpenRejectsMalformedPointer(t *testing.T) {
	repo := new(MockObjectRepo)
	gw, err := NewGateway(t.TempDir(), repo)
	require.NoError(t, err)

	for _, pointer := range []string{
		"../../etc/passwd",
		"obj-short-1234",
		"obj-" + "g0g0g0g0g0g0g0g0g0g0g0g0g0g0g0g0" + "-12345678",
		"",
	} {
		_, _, err := gw.Open(context.Background(), pointer)
		assert.ErrorIs(t, err, ErrInvalidPointer, pointer)
	}
	repo.AssertNotCalled(t, "GetByPointer", mock.Anything, mock.Anything)
}

func TestOpenUnknownPointer(t *testing.T) {
	repo := new(MockObjectRepo)
	gw, err := NewGateway(t.TempDir(), repo)
	require.NoError(t, err)

	pointer := "obj-0123456789abcdef0123456789abcdef-01234567"
	repo.On("GetByPointer", mock.Anything, pointer).Return(nil, ErrObjectNotFound)

	_, _, err = gw.Open(context.Background(), pointer)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDeleteRemovesBytesAndRow(t *testing.T) {
	root := t.TempDir()
	repo := new(MockObjectRepo)
	gw, err := NewGateway(root, repo)
	require.NoError(t, err)

	var saved *StoredObject
	repo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*StoredObject) }).
		Return(nil)

	pointer, err := gw.Store(context.Background(), []byte("to delete"), "assignment", "text/plain")
	require.NoError(t, err)

	repo.On("GetByPointer", mock.Anything, pointer).Return(saved, nil)
	repo.On("Delete", mock.Anything, pointer).Return(nil)

	require.NoError(t, gw.Delete(context.Background(), pointer))

	_, err = os.Stat(gw.objectPath(pointer, saved.ContentHash))
	assert.True(t, os.IsNotExist(err))
	repo.AssertCalled(t, "Delete", mock.Anything, pointer)
}
