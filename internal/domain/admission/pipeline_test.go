package admission

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"courseguard/internal/config"
	"courseguard/internal/pkg/logger"
	"courseguard/internal/pkg/metrics"
)

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Store(ctx context.Context, data []byte, contextTag, mediaType string) (string, error) {
	args := m.Called(ctx, data, contextTag, mediaType)
	return args.String(0), args.Error(1)
}

type MockHolder struct {
	mock.Mock
}

func (m *MockHolder) Hold(ctx context.Context, h HeldArtifact) (string, error) {
	args := m.Called(ctx, h)
	return args.String(0), args.Error(1)
}

type MockVerdictRepo struct {
	mock.Mock
}

func (m *MockVerdictRepo) Create(ctx context.Context, v *VerdictRecord) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockVerdictRepo) GetByID(ctx context.Context, id string) (*VerdictRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VerdictRecord), args.Error(1)
}

// trapSource fails any read. Used to prove name-only screens never touch
// the byte stream.
type trapSource struct {
	size int64
}

func (s *trapSource) Read([]byte) (int, error) { return 0, errors.New("unexpected read") }
func (s *trapSource) Size() int64              { return s.size }

func newTestPipeline(store *MockObjectStore, holder *MockHolder, repo *MockVerdictRepo) *Pipeline {
	return NewPipeline(
		config.DefaultPolicy(),
		store,
		holder,
		repo,
		logger.New("error", "json"),
		metrics.Noop{},
	)
}

func TestAdmitAcceptsCleanSource(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	store.On("Store", mock.Anything, mock.Anything, "assignment", mock.Anything).Return("obj-abc", nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	code := []byte("def add(a, b):\n    return a + b\n")
	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:     NewSource(code),
		Filename:   "solution.py",
		Context:    config.ContextAssignment,
		UploaderID: 7,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Verdict.Status)
	assert.Equal(t, "obj-abc", res.Pointer)
	assert.Zero(t, res.Verdict.RiskScore)
	assert.Equal(t, "v1", res.Verdict.PolicyVersion)
	store.AssertExpectations(t)
	repo.AssertExpectations(t)
	holder.AssertNotCalled(t, "Hold", mock.Anything, mock.Anything)
}

func TestAdmitAcceptsSelfConsistentShellScript(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	store.On("Store", mock.Anything, mock.Anything, "assignment", mock.Anything).Return("obj-sh1", nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	script := []byte("#!/bin/sh\necho build ok\n")
	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:     NewSource(script),
		Filename:   "deploy.sh",
		Context:    config.ContextAssignment,
		UploaderID: 7,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Verdict.Status)
	assert.Zero(t, res.Verdict.RiskScore)
	holder.AssertNotCalled(t, "Hold", mock.Anything, mock.Anything)
}

func TestAdmitRejectsDeniedExtensionWithoutReading(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:     &trapSource{size: 1024},
		Filename:   "virus.exe",
		Context:    config.ContextAssignment,
		UploaderID: 7,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Verdict.Status)
	assert.Equal(t, []string{ReasonExtensionDenied}, res.Verdict.Reasons)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmitRejectsExtensionNotAllowedInContext(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:     &trapSource{size: 64},
		Filename:   "main.py",
		Context:    config.ContextAvatar,
		UploaderID: 7,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Verdict.Status)
	assert.Equal(t, []string{ReasonExtensionNotAllowed}, res.Verdict.Reasons)
}

func TestAdmitRejectsEmptyFile(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:   NewSource(nil),
		Filename: "empty.txt",
		Context:  config.ContextAssignment,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{ReasonEmptyFile}, res.Verdict.Reasons)
}

func TestAdmitRejectsOversizedDeclaration(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:   &trapSource{size: 6 << 20}, // avatar ceiling is 5 MB
		Filename: "huge.png",
		Context:  config.ContextAvatar,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{ReasonFileTooLarge}, res.Verdict.Reasons)
}

func TestAdmitUnknownContext(t *testing.T) {
	p := newTestPipeline(new(MockObjectStore), new(MockHolder), new(MockVerdictRepo))

	_, err := p.Admit(context.Background(), Artifact{
		Source:   NewSource([]byte("x")),
		Filename: "a.txt",
		Context:  "profile_banner",
	})

	assert.ErrorIs(t, err, ErrUnknownContext)
}

func TestAdmitRejectsArchiveBomb(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	bomb := buildZip(t, map[string][]byte{
		"zeros.txt": bytes.Repeat([]byte{0}, 4<<20),
	})

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:   NewSource(bomb),
		Filename: "homework.zip",
		Context:  config.ContextAssignment,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Verdict.Status)
	assert.Equal(t, []string{ReasonArchiveLimits}, res.Verdict.Reasons)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmitScrubsImageBeforeStorage(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	exif := append(append([]byte{}, exifHeader...), buildEXIF(1)...)
	img := buildJPEG(t, jpegSegment(markerAPP1, exif))

	var storedBytes []byte
	store.On("Store", mock.Anything, mock.Anything, "avatar", "image/jpeg").
		Run(func(args mock.Arguments) { storedBytes = args.Get(1).([]byte) }).
		Return("obj-img", nil)

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:   NewSource(img),
		Filename: "me.jpg",
		Context:  config.ContextAvatar,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Verdict.Status)
	require.NotNil(t, storedBytes)
	assert.False(t, bytes.Contains(storedBytes, exifHeader), "EXIF must not reach storage")
}

func TestAdmitRejectsMalformedImage(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	img := buildMinimalPNG(t)
	img[len(img)-1] ^= 0xFF

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:   NewSource(img),
		Filename: "pic.png",
		Context:  config.ContextAvatar,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{ReasonImageMalformed}, res.Verdict.Reasons)
}

func TestAdmitQuarantinesSignatureMismatch(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	content := []byte("#!/bin/sh\nrm -rf ~/\n")
	var held HeldArtifact
	holder.On("Hold", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { held = args.Get(1).(HeldArtifact) }).
		Return("rec-1", nil)

	res, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:     NewSource(content),
		Filename:   "note.txt",
		Context:    config.ContextAssignment,
		UploaderID: 9,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusQuarantined, res.Verdict.Status)
	assert.Equal(t, "rec-1", res.QuarantineID)
	assert.Contains(t, res.Verdict.Reasons, ReasonSignatureMismatch)
	assert.Equal(t, content, held.Data)
	assert.Equal(t, int64(9), held.UploaderID)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmitIsDeterministicForSameBytes(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	holder.On("Hold", mock.Anything, mock.Anything).Return("rec-x", nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	p := newTestPipeline(store, holder, repo)
	content := []byte("#!/bin/sh\necho hi\n")

	first, err := p.Admit(context.Background(), Artifact{
		Source: NewSource(content), Filename: "note.txt", Context: config.ContextAssignment,
	})
	require.NoError(t, err)
	second, err := p.Admit(context.Background(), Artifact{
		Source: NewSource(content), Filename: "note.txt", Context: config.ContextAssignment,
	})
	require.NoError(t, err)

	assert.Equal(t, first.Verdict.Status, second.Verdict.Status)
	assert.Equal(t, first.Verdict.Reasons, second.Verdict.Reasons)
	assert.Equal(t, first.Verdict.RiskScore, second.Verdict.RiskScore)
}

func TestAdmitStorageFailureSurfaces(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	store.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("disk full"))

	_, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:   NewSource([]byte("notes\n")),
		Filename: "a.txt",
		Context:  config.ContextAssignment,
	})

	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestAdmitHoldFailureSurfaces(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	holder.On("Hold", mock.Anything, mock.Anything).Return("", errors.New("spool unavailable"))

	_, err := newTestPipeline(store, holder, repo).Admit(context.Background(), Artifact{
		Source:   NewSource([]byte("#!/bin/sh\n")),
		Filename: "note.txt",
		Context:  config.ContextAssignment,
	})

	assert.ErrorIs(t, err, ErrQuarantineHold)
}
