package admission

import (
	"bytes"
	"io"
	"time"

	"courseguard/internal/config"
)

// ByteSource is the one capability every artifact source must provide:
// sequential read of a known total length. Request bodies, spooled files,
// and archive member streams all fit behind it.
type ByteSource interface {
	io.Reader
	Size() int64
}

type memorySource struct {
	r    *bytes.Reader
	size int64
}

// NewSource wraps an in-memory byte slice as a ByteSource.
func NewSource(data []byte) ByteSource {
	return &memorySource{r: bytes.NewReader(data), size: int64(len(data))}
}

func (s *memorySource) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *memorySource) Size() int64                { return s.size }

// Artifact is a single user-submitted file awaiting a verdict. Everything
// the client declared about it is untrusted.
type Artifact struct {
	Source       ByteSource
	Filename     string
	DeclaredMIME string
	Context      config.ContextTag
	UploaderID   int64
}

// Status is the admission outcome for an artifact.
type Status string

const (
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusQuarantined Status = "quarantined"
)

// Reason codes carried on verdicts. These are the stable, displayable
// identifiers; the reason detail strings elaborate for humans.
const (
	ReasonExtensionDenied     = "extension_denied"
	ReasonExtensionNotAllowed = "extension_not_allowed"
	ReasonEmptyFile           = "empty_file"
	ReasonFileTooLarge        = "file_too_large"
	ReasonArchiveLimits       = "archive_limits_exceeded"
	ReasonArchiveTraversal    = "archive_path_traversal"
	ReasonArchiveNesting      = "archive_nesting_too_deep"
	ReasonArchiveMalformed    = "malformed_archive"
	ReasonArchiveMemberDenied = "archive_member_denied"
	ReasonImageMalformed      = "malformed_image"
	ReasonImageUnsupported    = "unsupported_image_format"
	ReasonSignatureMismatch   = "signature_mismatch"
	ReasonHeuristicScore      = "heuristic_score"
	ReasonReviewExpired       = "review_deadline_expired"
)

// Verdict is the immutable outcome of validating one artifact. It is
// produced exactly once and never modified afterwards.
type Verdict struct {
	Status        Status    `json:"status"`
	Reasons       []string  `json:"reasons"`
	RiskScore     int       `json:"risk_score"`
	Signals       []string  `json:"signals,omitempty"`
	PolicyVersion string    `json:"policy_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// ManifestEntry describes one archive member as observed during
// inspection. Manifests live only for the duration of inspection; a
// summary is persisted when the parent artifact is accepted.
type ManifestEntry struct {
	Path           string `json:"path"`
	CompressedSize int64  `json:"compressed_size"`
	DeclaredSize   int64  `json:"declared_size"`
	BytesRead      int64  `json:"bytes_read"`
	Note           string `json:"note,omitempty"`
}
