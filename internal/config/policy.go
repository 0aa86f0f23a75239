package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPolicyVersion       = "v1"
	defaultMaxUploadSize       = "52428800" // 50 MB
	defaultAvatarMaxSize       = "5242880"  // 5 MB
	defaultArchiveMaxEntries   = "1000"
	defaultArchiveMaxMember    = "104857600" // 100 MB
	defaultArchiveMaxTotal     = "524288000" // 500 MB
	defaultArchiveMaxRatio     = "100"
	defaultArchiveMaxDepth     = "1"
	defaultLongLineThreshold   = "2000"
	defaultQuarantineThreshold = "50"
	defaultReviewDeadline      = "72h"
)

// ContextTag identifies where an upload came from. The policy table is
// keyed by it: an extension acceptable as assignment source may be
// disallowed as an avatar.
type ContextTag string

const (
	ContextAssignment      ContextTag = "assignment"
	ContextCourseMaterial  ContextTag = "course_material"
	ContextForumAttachment ContextTag = "forum_attachment"
	ContextAvatar          ContextTag = "avatar"
)

func ParseContextTag(s string) (ContextTag, error) {
	switch ContextTag(strings.TrimSpace(strings.ToLower(s))) {
	case ContextAssignment:
		return ContextAssignment, nil
	case ContextCourseMaterial:
		return ContextCourseMaterial, nil
	case ContextForumAttachment:
		return ContextForumAttachment, nil
	case ContextAvatar:
		return ContextAvatar, nil
	}
	return "", fmt.Errorf("unknown upload context %q", s)
}

// ExtensionRule describes how artifacts with a given extension are handled
// once they pass the deny list and the per-context allow set.
type ExtensionRule struct {
	MaxSize  int64  // per-file ceiling override; 0 means the context ceiling applies
	DeepScan bool   // content goes through the heuristic scanner
	Archive  bool   // content is a container the archive inspector must walk
	Image    bool   // content goes through the image privacy scrubber
	Family   string // language family for heuristic pattern selection
}

// ContextPolicy is the per-context slice of the table: which extensions a
// context accepts and how large a single upload may be.
type ContextPolicy struct {
	MaxUploadSize int64
	Extensions    map[string]bool
}

// ArchiveLimits are the resource ceilings enforced while walking a
// container. All of them abort inspection mid-stream when crossed.
type ArchiveLimits struct {
	MaxEntries    int
	MaxMemberSize int64
	MaxTotalSize  int64
	MaxRatio      float64 // aggregate uncompressed:compressed
	MaxDepth      int     // containers nested deeper are rejected outright
}

// HeuristicWeights configures the content scanner's additive signals and
// the score at which an artifact is routed to quarantine.
type HeuristicWeights struct {
	LongLine            int
	LongLineThreshold   int
	DenyPattern         int
	BinaryNoise         int
	NoiseRatio          float64
	SignatureMismatch   int
	QuarantineThreshold int
}

// Policy is the versioned admission table. It is built once at startup and
// never mutated afterwards; every verdict records the Version that produced
// it so decisions stay reproducible.
type Policy struct {
	Version          string
	DeniedExtensions map[string]bool
	Rules            map[string]ExtensionRule
	Contexts         map[ContextTag]ContextPolicy
	Archive          ArchiveLimits
	Heuristics       HeuristicWeights
	ReviewDeadline   time.Duration
}

// RuleFor returns the handling rule for a lowercase extension (without the
// leading dot).
func (p *Policy) RuleFor(ext string) (ExtensionRule, bool) {
	r, ok := p.Rules[ext]
	return r, ok
}

// Denied reports whether the extension is on the unconditional deny list.
func (p *Policy) Denied(ext string) bool {
	return p.DeniedExtensions[ext]
}

// AllowedIn reports whether the extension is acceptable for the context.
func (p *Policy) AllowedIn(ext string, ctx ContextTag) bool {
	cp, ok := p.Contexts[ctx]
	if !ok {
		return false
	}
	return cp.Extensions[ext]
}

// MaxSizeFor returns the effective per-file ceiling for an extension in a
// context: the rule override when set, otherwise the context ceiling.
func (p *Policy) MaxSizeFor(ext string, ctx ContextTag) int64 {
	if r, ok := p.Rules[ext]; ok && r.MaxSize > 0 {
		return r.MaxSize
	}
	if cp, ok := p.Contexts[ctx]; ok {
		return cp.MaxUploadSize
	}
	return 0
}

var sourceExtensions = map[string]string{
	"py": "python", "ipynb": "python",
	"js": "javascript", "ts": "javascript", "jsx": "javascript", "tsx": "javascript",
	"sh": "shell", "bash": "shell",
	"go": "generic", "java": "generic", "c": "generic", "cc": "generic",
	"cpp": "generic", "h": "generic", "hpp": "generic", "rs": "generic",
	"rb": "generic", "sql": "generic", "css": "generic", "html": "generic",
}

var documentExtensions = []string{"txt", "md", "pdf", "csv", "doc", "docx", "xlsx", "pptx", "odt"}

var imageExtensions = []string{"jpg", "jpeg", "png"}

var archiveExtensions = []string{"zip", "tgz", "gz"}

// DefaultPolicy builds the v1 table. Executable formats, server-executable
// script formats, and macro-enabled office formats are denied in every
// context; nothing outside a context's allow set is accepted.
func DefaultPolicy() *Policy {
	denied := map[string]bool{}
	for _, ext := range []string{
		"exe", "dll", "com", "scr", "msi", "bat", "cmd", "cpl", // executables
		"vbs", "vbe", "ps1", "psm1", "wsf", "hta", // windows script hosts
		"php", "phtml", "php3", "asp", "aspx", "jsp", "cgi", // server-executable
		"docm", "xlsm", "pptm", "dotm", "xlam", // macro-enabled office
	} {
		denied[ext] = true
	}

	rules := map[string]ExtensionRule{}
	for ext, family := range sourceExtensions {
		rules[ext] = ExtensionRule{DeepScan: true, Family: family}
	}
	for _, ext := range documentExtensions {
		r := ExtensionRule{}
		if ext == "txt" || ext == "md" || ext == "csv" {
			r.DeepScan = true
			r.Family = "generic"
		}
		rules[ext] = r
	}
	for _, ext := range imageExtensions {
		rules[ext] = ExtensionRule{Image: true}
	}
	for _, ext := range archiveExtensions {
		rules[ext] = ExtensionRule{Archive: true}
	}

	allow := func(groups ...[]string) map[string]bool {
		m := map[string]bool{}
		for _, g := range groups {
			for _, ext := range g {
				m[ext] = true
			}
		}
		return m
	}
	sources := make([]string, 0, len(sourceExtensions))
	for ext := range sourceExtensions {
		sources = append(sources, ext)
	}

	return &Policy{
		Version:          defaultPolicyVersion,
		DeniedExtensions: denied,
		Rules:            rules,
		Contexts: map[ContextTag]ContextPolicy{
			ContextAssignment: {
				MaxUploadSize: mustParseInt64(defaultMaxUploadSize),
				Extensions:    allow(sources, documentExtensions, imageExtensions, archiveExtensions),
			},
			ContextCourseMaterial: {
				MaxUploadSize: mustParseInt64(defaultMaxUploadSize),
				Extensions:    allow(sources, documentExtensions, imageExtensions, archiveExtensions),
			},
			ContextForumAttachment: {
				MaxUploadSize: mustParseInt64(defaultMaxUploadSize),
				Extensions:    allow(documentExtensions, imageExtensions, []string{"zip"}),
			},
			ContextAvatar: {
				MaxUploadSize: mustParseInt64(defaultAvatarMaxSize),
				Extensions:    allow(imageExtensions),
			},
		},
		Archive: ArchiveLimits{
			MaxEntries:    mustParseInt(defaultArchiveMaxEntries),
			MaxMemberSize: mustParseInt64(defaultArchiveMaxMember),
			MaxTotalSize:  mustParseInt64(defaultArchiveMaxTotal),
			MaxRatio:      100,
			MaxDepth:      mustParseInt(defaultArchiveMaxDepth),
		},
		Heuristics: HeuristicWeights{
			LongLine:            20,
			LongLineThreshold:   mustParseInt(defaultLongLineThreshold),
			DenyPattern:         25,
			BinaryNoise:         30,
			NoiseRatio:          0.10,
			SignatureMismatch:   50,
			QuarantineThreshold: mustParseInt(defaultQuarantineThreshold),
		},
		ReviewDeadline: 72 * time.Hour,
	}
}

// LoadPolicy builds the policy from defaults plus environment overrides.
// The returned table must be treated as immutable.
func LoadPolicy() (*Policy, error) {
	p := DefaultPolicy()

	p.Version = strings.TrimSpace(getEnv("POLICY_VERSION", defaultPolicyVersion))

	var err error
	if p.Archive.MaxEntries, err = parseIntEnv("ARCHIVE_MAX_ENTRIES", defaultArchiveMaxEntries); err != nil {
		return nil, err
	}
	if p.Archive.MaxMemberSize, err = parseInt64Env("ARCHIVE_MAX_MEMBER_SIZE", defaultArchiveMaxMember); err != nil {
		return nil, err
	}
	if p.Archive.MaxTotalSize, err = parseInt64Env("ARCHIVE_MAX_TOTAL_SIZE", defaultArchiveMaxTotal); err != nil {
		return nil, err
	}
	ratio, err := parseIntEnv("ARCHIVE_MAX_RATIO", defaultArchiveMaxRatio)
	if err != nil {
		return nil, err
	}
	p.Archive.MaxRatio = float64(ratio)
	if p.Archive.MaxDepth, err = parseIntEnv("ARCHIVE_MAX_DEPTH", defaultArchiveMaxDepth); err != nil {
		return nil, err
	}
	if p.Heuristics.LongLineThreshold, err = parseIntEnv("HEURISTIC_LONG_LINE", defaultLongLineThreshold); err != nil {
		return nil, err
	}
	if p.Heuristics.QuarantineThreshold, err = parseIntEnv("HEURISTIC_QUARANTINE_THRESHOLD", defaultQuarantineThreshold); err != nil {
		return nil, err
	}
	if p.ReviewDeadline, err = parseDurationEnv("REVIEW_DEADLINE", defaultReviewDeadline); err != nil {
		return nil, err
	}

	maxUpload, err := parseInt64Env("MAX_UPLOAD_SIZE", defaultMaxUploadSize)
	if err != nil {
		return nil, err
	}
	for tag, cp := range p.Contexts {
		if tag == ContextAvatar {
			continue
		}
		cp.MaxUploadSize = maxUpload
		p.Contexts[tag] = cp
	}

	if err := validatePolicy(p); err != nil {
		return nil, err
	}
	return p, nil
}

func validatePolicy(p *Policy) error {
	if p.Version == "" {
		return fmt.Errorf("POLICY_VERSION must not be empty")
	}
	if p.Archive.MaxEntries <= 0 {
		return fmt.Errorf("ARCHIVE_MAX_ENTRIES must be > 0")
	}
	if p.Archive.MaxMemberSize <= 0 || p.Archive.MaxTotalSize <= 0 {
		return fmt.Errorf("archive size ceilings must be > 0")
	}
	if p.Archive.MaxRatio <= 1 {
		return fmt.Errorf("ARCHIVE_MAX_RATIO must be > 1")
	}
	if p.Archive.MaxDepth < 1 {
		return fmt.Errorf("ARCHIVE_MAX_DEPTH must be >= 1")
	}
	if p.Heuristics.QuarantineThreshold <= 0 {
		return fmt.Errorf("HEURISTIC_QUARANTINE_THRESHOLD must be > 0")
	}
	if p.ReviewDeadline <= 0 {
		return fmt.Errorf("REVIEW_DEADLINE must be > 0")
	}
	return nil
}

func parseIntEnv(name, fallback string) (int, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseInt64Env(name, fallback string) (int64, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func mustParseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func mustParseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
