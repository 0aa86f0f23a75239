package admission

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"courseguard/internal/config"
)

// memberScanHead is how much of each decompressed member is retained for
// classification and heuristic scanning. The rest is counted and discarded.
const memberScanHead = 128 * 1024

// InspectionResult is the Archive Inspector's output. A failed inspection
// poisons the whole artifact: no member is ever partially extracted.
type InspectionResult struct {
	OK        bool
	Reason    string // verdict reason code when !OK
	Detail    string // human-readable elaboration
	Manifest  []ManifestEntry
	RiskScore int // accumulated from deep-scanned members
	Signals   []string
}

func rejected(reason, detail string) InspectionResult {
	return InspectionResult{Reason: reason, Detail: detail}
}

// Inspector validates compressed containers under the policy's resource
// ceilings before any member is materialized.
type Inspector struct {
	policy     *config.Policy
	classifier *Classifier
	scanner    *Scanner
}

func NewInspector(policy *config.Policy, classifier *Classifier, scanner *Scanner) *Inspector {
	return &Inspector{policy: policy, classifier: classifier, scanner: scanner}
}

// Inspect walks the container identified by ext ("zip", "tgz" or "gz").
// depth is the nesting level of this container, starting at 1 for the
// uploaded artifact itself.
func (in *Inspector) Inspect(data []byte, ext string, depth int) InspectionResult {
	if depth > in.policy.Archive.MaxDepth {
		return rejected(ReasonArchiveNesting, fmt.Sprintf("archive nested %d levels deep, limit %d", depth, in.policy.Archive.MaxDepth))
	}
	switch ext {
	case "zip":
		return in.inspectZip(data, depth)
	case "tgz", "gz":
		return in.inspectGzip(data, ext, depth)
	}
	return rejected(ReasonArchiveMalformed, fmt.Sprintf("unsupported container format %q", ext))
}

// budget tracks the running inspection counters. All size accounting goes
// through it so declared and actual figures face the same ceilings.
type budget struct {
	limits        config.ArchiveLimits
	entries       int
	declaredTotal int64
	compressed    int64
	actualTotal   int64
}

func (b *budget) addEntry() bool {
	b.entries++
	return b.entries <= b.limits.MaxEntries
}

func (b *budget) addDeclared(declared, compressed int64) string {
	if declared < 0 || compressed < 0 {
		return "declared size out of range"
	}
	if declared > b.limits.MaxMemberSize {
		return fmt.Sprintf("member declares %d bytes, per-member limit %d", declared, b.limits.MaxMemberSize)
	}
	b.declaredTotal += declared
	b.compressed += compressed
	if b.declaredTotal > b.limits.MaxTotalSize {
		return fmt.Sprintf("declared total %d bytes exceeds limit %d", b.declaredTotal, b.limits.MaxTotalSize)
	}
	if b.compressed > 0 && float64(b.declaredTotal)/float64(b.compressed) > b.limits.MaxRatio {
		return fmt.Sprintf("declared compression ratio exceeds %.0f:1", b.limits.MaxRatio)
	}
	return ""
}

func (b *budget) addActual(n int64) string {
	b.actualTotal += n
	if b.actualTotal > b.limits.MaxTotalSize {
		return fmt.Sprintf("decompressed %d bytes, limit %d", b.actualTotal, b.limits.MaxTotalSize)
	}
	if b.compressed > 0 && float64(b.actualTotal)/float64(b.compressed) > b.limits.MaxRatio {
		return fmt.Sprintf("actual compression ratio exceeds %.0f:1", b.limits.MaxRatio)
	}
	return ""
}

func (in *Inspector) inspectZip(data []byte, depth int) InspectionResult {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return rejected(ReasonArchiveMalformed, "unreadable zip index: "+err.Error())
	}

	bud := &budget{limits: in.policy.Archive}

	// First pass: the central directory alone. Declared sizes and entry
	// paths are validated before a single member byte is decompressed.
	for _, f := range zr.File {
		if !bud.addEntry() {
			return rejected(ReasonArchiveLimits, fmt.Sprintf("more than %d entries", bud.limits.MaxEntries))
		}
		if _, ok := normalizeEntryPath(f.Name); !ok {
			return rejected(ReasonArchiveTraversal, fmt.Sprintf("entry %q escapes the container root", f.Name))
		}
		// zip64 sizes are uint64 in the index. Compare against the
		// ceilings before any int64 conversion so a declared size past
		// the int64 range cannot wrap negative and slip the checks.
		if f.UncompressedSize64 > uint64(bud.limits.MaxMemberSize) {
			return rejected(ReasonArchiveLimits, fmt.Sprintf("entry %q declares %d bytes, per-member limit %d", f.Name, f.UncompressedSize64, bud.limits.MaxMemberSize))
		}
		if f.CompressedSize64 > uint64(bud.limits.MaxTotalSize) {
			return rejected(ReasonArchiveLimits, fmt.Sprintf("entry %q declares %d compressed bytes, limit %d", f.Name, f.CompressedSize64, bud.limits.MaxTotalSize))
		}
		if detail := bud.addDeclared(int64(f.UncompressedSize64), int64(f.CompressedSize64)); detail != "" {
			return rejected(ReasonArchiveLimits, detail)
		}
	}

	// Second pass: stream members, spot-verifying declared sizes against
	// the bytes the decompressor actually produces.
	result := InspectionResult{OK: true}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		normalized, _ := normalizeEntryPath(f.Name)
		entry := ManifestEntry{
			Path:           normalized,
			CompressedSize: int64(f.CompressedSize64),
			DeclaredSize:   int64(f.UncompressedSize64),
		}

		rc, err := f.Open()
		if err != nil {
			return rejected(ReasonArchiveMalformed, fmt.Sprintf("entry %q unreadable: %v", normalized, err))
		}
		head, read, err := drainMember(rc, int64(f.UncompressedSize64), bud.limits.MaxMemberSize)
		rc.Close()
		entry.BytesRead = read
		if err != nil {
			if errors.Is(err, errMemberOverflow) {
				return rejected(ReasonArchiveLimits, fmt.Sprintf("entry %q produced more bytes than declared", normalized))
			}
			return rejected(ReasonArchiveMalformed, fmt.Sprintf("entry %q failed to decompress: %v", normalized, err))
		}
		if detail := bud.addActual(read); detail != "" {
			return rejected(ReasonArchiveLimits, detail)
		}

		if res := in.classifyMember(normalized, head, depth, &result, &entry); !res.OK {
			return res
		}
		result.Manifest = append(result.Manifest, entry)
	}
	return result
}

func (in *Inspector) inspectGzip(data []byte, ext string, depth int) InspectionResult {
	compressed := int64(len(data))
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return rejected(ReasonArchiveMalformed, "unreadable gzip stream: "+err.Error())
	}
	defer gz.Close()

	if ext == "tgz" {
		return in.inspectTar(gz, compressed, depth)
	}

	// Bare .gz wraps a single member named by the stripped filename.
	bud := &budget{limits: in.policy.Archive, compressed: compressed}
	if !bud.addEntry() {
		return rejected(ReasonArchiveLimits, "entry limit exceeded")
	}
	name := gz.Name
	if name == "" {
		name = "content"
	}
	normalized, ok := normalizeEntryPath(name)
	if !ok {
		return rejected(ReasonArchiveTraversal, fmt.Sprintf("entry %q escapes the container root", name))
	}

	head, read, err := drainStream(gz, bud, memberScanHead)
	if err != nil {
		var lim *limitError
		if errors.As(err, &lim) {
			return rejected(ReasonArchiveLimits, lim.detail)
		}
		return rejected(ReasonArchiveMalformed, "gzip payload failed to decompress: "+err.Error())
	}

	result := InspectionResult{OK: true}
	entry := ManifestEntry{Path: normalized, CompressedSize: compressed, DeclaredSize: read, BytesRead: read}
	if res := in.classifyMember(normalized, head, depth, &result, &entry); !res.OK {
		return res
	}
	result.Manifest = append(result.Manifest, entry)
	return result
}

func (in *Inspector) inspectTar(r io.Reader, compressed int64, depth int) InspectionResult {
	bud := &budget{limits: in.policy.Archive, compressed: compressed}
	tr := tar.NewReader(r)
	result := InspectionResult{OK: true}

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return result
		}
		if err != nil {
			return rejected(ReasonArchiveMalformed, "unreadable tar stream: "+err.Error())
		}
		if !bud.addEntry() {
			return rejected(ReasonArchiveLimits, fmt.Sprintf("more than %d entries", bud.limits.MaxEntries))
		}
		switch hdr.Typeflag {
		case tar.TypeDir, tar.TypeXGlobalHeader:
			continue
		case tar.TypeReg:
		default:
			// Links can point outside the extraction root; nothing in a
			// submission bundle legitimately needs them.
			return rejected(ReasonArchiveTraversal, fmt.Sprintf("entry %q is a link or special file", hdr.Name))
		}
		normalized, ok := normalizeEntryPath(hdr.Name)
		if !ok {
			return rejected(ReasonArchiveTraversal, fmt.Sprintf("entry %q escapes the container root", hdr.Name))
		}
		if detail := bud.addDeclared(hdr.Size, 0); detail != "" {
			return rejected(ReasonArchiveLimits, detail)
		}

		entry := ManifestEntry{Path: normalized, DeclaredSize: hdr.Size}
		head, read, err := drainMember(tr, hdr.Size, bud.limits.MaxMemberSize)
		entry.BytesRead = read
		if err != nil {
			if errors.Is(err, errMemberOverflow) {
				return rejected(ReasonArchiveLimits, fmt.Sprintf("entry %q produced more bytes than declared", normalized))
			}
			return rejected(ReasonArchiveMalformed, fmt.Sprintf("entry %q truncated: %v", normalized, err))
		}
		if detail := bud.addActual(read); detail != "" {
			return rejected(ReasonArchiveLimits, detail)
		}

		if res := in.classifyMember(normalized, head, depth, &result, &entry); !res.OK {
			return res
		}
		result.Manifest = append(result.Manifest, entry)
	}
}

// classifyMember runs the Type Classifier over one member and feeds
// deep-scannable members to the heuristic scanner. A denied member or a
// container nested too deep fails the whole inspection.
func (in *Inspector) classifyMember(name string, head []byte, depth int, result *InspectionResult, entry *ManifestEntry) InspectionResult {
	ext := ExtensionOf(name)
	if in.policy.Denied(ext) {
		return rejected(ReasonArchiveMemberDenied, fmt.Sprintf("member %q has a denied extension", name))
	}
	rule, known := in.policy.RuleFor(ext)
	if !known {
		entry.Note = "unrecognized extension"
		return InspectionResult{OK: true}
	}
	if rule.Archive {
		if depth+1 > in.policy.Archive.MaxDepth {
			return rejected(ReasonArchiveNesting, fmt.Sprintf("member %q is an archive nested beyond depth %d", name, in.policy.Archive.MaxDepth))
		}
		entry.Note = "nested archive"
		return InspectionResult{OK: true}
	}
	if rule.DeepScan {
		score, signals := in.scanner.Scan(head, rule.Family)
		result.RiskScore += score
		for _, s := range signals {
			result.Signals = append(result.Signals, name+":"+s)
		}
	}
	return InspectionResult{OK: true}
}

// errMemberOverflow marks a member that decompressed to more bytes than
// its index entry declared.
var errMemberOverflow = errors.New("member exceeds declared size")

type limitError struct{ detail string }

func (e *limitError) Error() string { return e.detail }

// drainMember reads a member stream to the end, keeping only the scan head
// in memory. It fails when the stream produces more than the declared size
// (a lying index) or more than the per-member ceiling.
func drainMember(r io.Reader, declared, maxMember int64) (head []byte, read int64, err error) {
	if declared < 0 {
		return nil, 0, errMemberOverflow
	}
	limit := declared
	if limit > maxMember {
		limit = maxMember
	}
	headSize := limit
	if headSize > memberScanHead {
		headSize = memberScanHead
	}
	buf := make([]byte, headSize)
	n, err := io.ReadFull(r, buf)
	read = int64(n)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, read, err
	}
	head = buf[:n]

	// Count the remainder without retaining it. One extra byte past the
	// declared size is enough to prove the index lied.
	more, err := io.Copy(io.Discard, io.LimitReader(r, limit-read+1))
	read += more
	if err != nil {
		return head, read, err
	}
	if read > declared {
		return head, read, errMemberOverflow
	}
	return head, read, nil
}

// drainStream reads a stream of unknown declared size (bare gzip), bounded
// by the remaining total and per-member budgets.
func drainStream(r io.Reader, bud *budget, headSize int64) (head []byte, read int64, err error) {
	limit := bud.limits.MaxMemberSize
	if remaining := bud.limits.MaxTotalSize - bud.actualTotal; remaining < limit {
		limit = remaining
	}
	buf := make([]byte, headSize)
	n, err := io.ReadFull(r, buf)
	read = int64(n)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, read, err
	}
	head = buf[:n]

	more, err := io.Copy(io.Discard, io.LimitReader(r, limit-read+1))
	read += more
	if err != nil {
		return head, read, err
	}
	if read > limit {
		return head, read, &limitError{detail: fmt.Sprintf("member decompressed past %d bytes", limit)}
	}
	if detail := bud.addActual(read); detail != "" {
		return head, read, &limitError{detail: detail}
	}
	return head, read, nil
}

// normalizeEntryPath resolves dot segments and rejects any path that is
// absolute, carries a drive prefix or backslashes, or escapes the
// container root.
func normalizeEntryPath(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if strings.ContainsRune(name, '\\') {
		return "", false
	}
	if strings.HasPrefix(name, "/") {
		return "", false
	}
	if len(name) >= 2 && name[1] == ':' {
		return "", false
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}
