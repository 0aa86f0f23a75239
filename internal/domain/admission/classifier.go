package admission

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"courseguard/internal/config"
)

// sniffLimit bounds how much of the stream the signature sniff sees.
const sniffLimit = 4096

// Classification is the Type Classifier's output: how the policy table
// handles this artifact, and whether the declared name and the sniffed
// byte signature agree. It is a pure function of the table and the bytes.
type Classification struct {
	Extension   string
	Rule        config.ExtensionRule
	SniffedMIME string
	Denied      bool // extension on the unconditional deny list
	Allowed     bool // extension on the context's allow set
	Mismatch    bool // sniffed signature disagrees with the declared name
}

type Classifier struct {
	policy *config.Policy
}

func NewClassifier(policy *config.Policy) *Classifier {
	return &Classifier{policy: policy}
}

// Screen evaluates everything knowable from the declared filename alone.
// Deny-list hits must short-circuit before a single byte is read, so this
// runs ahead of Sniff.
func (c *Classifier) Screen(filename string, tag config.ContextTag) Classification {
	ext := ExtensionOf(filename)
	cl := Classification{Extension: ext}

	if c.policy.Denied(ext) {
		cl.Denied = true
		return cl
	}
	if !c.policy.AllowedIn(ext, tag) {
		return cl
	}
	cl.Allowed = true
	cl.Rule, _ = c.policy.RuleFor(ext)
	return cl
}

// Sniff inspects a bounded prefix of the byte stream and flags artifacts
// whose signature disagrees with their declared name. Disagreement is not
// a hard reject; it routes the artifact toward quarantine instead, since
// renamed text files are common.
func (c *Classifier) Sniff(cl *Classification, head []byte) {
	if len(head) > sniffLimit {
		head = head[:sniffLimit]
	}
	m := mimetype.Detect(head)
	cl.SniffedMIME = m.String()
	cl.Mismatch = signatureMismatch(cl.Rule, cl.Extension, m)
}

// ExtensionOf returns the lowercase extension without the leading dot.
// Compound tar suffixes collapse to the tgz rule.
func ExtensionOf(filename string) string {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar.gz") {
		return "tgz"
	}
	return strings.TrimPrefix(filepath.Ext(lower), ".")
}

// zipContainerExts are formats that legitimately sniff as zip containers.
var zipContainerExts = map[string]bool{
	"docx": true, "xlsx": true, "pptx": true, "odt": true,
}

// executableSignatures are byte signatures that should never appear in an
// artifact declared as text, source, or a document.
var executableSignatures = []string{
	"text/x-shellscript",
	"application/x-executable",
	"application/x-sharedlib",
	"application/x-mach-binary",
	"application/vnd.microsoft.portable-executable",
	"application/x-msdownload",
	"application/java-archive",
}

// declaredExecutable maps extensions whose expected signature is itself on
// the executable list. When the declared name and the sniffed signature
// agree there is no mismatch to report.
var declaredExecutable = map[string]string{
	"sh":   "text/x-shellscript",
	"bash": "text/x-shellscript",
}

func signatureMismatch(rule config.ExtensionRule, ext string, m *mimetype.MIME) bool {
	switch {
	case rule.Image:
		switch ext {
		case "jpg", "jpeg":
			return !m.Is("image/jpeg")
		case "png":
			return !m.Is("image/png")
		}
		return true
	case rule.Archive:
		return !(m.Is("application/zip") || m.Is("application/gzip") || m.Is("application/x-tar"))
	}

	if zipContainerExts[ext] {
		return !(m.Is("application/zip") || strings.HasPrefix(m.String(), "application/vnd"))
	}
	if ext == "pdf" {
		return !m.Is("application/pdf")
	}

	if expected, ok := declaredExecutable[ext]; ok && m.Is(expected) {
		return false
	}
	for _, sig := range executableSignatures {
		if m.Is(sig) {
			return true
		}
	}
	return false
}
