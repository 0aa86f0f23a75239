package admission

import (
	"bytes"

	"courseguard/internal/config"
)

// denyPatterns lists dangerous call and eval constructs per language
// family. Matching is done on a lowercased copy, so entries are lowercase.
// The generic family applies to every scan on top of the family-specific
// entries.
var denyPatterns = map[string][]string{
	"python": {
		"eval(", "exec(", "os.system", "subprocess.popen", "subprocess.call",
		"__import__(", "compile(", "pickle.loads",
	},
	"javascript": {
		"eval(", "new function(", "child_process", "document.write(unescape",
	},
	"shell": {
		"curl | sh", "curl|sh", "wget -o- |", "| bash", "rm -rf /",
		"base64 -d", "base64 --decode", "mkfifo",
	},
	"php": {
		"eval(", "system(", "shell_exec(", "passthru(", "assert(",
	},
	"generic": {
		"powershell -enc", "powershell -e ", "certutil -urlcache",
		"/dev/tcp/", "nc -e ",
	},
}

// Signal names reported alongside the risk score.
const (
	SignalLongLine    = "long_line"
	SignalDenyPattern = "deny_pattern"
	SignalBinaryNoise = "binary_noise"
)

// Scanner computes an additive risk score for textual content from
// independent signals. It never rejects on its own; the pipeline compares
// the total against the quarantine threshold.
type Scanner struct {
	weights config.HeuristicWeights
}

func NewScanner(weights config.HeuristicWeights) *Scanner {
	return &Scanner{weights: weights}
}

// Scan returns the total risk score and the list of triggered signals for
// content belonging to the given language family.
func (s *Scanner) Scan(data []byte, family string) (int, []string) {
	if len(data) == 0 {
		return 0, nil
	}

	var score int
	var signals []string

	if n := longestLine(data); n > s.weights.LongLineThreshold {
		score += s.weights.LongLine
		signals = append(signals, SignalLongLine)
	}

	lower := bytes.ToLower(data)
	patterns := append(append([]string{}, denyPatterns["generic"]...), denyPatterns[family]...)
	for _, pat := range patterns {
		if bytes.Contains(lower, []byte(pat)) {
			score += s.weights.DenyPattern
			signals = append(signals, SignalDenyPattern+":"+pat)
		}
	}

	if noiseRatio(data) > s.weights.NoiseRatio {
		score += s.weights.BinaryNoise
		signals = append(signals, SignalBinaryNoise)
	}

	return score, signals
}

func longestLine(data []byte) int {
	longest := 0
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			i = len(data)
		}
		if i > longest {
			longest = i
		}
		if i == len(data) {
			break
		}
		data = data[i+1:]
	}
	return longest
}

// noiseRatio is the share of bytes that have no business in a text file:
// control characters outside the usual whitespace set.
func noiseRatio(data []byte) float64 {
	noise := 0
	for _, b := range data {
		if b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		if b < 0x20 || b == 0x7F {
			noise++
		}
	}
	return float64(noise) / float64(len(data))
}
