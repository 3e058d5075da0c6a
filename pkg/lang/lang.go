// Package lang maps file names and source text to language tags.
package lang

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

var extensions = map[string]string{
	".py":    "python",
	".pyw":   "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".go":    "go",
	".rs":    "rust",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".swift": "swift",
}

// FromPath guesses a language from a file extension. Unknown extensions
// return "".
func FromPath(path string) string {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns the known extensions of tag, sorted.
func Extensions(tag string) []string {
	var out []string
	for ext, l := range extensions {
		if l == tag {
			out = append(out, ext)
		}
	}
	slices.Sort(out)
	return out
}

// Extension returns the shortest known extension for tag, or ".txt".
func Extension(tag string) string {
	best := ""
	for _, ext := range Extensions(tag) {
		if best == "" || len(ext) < len(best) {
			best = ext
		}
	}
	if best == "" {
		return ".txt"
	}
	return best
}

// Confidence grades a detection.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Detection is the outcome of Detect. Language is empty when nothing matched.
type Detection struct {
	Language   string     `json:"detected_language"`
	Confidence Confidence `json:"confidence"`
}

// signatures are checked in order; earlier entries win. TypeScript precedes
// JavaScript and C# precedes Java because their markers overlap.
var signatures = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"php", regexp.MustCompile(`<\?php`)},
	{"go", regexp.MustCompile(`(?m)^package \w+\s*$|\bfmt\.Print`)},
	{"rust", regexp.MustCompile(`\bfn \w+\s*[(<]|\blet mut\b|\bprintln!\(`)},
	{"csharp", regexp.MustCompile(`\busing System\b|\bConsole\.Write(Line)?\(`)},
	{"java", regexp.MustCompile(`\bpublic\s+(static\s+)?(class|void)\b|\bSystem\.out\.print`)},
	{"kotlin", regexp.MustCompile(`\bfun \w+\(|\bval \w+\s*=`)},
	{"swift", regexp.MustCompile(`\bimport (Foundation|SwiftUI|UIKit)\b|\bfunc \w+\([^)]*\)\s*->`)},
	{"cpp", regexp.MustCompile(`#include\s*[<"]|\bstd::`)},
	{"python", regexp.MustCompile(`(?m)^\s*def \w+\(.*\)\s*(->\s*[\w\[\], .]+)?:\s*$|^\s*from [\w.]+ import |^\s*import \w+\s*$|\bprint\(`)},
	{"ruby", regexp.MustCompile(`(?m)^\s*def \w+(\(.*\))?\s*$|^\s*end\s*$|\bputs\b`)},
	{"typescript", regexp.MustCompile(`\binterface \w+\s*\{|:\s*(string|number|boolean)\b`)},
	{"javascript", regexp.MustCompile(`\bfunction\b|\bconst \w+\s*=|\bconsole\.log\(|=>`)},
}

// chromaAliases maps chroma lexer aliases onto language tags.
var chromaAliases = map[string]string{
	"python": "python", "python3": "python", "py": "python",
	"javascript": "javascript", "js": "javascript",
	"typescript": "typescript", "ts": "typescript",
	"java": "java", "go": "go", "golang": "go",
	"rust": "rust", "rs": "rust",
	"cpp": "cpp", "c++": "cpp",
	"csharp": "csharp", "c#": "csharp",
	"ruby": "ruby", "rb": "ruby",
	"php": "php", "kotlin": "kotlin", "swift": "swift",
}

// Detect identifies the language of code. A known filename extension wins
// with high confidence; otherwise the text is matched against language
// signatures and then chroma's lexer analysers.
func Detect(code, filename string) Detection {
	if tag := FromPath(filename); tag != "" {
		return Detection{Language: tag, Confidence: ConfidenceHigh}
	}
	if tag := fromContent(code); tag != "" {
		return Detection{Language: tag, Confidence: ConfidenceMedium}
	}
	return Detection{Confidence: ConfidenceLow}
}

func fromContent(code string) string {
	if strings.TrimSpace(code) == "" {
		return ""
	}
	for _, s := range signatures {
		if s.re.MatchString(code) {
			return s.tag
		}
	}
	if lexer := lexers.Analyse(code); lexer != nil {
		for _, alias := range lexer.Config().Aliases {
			if tag, ok := chromaAliases[strings.ToLower(alias)]; ok {
				return tag
			}
		}
	}
	return ""
}
