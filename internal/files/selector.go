// internal/files/selector.go

// Package files selects which files inside a downloaded action tree are
// worth sending for analysis, filtering out dependencies, binaries and
// other noise.
package files

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxFileSize caps individual file reads at 512KB.
const DefaultMaxFileSize = 512 * 1024

var excludeDirs = map[string]bool{
	"node_modules": true, "venv": true, ".git": true, "dist": true,
	"build": true, "test": true, ".github": true, "__pycache__": true,
	".pytest_cache": true, "jest": true, "__tests__": true, "__test__": true,
	"tests": true, "docs": true, "__mocks__": true, "__snapshots__": true,
	"examples": true, ".cargo": true, "target": true, "coverage": true,
	".nyc_output": true, "lib": true, "vendor": true, "bin": true,
}

var excludeExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".lock": true, ".log": true, ".md5": true, ".mp4": true, ".mp3": true,
	".mov": true, ".bin": true, ".exe": true, ".zip": true, ".map": true,
	".toml": true, ".md": true, ".pdf": true, ".doc": true, ".docx": true,
	".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true, ".tar": true,
	".gz": true,
}

var excludeFiles = map[string]bool{
	"README.md": true, "LICENSE": true, "CHANGELOG.md": true,
	"package-lock.json": true, ".gitignore": true, ".npmignore": true,
	".eslintrc.json": true, "tsconfig.json": true, ".dockerignore": true,
	".gitattributes": true, ".ignore": true, ".pre-commit-config.yaml": true,
	".pre-commit-hooks.yaml": true, "LICENSE-APACHE": true, "LICENSE-MIT": true,
	"yarn.lock": true, "Cargo.lock": true, "composer.lock": true,
	"Pipfile.lock": true, "poetry.lock": true,
}

// Priority files are included whenever present, ahead of any filter.
var priorityFiles = map[string]bool{
	"action.yml": true, "action.yaml": true, "Dockerfile": true,
	"entrypoint.sh": true, "main.py": true, "index.js": true,
	"main.js": true, "run.py": true, "execute.py": true,
}

var relevantExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".sh": true, ".bash": true,
	".ps1": true, ".yml": true, ".yaml": true, ".json": true, ".xml": true,
	".go": true, ".rs": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".php": true, ".rb": true, ".pl": true, ".r": true,
	".scala": true, ".kt": true, ".swift": true, ".cs": true,
	".dockerfile": true, ".makefile": true,
}

var scriptNames = map[string]bool{
	"entrypoint": true, "run": true, "start": true, "build": true,
	"deploy": true, "setup": true, "install": true, "configure": true,
	"main": true, "execute": true, "launch": true,
}

// Selector extracts analyzable files from an action directory.
type Selector struct {
	maxFileSize int64
	logger      *slog.Logger
}

func NewSelector(logger *slog.Logger) *Selector {
	return &Selector{maxFileSize: DefaultMaxFileSize, logger: logger}
}

// ExtractFiles walks actionDir and returns relative path → content for
// every file worth analyzing. The action manifest, when present, is
// always first in the result set.
func (s *Selector) ExtractFiles(actionDir string) (map[string]string, error) {
	result := make(map[string]string)

	err := filepath.WalkDir(actionDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("Skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != actionDir && excludeDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(actionDir, path)
		if err != nil {
			return nil
		}
		if !s.shouldInclude(path, rel, d) {
			return nil
		}
		content, ok := readTextFile(path, s.maxFileSize)
		if !ok {
			return nil
		}
		result[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk action directory: %w", err)
	}

	s.logger.Info("Extracted files for analysis", "dir", actionDir, "count", len(result))
	return result, nil
}

func (s *Selector) shouldInclude(path, rel string, d os.DirEntry) bool {
	name := d.Name()
	if priorityFiles[name] {
		return true
	}
	if excludeFiles[name] {
		return false
	}

	ext := strings.ToLower(filepath.Ext(name))
	if excludeExtensions[ext] {
		return false
	}
	// Minified assets carry a double extension.
	if strings.HasSuffix(name, ".min.js") || strings.HasSuffix(name, ".min.css") {
		return false
	}

	info, err := d.Info()
	if err != nil || info.Size() > s.maxFileSize {
		return false
	}

	if relevantExtensions[ext] {
		return true
	}
	if ext == "" && isLikelyScript(path, name, info) {
		return true
	}
	return false
}

// isLikelyScript guesses whether an extensionless file is a script:
// executable bit, shebang, or a conventional script name.
func isLikelyScript(path, name string, info os.FileInfo) bool {
	if info.Mode()&0o111 != 0 {
		return true
	}
	if scriptNames[strings.ToLower(name)] {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 2)
	if n, _ := f.Read(head); n == 2 && head[0] == '#' && head[1] == '!' {
		return true
	}
	return false
}

// readTextFile reads path, rejecting empty and binary-looking content.
func readTextFile(path string, maxSize int64) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil || int64(len(data)) > maxSize {
		return "", false
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	if isBinaryContent(content) {
		return "", false
	}
	return content, true
}

// isBinaryContent flags null bytes or a low printable-character ratio.
func isBinaryContent(content string) bool {
	if strings.ContainsRune(content, 0) {
		return true
	}
	printable := 0
	total := 0
	for _, r := range content {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return total > 0 && float64(printable)/float64(total) < 0.7
}

// Validate sanity-checks an extracted set before analysis. An empty set
// is an error; a set without an action manifest is only a warning since
// composite repositories sometimes nest it.
func (s *Selector) Validate(actionFiles map[string]string) error {
	if len(actionFiles) == 0 {
		return fmt.Errorf("no analyzable files found")
	}
	if _, yml := actionFiles["action.yml"]; !yml {
		if _, yaml := actionFiles["action.yaml"]; !yaml {
			s.logger.Warn("No action manifest among extracted files")
		}
	}
	return nil
}

// PrepareForAnalysis renders the extracted set into the file block the
// analysis prompt embeds, manifest first.
func (s *Selector) PrepareForAnalysis(actionFiles map[string]string) string {
	var b strings.Builder

	writeFile := func(name string) {
		content, ok := actionFiles[name]
		if !ok {
			return
		}
		fmt.Fprintf(&b, "=== FILE: %s ===\n%s\n\n", name, content)
	}

	for _, manifest := range []string{"action.yml", "action.yaml"} {
		writeFile(manifest)
	}
	names := make([]string, 0, len(actionFiles))
	for name := range actionFiles {
		if name == "action.yml" || name == "action.yaml" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeFile(name)
	}
	return b.String()
}
