package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
)

// Scanner walks the sources directory and finds export files
type Scanner struct {
	rootDir string
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Metadata *parser.Metadata
}

// Scan walks the directory tree and finds all source files.
// Results come back in lexical path order so runs are reproducible.
// Hidden files and directories are skipped.
func (s *Scanner) Scan() ([]ScanResult, error) {
	var results []ScanResult

	rootDir := s.expandHome(s.rootDir)
	detectedAt := time.Now()

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != rootDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		if !s.isSourceFile(path) {
			return nil
		}

		meta, err := parser.NewMetadata(path, detectedAt)
		if err != nil {
			return err
		}
		meta.SetAccount(s.accountFromPath(path, rootDir))

		results = append(results, ScanResult{
			Path:     path,
			Metadata: meta,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return results, nil
}

// isSourceFile checks if file is a known export format
func (s *Scanner) isSourceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qfx", ".ofx", ".csv", ".json":
		return true
	}
	return false
}

// accountFromPath returns the first directory below root.
// Path structure: {root}/{account}/[...]/file.ext
// Files directly under root have no directory account.
func (s *Scanner) accountFromPath(filePath, rootDir string) string {
	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		return ""
	}

	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
