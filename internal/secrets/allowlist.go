package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// ProjectAllowlistName is the allowlist filename looked up in the
// project directory.
const ProjectAllowlistName = ".gitleaks.toml"

// Allowlist holds path and content patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists merges the project and user allowlists. Missing files
// are skipped; unreadable or invalid files are errors.
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	var candidates []string
	if projectDir != "" {
		candidates = append(candidates, filepath.Join(projectDir, ProjectAllowlistName))
	}
	if userPath != "" {
		candidates = append(candidates, userPath)
	}

	merged := &Allowlist{}
	for _, path := range candidates {
		al, err := loadTOML(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		merged.Paths = append(merged.Paths, al.Paths...)
		merged.Regexes = append(merged.Regexes, al.Regexes...)
	}
	return merged, nil
}

// loadTOML reads and validates one allowlist file. Patterns are compiled
// here so a bad file fails fast, before any content is scanned.
func loadTOML(path string) (*Allowlist, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	var file struct {
		Allowlist Allowlist
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	patterns := make([]string, 0, len(file.Allowlist.Paths)+len(file.Allowlist.Regexes))
	patterns = append(patterns, file.Allowlist.Paths...)
	patterns = append(patterns, file.Allowlist.Regexes...)
	for _, pattern := range patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &file.Allowlist, nil
}

// applyAllowlist merges the patterns into the detector config. Patterns
// were validated in loadTOML, so compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	entry := &gitleaksConfig.Allowlist{Description: "forged allowlist"}
	for _, pattern := range allow.Paths {
		entry.Paths = append(entry.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range allow.Regexes {
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	entry.StopWords = append(entry.StopWords, allow.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, entry)
}
