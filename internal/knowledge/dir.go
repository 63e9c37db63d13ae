package knowledge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

const (
	// ManifestName is the optional per-domain manifest file.
	ManifestName = "profile.toml"

	// maxSourceBytes caps a single document. Larger files are truncated,
	// not rejected, so one oversized file cannot hide a whole domain.
	maxSourceBytes = 1 << 20
)

// manifest is the profile.toml shape.
type manifest struct {
	Name    string   `toml:"name"`
	Voice   string   `toml:"voice"`
	Sources []string `toml:"sources"`
}

// DirProvider serves snapshots from a directory tree with one
// subdirectory per domain. Snapshots are cached until invalidated.
type DirProvider struct {
	root   string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Snapshot
}

// NewDirProvider creates a provider rooted at dir.
func NewDirProvider(root string, logger *zap.Logger) (*DirProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	return &DirProvider{
		root:   root,
		logger: logger,
		cache:  make(map[string]*Snapshot),
	}, nil
}

// Root returns the knowledge root directory.
func (p *DirProvider) Root() string { return p.root }

// Domains lists the domains available under the root.
func (p *DirProvider) Domains(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge root: %w", err)
	}

	var domains []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			domains = append(domains, e.Name())
		}
	}
	sort.Strings(domains)
	return domains, nil
}

// Snapshot returns the cached snapshot for the domain, building it on
// first use.
func (p *DirProvider) Snapshot(ctx context.Context, domain string) (*Snapshot, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}

	p.mu.RLock()
	snap, ok := p.cache[domain]
	p.mu.RUnlock()
	if ok {
		return snap, nil
	}

	snap, err := p.build(ctx, domain)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[domain] = snap
	p.mu.Unlock()
	return snap, nil
}

// Invalidate drops the cached snapshot for a domain.
func (p *DirProvider) Invalidate(domain string) {
	p.mu.Lock()
	delete(p.cache, domain)
	p.mu.Unlock()
}

// InvalidateAll drops every cached snapshot.
func (p *DirProvider) InvalidateAll() {
	p.mu.Lock()
	p.cache = make(map[string]*Snapshot)
	p.mu.Unlock()
}

func validateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	// Domain is used as a path element; anything that could escape the
	// root is rejected.
	if strings.ContainsAny(domain, "/\\") || domain == "." || domain == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return nil
}

func (p *DirProvider) build(ctx context.Context, domain string) (*Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dir := filepath.Join(p.root, domain)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}

	snap := &Snapshot{
		Domain:  domain,
		Version: p.headVersion(),
		TakenAt: time.Now().UTC(),
	}

	seen := make(map[string]bool)

	// Manifest-listed sources come first, in manifest order.
	var m manifest
	manifestPath := filepath.Join(dir, ManifestName)
	if _, err := toml.DecodeFile(manifestPath, &m); err == nil {
		snap.Name = m.Name
		snap.Voice = m.Voice
		for _, name := range m.Sources {
			if seen[name] {
				continue
			}
			src, err := p.readSource(dir, name, len(snap.Sources)+1)
			if err != nil {
				p.logger.Warn("skipping manifest source",
					zap.String("domain", domain),
					zap.String("source", name),
					zap.Error(err),
				)
				continue
			}
			seen[name] = true
			snap.Sources = append(snap.Sources, src)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}

	// Unlisted documents follow, alphabetically.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading domain %s: %w", domain, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || seen[e.Name()] {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".md" && ext != ".txt" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		src, err := p.readSource(dir, name, len(snap.Sources)+1)
		if err != nil {
			p.logger.Warn("skipping source",
				zap.String("domain", domain),
				zap.String("source", name),
				zap.Error(err),
			)
			continue
		}
		snap.Sources = append(snap.Sources, src)
	}

	p.logger.Debug("knowledge snapshot built",
		zap.String("domain", domain),
		zap.Int("sources", len(snap.Sources)),
		zap.Int("chars", snap.Chars()),
		zap.String("version", snap.Version),
	)
	return snap, nil
}

func (p *DirProvider) readSource(dir, name string, rank int) (Source, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return Source{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSourceBytes))
	if err != nil {
		return Source{}, err
	}

	return Source{
		ID:           name,
		Content:      normalize(string(data)),
		PriorityRank: rank,
	}, nil
}

// normalize unifies line endings and trims trailing whitespace.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, " \t\n") + "\n"
}

// headVersion resolves the git HEAD commit when the root is inside a
// work tree. Best effort; snapshots from non-repos have no version.
func (p *DirProvider) headVersion() string {
	repo, err := git.PlainOpenWithOptions(p.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
