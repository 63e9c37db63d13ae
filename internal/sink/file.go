package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
	"github.com/fyrsmithlabs/forged/internal/sanitize"
)

// maxSlugChars keeps file names readable even for long queries.
const maxSlugChars = 48

// FileSink writes drafts as markdown files with a provenance header.
type FileSink struct {
	dir    string
	logger *zap.Logger
}

// NewFileSink creates the directory if needed and returns the sink.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: output directory required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

// Write renders the draft with its header and lands it atomically via a
// temp file and rename, so readers never observe a partial document.
func (s *FileSink) Write(ctx context.Context, draft *pipeline.Draft, meta Meta) (Ref, error) {
	if draft == nil {
		return Ref{}, ErrNilDraft
	}
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}

	name := fileName(meta)
	path := filepath.Join(s.dir, name)

	if err := writeAtomic(path, []byte(render(draft, meta))); err != nil {
		return Ref{}, err
	}

	s.logger.Info("draft written",
		zap.String("path", path),
		zap.String("run_id", meta.RunID),
	)
	return Ref{ID: name, Location: path}, nil
}

// render prepends a comment header so files stay valid markdown while
// carrying their provenance.
func render(draft *pipeline.Draft, meta Meta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!--\nrun_id: %s\nworkflow: %s\ndomain: %s\nscore: %.1f\n",
		meta.RunID, meta.Workflow, meta.Domain, meta.Score)
	if len(draft.Citations) > 0 {
		fmt.Fprintf(&b, "citations: %s\n", strings.Join(draft.Citations, ", "))
	}
	fmt.Fprintf(&b, "generated: %s\n-->\n\n", time.Now().UTC().Format(time.RFC3339))

	b.WriteString(draft.Content)
	if !strings.HasSuffix(draft.Content, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

// fileName builds workflow_slug_timestamp_runid.md. The run id segment
// keeps two runs of the same query in the same second from colliding.
func fileName(meta Meta) string {
	slug := sanitize.Slug(meta.Query)
	if len(slug) > maxSlugChars {
		slug = strings.Trim(slug[:maxSlugChars], "-")
	}

	short := meta.RunID
	if len(short) > 8 {
		short = short[:8]
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s_%s_%s_%s.md", meta.Workflow, slug, stamp, short)
}

// writeAtomic lands data at path through an exclusive temp file, fsync,
// and rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing draft: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing draft: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing draft: %w", err)
	}
	return nil
}
