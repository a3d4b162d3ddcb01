// Package decompress dispatches a compressed file path to the matching
// external decompression command and hands back its decompressed stdout
// as a stream, classifying paths by extension along the way.
package decompress

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/gobwas/glob"
	log15 "gopkg.in/inconshreveable/log15.v2"
	"golang.org/x/sync/errgroup"
)

// command is an external decompression command and the flag that makes it
// write to stdout instead of replacing the file in place.
type command struct {
	name string
	args []string
}

var commands = map[string]command{
	"gz":   {"gunzip", []string{"-c"}},
	"bz2":  {"bunzip2", []string{"-c"}},
	"xz":   {"unxz", []string{"-c"}},
	"lzma": {"unlzma", []string{"-c"}},
}

var supportedCompressionFormats = compileGlobs("*.gz", "*.bz2", "*.xz", "*.lzma")

var tarArchiveFormats = compileGlobs("*.tar.gz", "*.tar.xz", "*.tar.bz2", "*.tgz", "*.txz", "*.tbz2")

func compileGlobs(patterns ...string) []glob.Glob {
	globs := make([]glob.Glob, len(patterns))
	for i, p := range patterns {
		globs[i] = glob.MustCompile(p)
	}
	return globs
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// IsSupportedCompressionFormat reports whether path's extension matches one
// of the single-stream compression formats this package can decompress.
func IsSupportedCompressionFormat(path string) bool {
	return matchesAny(supportedCompressionFormats, filepath.Base(path))
}

// IsTarArchive reports whether path looks like a TAR archive, compressed
// or not. TAR archives are recognized but not currently decompressed; see
// GetReader.
func IsTarArchive(path string) bool {
	return matchesAny(tarArchiveFormats, filepath.Base(path))
}

// IsCompressed reports whether path is something this package recognizes
// at all, whether or not GetReader can actually produce a reader for it.
func IsCompressed(path string) bool {
	return IsSupportedCompressionFormat(path) || IsTarArchive(path)
}

// GetReader spawns the decompression command appropriate for path's
// extension and returns a reader over its decompressed output. It reports
// ok=false, logging the reason at debug level, when path is a TAR archive
// (unsupported), its extension isn't recognized, or the command can't be
// spawned at all.
//
// Unlike blocking fully on the child's stderr before handing back stdout,
// this drains stderr concurrently on its own goroutine (via errgroup) so a
// decoder that fills its stdout pipe before closing stderr can't deadlock
// the caller. The returned reader only inspects the accumulated stderr —
// and, if non-empty and noMessages is false, logs a warning — once the
// caller's Read reaches io.EOF or calls Close; by then, it no longer
// matters whether we could have instead discarded a short stdout output.
func GetReader(ctx context.Context, path string, noMessages bool) (io.ReadCloser, bool) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GetReader")
	ext.Component.Set(span, "decompress")
	span.SetTag("path", path)

	if IsTarArchive(path) {
		log15.Debug("tar archives are currently unsupported", "path", path)
		span.Finish()
		return nil, false
	}

	extension := strings.TrimPrefix(filepath.Ext(path), ".")
	cmdSpec, ok := commands[extension]
	if !ok {
		log15.Debug("no decompression command for extension", "path", path, "extension", extension)
		span.Finish()
		return nil, false
	}

	args := append(append([]string{}, cmdSpec.args...), path)
	cmd := exec.CommandContext(ctx, cmdSpec.name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		ext.Error.Set(span, true)
		span.Finish()
		return nil, false
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		ext.Error.Set(span, true)
		span.Finish()
		return nil, false
	}

	if err := cmd.Start(); err != nil {
		log15.Debug("decompress command not found", "cmd", cmdSpec.name, "path", path, "err", err)
		span.Finish()
		return nil, false
	}

	g, _ := errgroup.WithContext(ctx)
	var stderrBuf bytes.Buffer
	g.Go(func() error {
		_, err := io.Copy(&stderrBuf, stderr)
		return err
	})

	return &reader{
		stdout:     stdout,
		cmd:        cmd,
		g:          g,
		stderr:     &stderrBuf,
		path:       path,
		noMessages: noMessages,
		span:       span,
	}, true
}

// reader wraps a spawned decompression command's stdout, deferring the
// stderr-drain/process-exit join (and any resulting warning) until the
// stream is actually finished with.
type reader struct {
	stdout     io.ReadCloser
	cmd        *exec.Cmd
	g          *errgroup.Group
	stderr     *bytes.Buffer
	path       string
	noMessages bool
	span       opentracing.Span

	once sync.Once
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if err == io.EOF {
		r.finish()
	}
	return n, err
}

func (r *reader) Close() error {
	closeErr := r.stdout.Close()
	r.finish()
	return closeErr
}

func (r *reader) finish() {
	r.once.Do(func() {
		drainErr := r.g.Wait()
		waitErr := r.cmd.Wait()

		if r.stderr.Len() > 0 {
			ext.Error.Set(r.span, true)
			if !r.noMessages {
				log15.Warn("error occurred while decompressing",
					"path", r.path, "stderr", r.stderr.String())
			}
		} else if drainErr != nil || waitErr != nil {
			ext.Error.Set(r.span, true)
		}
		r.span.Finish()
	})
}
