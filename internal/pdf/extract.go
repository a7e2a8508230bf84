// Package pdf extracts plain text from PDF files inside the sandbox.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	lru "github.com/hashicorp/golang-lru/v2"
	pdfparse "github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/qiuxsgit/pdf-mcp/internal/security"
)

// TruncationSuffix is appended to text cut at the requested character limit.
const TruncationSuffix = "... [truncated]"

var (
	ErrNotPDF       = errors.New("not a PDF document")
	ErrFileTooLarge = errors.New("file too large")
	ErrFileChanged  = errors.New("file changed between validation and open")
)

// Validator approves paths. *security.Sandbox implements it.
type Validator interface {
	Validate(path string) security.Outcome
}

// Options configure an Extractor.
type Options struct {
	// MaxFileSize bounds the size of files read; 0 means unlimited.
	MaxFileSize int64
	// CacheEntries is the number of documents whose text is kept; 0 disables the cache.
	CacheEntries int
	Logger       zerolog.Logger
}

// Result is the text of one document.
type Result struct {
	Path      string
	Text      string
	Pages     int
	Truncated bool
}

type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

type document struct {
	text  string
	pages int
}

// Extractor reads PDF text through a Validator.
type Extractor struct {
	validator Validator
	maxSize   int64
	cache     *lru.Cache[cacheKey, document]
	logger    zerolog.Logger
}

// NewExtractor returns an Extractor that validates every path with v.
func NewExtractor(v Validator, opts Options) (*Extractor, error) {
	e := &Extractor{validator: v, maxSize: opts.MaxFileSize, logger: opts.Logger}
	if opts.CacheEntries > 0 {
		c, err := lru.New[cacheKey, document](opts.CacheEntries)
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	return e, nil
}

// Extract validates path, opens it and returns its text, cut to maxChars
// characters when maxChars > 0. The path is validated again here even if the
// caller already did, so the check sits right before the open.
func (e *Extractor) Extract(ctx context.Context, path string, maxChars int) (Result, error) {
	out := e.validator.Validate(path)
	if !out.OK() {
		return Result{}, out.Err()
	}
	if !strings.HasSuffix(strings.ToLower(out.Path), ".pdf") {
		return Result{}, errors.New("file must have .pdf extension")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	doc, err := e.load(out.Path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to extract text from PDF: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	text, truncated := Truncate(doc.text, maxChars)
	return Result{Path: out.Path, Text: text, Pages: doc.pages, Truncated: truncated}, nil
}

func (e *Extractor) load(path string) (document, error) {
	f, err := os.Open(path)
	if err != nil {
		return document{}, err
	}
	defer f.Close()

	opened, err := f.Stat()
	if err != nil {
		return document{}, err
	}
	// The validated path must still name the opened file and must not have
	// turned into a symlink since it was checked.
	current, err := os.Lstat(path)
	if err != nil || !os.SameFile(opened, current) {
		return document{}, ErrFileChanged
	}
	if !opened.Mode().IsRegular() {
		return document{}, fmt.Errorf("%s is not a regular file", path)
	}
	size := opened.Size()
	if e.maxSize > 0 && size > e.maxSize {
		return document{}, fmt.Errorf("%w: %s exceeds the %s limit", ErrFileTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(e.maxSize)))
	}

	key := cacheKey{path: path, size: size, modTime: opened.ModTime().UnixNano()}
	if e.cache != nil {
		if doc, ok := e.cache.Get(key); ok {
			e.logger.Debug().Str("path", path).Msg("pdf text cache hit")
			return doc, nil
		}
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return document{}, err
	}
	if !mt.Is("application/pdf") {
		return document{}, fmt.Errorf("%w: detected %s", ErrNotPDF, mt.String())
	}

	start := time.Now()
	doc, err := parse(f, size)
	if err != nil {
		return document{}, err
	}
	e.logger.Debug().Str("path", path).Int("pages", doc.pages).
		Str("size", humanize.IBytes(uint64(size))).Dur("took", time.Since(start)).
		Msg("extracted pdf text")
	if e.cache != nil {
		e.cache.Add(key, doc)
	}
	return doc, nil
}

// parse runs the PDF reader, which panics on some malformed input.
func parse(r io.ReaderAt, size int64) (doc document, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed PDF: %v", p)
		}
	}()
	reader, err := pdfparse.NewReader(r, size)
	if err != nil {
		return document{}, err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return document{}, err
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return document{}, err
	}
	return document{text: b.String(), pages: reader.NumPage()}, nil
}

// Truncate cuts text to maxChars characters and appends TruncationSuffix.
// maxChars <= 0 means no limit.
func Truncate(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i] + TruncationSuffix, true
		}
		n++
	}
	return text, false
}
