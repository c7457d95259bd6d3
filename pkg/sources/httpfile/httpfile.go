// Package httpfile downloads direct file URLs over HTTP into a storage.Store.
package httpfile

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bulkgrab/pkg/downloader"
	"bulkgrab/pkg/metadata"
	"bulkgrab/pkg/storage"
)

// SourceName is the name the downloader is usually registered under
const SourceName = "generic"

// Option keys understood by Download
const (
	OptionFilename     = "filename"
	OptionSkipExisting = "skip_existing"
	OptionSubfolder    = "subfolder"
	OptionSaveMetadata = "save_metadata"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var validate = validator.New()

// Config controls a Downloader
type Config struct {
	Source       string
	Timeout      time.Duration
	UserAgent    string
	SkipExisting bool
	// SaveMetadata writes a JSON sidecar describing each downloaded file
	SaveMetadata bool
}

// Downloader fetches a single URL per target
type Downloader struct {
	cfg    Config
	client *http.Client
	store  *storage.Store
}

// New creates a downloader writing into store
func New(store *storage.Store, cfg Config) *Downloader {
	if cfg.Source == "" {
		cfg.Source = SourceName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		store:  store,
	}
}

// Download fetches target and stores it
func (d *Downloader) Download(target string, opts downloader.Options, progress downloader.ProgressFunc) downloader.Result {
	if progress == nil {
		progress = func(int) {}
	}
	if err := ValidateURL(target); err != nil {
		return downloader.Failed("%v", err)
	}

	folder := d.cfg.Source
	if sub := opts.String(OptionSubfolder, ""); sub != "" {
		folder = path.Join(folder, sub)
	}
	name := opts.String(OptionFilename, "")
	if name == "" {
		name = FilenameFromURL(target)
	}

	if opts.Bool(OptionSkipExisting, d.cfg.SkipExisting) && d.store.Exists(folder, name) {
		progress(100)
		return downloader.Succeeded(0, 0)
	}

	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return downloader.Failed("build request: %v", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return downloader.Failed("request %s: %v", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return downloader.Failed("unexpected status %d from %s", resp.StatusCode, target)
	}

	body := &progressReader{r: resp.Body, total: resp.ContentLength, report: progress, last: -1}
	written, err := d.store.Save(folder, name, body)
	if err != nil {
		return downloader.Failed("save %s: %v", name, err)
	}

	if opts.Bool(OptionSaveMetadata, d.cfg.SaveMetadata) {
		meta := metadata.FromResponse(target, d.cfg.Source, resp, written)
		if err := meta.Save(d.store.Path(folder, name)); err != nil {
			return downloader.Failed("save metadata for %s: %v", name, err)
		}
	}

	progress(100)
	return downloader.Succeeded(1, written)
}

// Expand reads a URL list file, one URL per line. Blank lines and lines
// starting with # are ignored.
func (d *Downloader) Expand(collection string, opts downloader.Options) ([]string, error) {
	f, err := os.Open(collection)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()

	return ReadURLList(f)
}

// ReadURLList parses a URL list, rejecting lines that are not http(s) URLs
func ReadURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ValidateURL(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// ValidateURL checks that target is an absolute http or https URL
func ValidateURL(target string) error {
	if err := validate.Var(target, "required,http_url"); err != nil {
		return fmt.Errorf("invalid URL %q", target)
	}
	return nil
}

// FilenameFromURL derives a file name from the last path segment of target
func FilenameFromURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "download"
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return storage.SanitizeFilename(u.Hostname())
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return storage.SanitizeFilename(base)
}

// progressReader reports whole-percent progress as the body is consumed
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report downloader.ProgressFunc
	last   int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		// 100 is reported once the file is safely renamed into place
		if percent > p.last && percent < 100 {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}
