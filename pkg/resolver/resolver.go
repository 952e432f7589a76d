package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/getmockd/mockctl/pkg/logging"
)

const (
	assetPrefix = "asset://"
	filePrefix  = "file://"

	// DefaultHTTPTimeout bounds a remote fetch.
	DefaultHTTPTimeout = 30 * time.Second
)

var httpScheme = regexp.MustCompile(`^(http|https)://`)

// Scheme identifies which branch handles a descriptor.
type Scheme string

// Schemes.
const (
	SchemeNone  Scheme = ""
	SchemeAsset Scheme = "asset"
	SchemeFile  Scheme = "file"
	SchemeHTTP  Scheme = "http"
	SchemeGuess Scheme = "guess"
)

// SchemeOf reports how Resolve would treat the descriptor.
func SchemeOf(descriptor string) Scheme {
	switch {
	case descriptor == "":
		return SchemeNone
	case strings.HasPrefix(descriptor, assetPrefix):
		return SchemeAsset
	case strings.HasPrefix(descriptor, filePrefix):
		return SchemeFile
	case httpScheme.MatchString(descriptor):
		return SchemeHTTP
	default:
		return SchemeGuess
	}
}

// Opener opens a local file. os.Open satisfies it.
type Opener func(name string) (*os.File, error)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver resolves descriptors against its asset, file and HTTP sources.
// The zero value is not usable; call New.
type Resolver struct {
	assets fs.FS
	open   Opener
	client Doer
	log    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAssets sets the bundled asset source. Without one, asset descriptors
// resolve to NotFound and the guessing path skips straight to files.
func WithAssets(assets fs.FS) Option {
	return func(r *Resolver) { r.assets = assets }
}

// WithOpener replaces os.Open for local files.
func WithOpener(open Opener) Option {
	return func(r *Resolver) {
		if open != nil {
			r.open = open
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a Resolver. By default it reads files with os.Open and
// fetches URLs with an http.Client bounded by DefaultHTTPTimeout.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		open:   os.Open,
		client: &http.Client{Timeout: DefaultHTTPTimeout},
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a stream for the descriptor. The caller closes it.
//
// An empty descriptor yields (nil, nil). Explicit schemes fail with an
// *Error; the no-scheme path never fails because the literal fallback
// always succeeds.
func (r *Resolver) Resolve(ctx context.Context, descriptor string) (rc io.ReadCloser, err error) {
	defer func() {
		if p := recover(); p != nil {
			rc = nil
			err = &Error{Kind: NotFound, Descriptor: descriptor, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	switch SchemeOf(descriptor) {
	case SchemeNone:
		return nil, nil

	case SchemeAsset:
		rc, err := r.openAsset(strings.TrimPrefix(descriptor, assetPrefix))
		if err != nil {
			r.log.Info("couldn't read configuration", "descriptor", descriptor, "error", err)
			return nil, &Error{Kind: NotFound, Descriptor: descriptor, Err: err}
		}
		return rc, nil

	case SchemeFile:
		rc, err := r.openFile(strings.TrimPrefix(descriptor, filePrefix))
		if err != nil {
			r.log.Info("couldn't read configuration", "descriptor", descriptor, "error", err)
			return nil, &Error{Kind: NotFound, Descriptor: descriptor, Err: err}
		}
		return rc, nil

	case SchemeHTTP:
		rc, err := r.fetch(ctx, descriptor)
		if err != nil {
			r.log.Info("couldn't read configuration", "descriptor", descriptor, "error", err)
			return nil, &Error{Kind: NetworkError, Descriptor: descriptor, Err: err}
		}
		return rc, nil
	}

	r.log.Debug("no known configuration scheme, guessing [asset|file|literal]", "descriptor", descriptor)

	if rc, err := r.openAsset(descriptor); err == nil {
		return rc, nil
	} else {
		r.log.Debug("not an asset", "descriptor", descriptor, "error", err)
	}

	if rc, err := r.openFile(descriptor); err == nil {
		return rc, nil
	} else {
		r.log.Debug("not a file", "descriptor", descriptor, "error", err)
	}

	return io.NopCloser(bytes.NewReader([]byte(descriptor))), nil
}

func (r *Resolver) openAsset(name string) (io.ReadCloser, error) {
	if r.assets == nil {
		return nil, errors.New("no asset source configured")
	}
	f, err := r.assets.Open(name)
	if err != nil {
		return nil, err
	}
	if err := requireRegular(f.Stat()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func (r *Resolver) openFile(name string) (io.ReadCloser, error) {
	f, err := r.open(name)
	if err != nil {
		return nil, err
	}
	if err := requireRegular(f.Stat()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// requireRegular rejects directories, which both os.Open and most fs.FS
// implementations happily open.
func requireRegular(info fs.FileInfo, err error) error {
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	return nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}
