// Package effect executes the closed set of external-read operations
// on behalf of all units, behind shared caching and rate-limiting
// policy. Units never perform IO themselves.
package effect

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the closed set of effect kinds.
type Kind uint8

// Effect kinds.
const (
	KindHTTP Kind = iota + 1
	KindFile
	KindDir
	KindProc
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindProc:
		return "proc"
	default:
		return "invalid"
	}
}

// Request is one of the effect request types.
// The set is closed; the kernel panics on anything else.
type Request interface {
	// CacheKey returns the normalized request signature used for
	// caching and request coalescing.
	CacheKey() string
}

// LimitPolicy selects the behavior when a rate limit is hit.
type LimitPolicy uint8

// Limit policies.
const (
	// LimitWait blocks until a permit is available, bounded by the
	// caller's context deadline.
	LimitWait LimitPolicy = iota
	// LimitReject fails immediately with ErrRateLimited.
	LimitReject
)

// HTTPPolicy is the per-request network policy.
type HTTPPolicy struct {
	// MinInterval is the minimum pause between requests to the same
	// host, shared across all units.
	MinInterval time.Duration
	OnLimit     LimitPolicy
}

// HTTPGet fetches a URL with GET.
type HTTPGet struct {
	URL      string
	FreshFor time.Duration
	Policy   HTTPPolicy
}

// CacheKey implements Request.
func (r HTTPGet) CacheKey() string { return "http:GET " + r.URL }

// FSRead reads a whole file.
type FSRead struct {
	Path     string
	FreshFor time.Duration
}

// CacheKey implements Request.
func (r FSRead) CacheKey() string { return "file:" + r.Path }

// FSListDir lists the entry names of a directory.
type FSListDir struct {
	Path     string
	FreshFor time.Duration
}

// CacheKey implements Request.
func (r FSListDir) CacheKey() string { return "dir:" + r.Path }

// ProcBatch drains the currently available output lines of a
// persistent subprocess, up to MaxLines. It never waits for process
// exit and is never cached.
type ProcBatch struct {
	// Key identifies the persistent source; the same key always maps
	// to the same subprocess.
	Key      string
	Command  []string
	MaxLines int
}

// CacheKey implements Request.
func (r ProcBatch) CacheKey() string { return "proc:" + r.Key }

// HTTPResponse is the output of an HTTPGet.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// Output is the tagged result of a Request. Its kind always matches
// the request kind by construction; narrowing to the wrong kind is a
// programming error and panics.
type Output struct {
	kind Kind

	http  *HTTPResponse
	file  []byte
	dir   []string
	lines []string
}

// Kind returns the output kind.
func (o Output) Kind() Kind { return o.kind }

// HTTP narrows the output to an HTTP response.
func (o Output) HTTP() *HTTPResponse {
	if o.kind != KindHTTP {
		panic(fmt.Sprintf("effect: expected http output, got %s", o.kind))
	}
	return o.http
}

// FileBytes narrows the output to file contents.
func (o Output) FileBytes() []byte {
	if o.kind != KindFile {
		panic(fmt.Sprintf("effect: expected file output, got %s", o.kind))
	}
	return o.file
}

// DirEntries narrows the output to directory entry names.
func (o Output) DirEntries() []string {
	if o.kind != KindDir {
		panic(fmt.Sprintf("effect: expected dir output, got %s", o.kind))
	}
	return o.dir
}

// ProcLines narrows the output to drained subprocess lines.
func (o Output) ProcLines() []string {
	if o.kind != KindProc {
		panic(fmt.Sprintf("effect: expected proc output, got %s", o.kind))
	}
	return o.lines
}

// ErrRateLimited is returned for LimitReject requests that hit the
// rate limit.
var ErrRateLimited = errors.New("rate limited")

// TransportError is an IO-layer failure: connection refused, non-2xx
// status, unreadable file, failed process spawn. It is never a unit
// domain error.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportf(format string, args ...any) error {
	return &TransportError{Err: fmt.Errorf(format, args...)}
}

// IsTransport reports whether err is an IO-layer failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
