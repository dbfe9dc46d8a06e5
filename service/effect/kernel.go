package effect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/bluele/gcache"
	"golang.org/x/sync/singleflight"

	"github.com/qdbp/empty-status/base/utils"
	"github.com/qdbp/empty-status/service/mgr"
)

const (
	cacheSize = 256

	httpBodyLimit = 4 << 20 // 4 MiB is plenty for any status source.
)

// Kernel is the single entry point for all external reads. It owns the
// shared response cache, the per-host rate limiters and the persistent
// subprocess sources. All of its state may be hit by every unit actor
// concurrently.
type Kernel struct {
	mgr      *mgr.Manager
	instance instance

	client *http.Client
	cache  gcache.Cache
	flight singleflight.Group

	limitersLock sync.Mutex
	limiters     map[string]*utils.CallLimiter

	procsLock sync.Mutex
	procs     map[string]*procSource

	// now is an injection point for freshness tests.
	now func() time.Time
}

type cacheEntry struct {
	fetchedAt time.Time
	freshFor  time.Duration
	out       Output
}

// NewKernel returns a new effect kernel.
func NewKernel(instance instance) (*Kernel, error) {
	return &Kernel{
		instance: instance,
		client: &http.Client{
			// The per-poll context carries the actual deadline; this
			// is only a safety net.
			Timeout: time.Minute,
		},
		cache:    gcache.New(cacheSize).LRU().Build(),
		limiters: map[string]*utils.CallLimiter{},
		procs:    map[string]*procSource{},
		now:      time.Now,
	}, nil
}

// Start starts the kernel.
func (k *Kernel) Start(m *mgr.Manager) error {
	k.mgr = m
	return nil
}

// Stop stops the kernel and kills all persistent subprocess sources.
func (k *Kernel) Stop(m *mgr.Manager) error {
	k.procsLock.Lock()
	defer k.procsLock.Unlock()

	for key, src := range k.procs {
		src.kill()
		delete(k.procs, key)
	}
	return nil
}

// Run executes the given request and returns the matching output.
// Fresh cached results are returned without IO; concurrent misses for
// the same key are coalesced into one fetch. IO failures are returned
// as TransportError and never stored.
func (k *Kernel) Run(ctx context.Context, req Request) (Output, error) {
	switch r := req.(type) {
	case HTTPGet:
		return k.cached(ctx, r.CacheKey(), r.FreshFor, func(ctx context.Context) (Output, error) {
			return k.httpGet(ctx, r)
		})
	case FSRead:
		return k.cached(ctx, r.CacheKey(), r.FreshFor, func(ctx context.Context) (Output, error) {
			return k.fsRead(r)
		})
	case FSListDir:
		return k.cached(ctx, r.CacheKey(), r.FreshFor, func(ctx context.Context) (Output, error) {
			return k.fsListDir(r)
		})
	case ProcBatch:
		// Proc sources are snapshots of a live stream, never cached.
		return k.procBatch(r)
	default:
		panic(fmt.Sprintf("effect: unknown request type %T", req))
	}
}

func (k *Kernel) cached(ctx context.Context, key string, freshFor time.Duration, fetch func(context.Context) (Output, error)) (Output, error) {
	if out, ok := k.lookup(key); ok {
		metrics.GetOrCreateCounter(`empty_status_effect_cache_hits_total`).Inc()
		return out, nil
	}

	v, err, _ := k.flight.Do(key, func() (any, error) {
		// Re-check: another caller may have stored while we waited for
		// the flight slot.
		if out, ok := k.lookup(key); ok {
			metrics.GetOrCreateCounter(`empty_status_effect_cache_hits_total`).Inc()
			return out, nil
		}

		metrics.GetOrCreateCounter(`empty_status_effect_cache_misses_total`).Inc()
		out, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		k.store(key, freshFor, out)
		return out, nil
	})
	if err != nil {
		return Output{}, err
	}
	return v.(Output), nil
}

func (k *Kernel) lookup(key string) (Output, bool) {
	v, err := k.cache.GetIFPresent(key)
	if err != nil {
		return Output{}, false
	}
	entry := v.(*cacheEntry)
	if k.now().Sub(entry.fetchedAt) >= entry.freshFor {
		return Output{}, false
	}
	return entry.out, true
}

func (k *Kernel) store(key string, freshFor time.Duration, out Output) {
	_ = k.cache.Set(key, &cacheEntry{
		fetchedAt: k.now(),
		freshFor:  freshFor,
		out:       out,
	})
}

func (k *Kernel) limiterFor(host string, minInterval time.Duration) *utils.CallLimiter {
	k.limitersLock.Lock()
	defer k.limitersLock.Unlock()

	limiter, ok := k.limiters[host]
	if !ok {
		limiter = utils.NewCallLimiter(minInterval)
		k.limiters[host] = limiter
	} else {
		// Units may configure different policies for one host; the
		// strictest interval wins for everyone.
		limiter.Widen(minInterval)
	}
	return limiter
}

func (k *Kernel) httpGet(ctx context.Context, r HTTPGet) (Output, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return Output{}, transportf("parse url: %w", err)
	}

	// The rate limiter is keyed by host, so all units asking the same
	// API share one budget.
	limiter := k.limiterFor(u.Host, r.Policy.MinInterval)
	switch r.Policy.OnLimit {
	case LimitReject:
		if !limiter.TryAcquire() {
			return Output{}, &TransportError{Err: fmt.Errorf("%s: %w", u.Host, ErrRateLimited)}
		}
	default:
		if err := limiter.Wait(ctx); err != nil {
			return Output{}, err
		}
	}

	metrics.GetOrCreateCounter(`empty_status_effect_io_total{kind="http"}`).Inc()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return Output{}, transportf("build request: %w", err)
	}
	resp, err := k.client.Do(httpReq)
	if err != nil {
		return Output{}, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Output{}, transportf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
	if err != nil {
		return Output{}, &TransportError{Err: err}
	}

	return Output{
		kind: KindHTTP,
		http: &HTTPResponse{StatusCode: resp.StatusCode, Body: body},
	}, nil
}

func (k *Kernel) fsRead(r FSRead) (Output, error) {
	metrics.GetOrCreateCounter(`empty_status_effect_io_total{kind="file"}`).Inc()

	data, err := os.ReadFile(r.Path)
	if err != nil {
		return Output{}, &TransportError{Err: err}
	}
	return Output{kind: KindFile, file: data}, nil
}

func (k *Kernel) fsListDir(r FSListDir) (Output, error) {
	metrics.GetOrCreateCounter(`empty_status_effect_io_total{kind="dir"}`).Inc()

	entries, err := os.ReadDir(r.Path)
	if err != nil {
		return Output{}, &TransportError{Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return Output{kind: KindDir, dir: names}, nil
}

type instance interface{}
