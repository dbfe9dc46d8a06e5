package effect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := NewKernel(nil)
	require.NoError(t, err)
	return k
}

func TestCacheFreshnessWindow(t *testing.T) {
	t.Parallel()

	k := testKernel(t)

	// Clock injection: the kernel sees whatever we say the time is.
	now := time.Now()
	k.now = func() time.Time { return now }

	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	req := FSRead{Path: path, FreshFor: time.Minute}
	out, err := k.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "one", string(out.FileBytes()))

	// Within the window the cached bytes are served, not the file.
	require.NoError(t, os.WriteFile(path, []byte("two"), 0o644))
	now = now.Add(59 * time.Second)
	out, err = k.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "one", string(out.FileBytes()))

	// At exactly the window boundary the entry is stale.
	now = now.Add(time.Second)
	out, err = k.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "two", string(out.FileBytes()))
}

func TestTransportErrorNotCached(t *testing.T) {
	t.Parallel()

	k := testKernel(t)
	path := filepath.Join(t.TempDir(), "data")

	_, err := k.Run(context.Background(), FSRead{Path: path, FreshFor: time.Minute})
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	// The failure must not poison the cache for the success after it.
	require.NoError(t, os.WriteFile(path, []byte("here"), 0o644))
	out, err := k.Run(context.Background(), FSRead{Path: path, FreshFor: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "here", string(out.FileBytes()))
}

func TestHTTPRateLimiterSharedPerHost(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	k := testKernel(t)
	policy := HTTPPolicy{MinInterval: 50 * time.Millisecond, OnLimit: LimitWait}

	// Distinct URLs on the same host dodge the cache but share the
	// limiter, so the calls are spaced out.
	start := time.Now()
	var wg sync.WaitGroup
	for _, q := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := k.Run(context.Background(), HTTPGet{
				URL:      srv.URL + "/?q=" + q,
				FreshFor: time.Minute,
				Policy:   policy,
			})
			if assert.NoError(t, err) {
				assert.Equal(t, 200, out.HTTP().StatusCode)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"three calls through a 50ms limiter take at least two pauses")
}

func TestHTTPRejectPolicy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	k := testKernel(t)
	policy := HTTPPolicy{MinInterval: time.Minute, OnLimit: LimitReject}

	_, err := k.Run(context.Background(), HTTPGet{URL: srv.URL + "/?q=1", Policy: policy})
	require.NoError(t, err)

	// The budget is spent; the second request fails immediately.
	_, err = k.Run(context.Background(), HTTPGet{URL: srv.URL + "/?q=2", Policy: policy})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsTransport(err))
}

func TestLimiterSharedAcrossPolicies(t *testing.T) {
	t.Parallel()

	k := testKernel(t)

	// A relaxed caller creates the host limiter first.
	relaxed := k.limiterFor("api.example.com", 0)
	require.True(t, relaxed.TryAcquire())
	require.True(t, relaxed.TryAcquire())

	// A stricter caller for the same host widens the shared limiter
	// instead of being ignored.
	strict := k.limiterFor("api.example.com", time.Hour)
	assert.Same(t, relaxed, strict, "one limiter per host")
	assert.True(t, strict.TryAcquire())
	assert.False(t, strict.TryAcquire(), "strictest interval applies to all callers")
	assert.False(t, relaxed.TryAcquire())
}

func TestHTTPStatusErrorIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	defer srv.Close()

	k := testKernel(t)
	_, err := k.Run(context.Background(), HTTPGet{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorContains(t, err, "418")
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	k := testKernel(t)
	req := HTTPGet{URL: srv.URL, FreshFor: time.Minute}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := k.Run(context.Background(), req)
			assert.NoError(t, err)
		}()
	}

	// Give the racers time to pile onto the flight, then let it land.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses for one key coalesce into one fetch")
}

func TestFSListDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zone0"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zone1"), nil, 0o644))

	k := testKernel(t)
	out, err := k.Run(context.Background(), FSListDir{Path: dir, FreshFor: time.Minute})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zone0", "zone1"}, out.DirEntries())
}

func TestOutputNarrowingPanics(t *testing.T) {
	t.Parallel()

	out := Output{kind: KindFile, file: []byte("x")}
	assert.Equal(t, []byte("x"), out.FileBytes())
	assert.PanicsWithValue(t, "effect: expected http output, got file", func() {
		out.HTTP()
	})
	assert.Panics(t, func() { out.ProcLines() })
}

func TestProcBatchDrainsWithoutBlocking(t *testing.T) {
	t.Parallel()

	k := testKernel(t)
	req := ProcBatch{
		Key:      "counter",
		Command:  []string{"sh", "-c", "echo one; echo two; sleep 60"},
		MaxLines: 10,
	}

	// Drains race the pump, so collect across calls until both lines
	// have come through.
	var got []string
	require.Eventually(t, func() bool {
		out, err := k.Run(context.Background(), req)
		if err != nil {
			return false
		}
		got = append(got, out.ProcLines()...)
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, got)

	// Nothing new buffered: an immediate second drain is empty, not
	// blocked on the still-running child.
	out, err := k.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, out.ProcLines())

	require.NoError(t, k.Stop(nil))
}

func TestProcBatchRespawnsAfterExit(t *testing.T) {
	t.Parallel()

	k := testKernel(t)

	// The child leaves a mark per spawn so respawns are observable.
	mark := filepath.Join(t.TempDir(), "mark")
	req := ProcBatch{
		Key:      "oneshot",
		Command:  []string{"sh", "-c", "echo spawned >> " + mark},
		MaxLines: 10,
	}

	// Eventually the child exits and a drain reports the gap.
	require.Eventually(t, func() bool {
		_, err := k.Run(context.Background(), req)
		return err != nil && IsTransport(err)
	}, 5*time.Second, 20*time.Millisecond)

	// The source was dropped, so the next call spawns a fresh child.
	_, _ = k.Run(context.Background(), req)
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(mark)
		return err == nil && strings.Count(string(data), "spawned") >= 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, k.Stop(nil))
}
