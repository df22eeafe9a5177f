package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

func TestGetMissesOnUnknownFingerprint(t *testing.T) {
	c := New(time.Minute)
	_, ok := c.Get("unknown")
	require.False(t, ok)
}

func TestPutThenGetHits(t *testing.T) {
	c := New(time.Minute)
	c.Put("fp1", orchestrator.ScrapeResult{URL: "https://example.com/"})
	result, ok := c.Get("fp1")
	require.True(t, ok)
	require.Equal(t, "https://example.com/", result.URL)
}

func TestGetExpiresAfterTTL(t *testing.T) {
	c := New(5 * time.Millisecond)
	c.Put("fp1", orchestrator.ScrapeResult{URL: "https://example.com/"})
	time.Sleep(15 * time.Millisecond)
	_, ok := c.Get("fp1")
	require.False(t, ok)
}

func TestDoExecutesOnceAndCachesResult(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	fn := func() (orchestrator.ScrapeResult, error) {
		atomic.AddInt32(&calls, 1)
		return orchestrator.ScrapeResult{URL: "https://example.com/"}, nil
	}

	result, err, shared := c.Do("fp1", fn)
	require.NoError(t, err)
	require.False(t, shared)
	require.False(t, result.Cached)

	result2, err, shared := c.Do("fp1", fn)
	require.NoError(t, err)
	require.True(t, shared)
	require.True(t, result2.Cached)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	start := make(chan struct{})
	fn := func() (orchestrator.ScrapeResult, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return orchestrator.ScrapeResult{URL: "https://example.com/"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Do("fp1", fn)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoPropagatesErrorWithoutCaching(t *testing.T) {
	c := New(time.Minute)
	sentinel := errors.New("boom")
	_, err, _ := c.Do("fp1", func() (orchestrator.ScrapeResult, error) {
		return orchestrator.ScrapeResult{}, sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, ok := c.Get("fp1")
	require.False(t, ok)
}

func TestPurgeRemovesExpiredEntries(t *testing.T) {
	c := New(5 * time.Millisecond)
	c.Put("fp1", orchestrator.ScrapeResult{})
	time.Sleep(15 * time.Millisecond)
	c.Purge()
	c.mu.RLock()
	_, ok := c.entries["fp1"]
	c.mu.RUnlock()
	require.False(t, ok)
}
