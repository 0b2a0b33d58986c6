package imagecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type countingFetcher struct {
	mu      sync.Mutex
	calls   map[domain.Locator]int
	data    map[domain.Locator][]byte
	err     error
	release chan struct{}
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{calls: map[domain.Locator]int{}, data: map[domain.Locator][]byte{}}
}

func (f *countingFetcher) Fetch(ctx context.Context, loc domain.Locator) ([]byte, error) {
	f.mu.Lock()
	f.calls[loc]++
	release := f.release
	err := f.err
	data, ok := f.data[loc]
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing asset")
	}
	return data, nil
}

func (f *countingFetcher) count(loc domain.Locator) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[loc]
}

// waitForMisses blocks until n callers have missed the cache and are about to join the flight.
func waitForMisses(t *testing.T, c *Cache, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.Stats().Misses < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d misses", n)
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
}

func TestGetCoalescesConcurrentLoads(t *testing.T) {
	loc := domain.Locator{Pack: "p", Path: "red.png"}
	fetcher := newCountingFetcher()
	fetcher.data[loc] = encodePNG(t, 4, 4, color.NRGBA{R: 255, A: 255})
	fetcher.release = make(chan struct{})

	cache, err := New(fetcher, 4)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	const callers = 16
	results := make([]*image.NRGBA, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), loc)
		}(i)
	}
	waitForMisses(t, cache, callers)
	close(fetcher.release)
	wg.Wait()

	if got := fetcher.count(loc); got != 1 {
		t.Fatalf("fetch calls=%d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d err=%v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different raster", i)
		}
	}
	if cache.Stats().Loads != 1 {
		t.Fatalf("loads=%d, want 1", cache.Stats().Loads)
	}
}

func TestGetSharesErrorAndRetriesLater(t *testing.T) {
	loc := domain.Locator{Pack: "p", Path: "flaky.png"}
	fetcher := newCountingFetcher()
	fetcher.data[loc] = encodePNG(t, 2, 2, color.NRGBA{B: 255, A: 255})
	fetcher.err = errors.New("storage offline")
	fetcher.release = make(chan struct{})

	cache, err := New(fetcher, 4)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Get(context.Background(), loc)
		}(i)
	}
	waitForMisses(t, cache, callers)
	close(fetcher.release)
	wg.Wait()

	if got := fetcher.count(loc); got != 1 {
		t.Fatalf("fetch calls=%d, want 1", got)
	}
	for i, err := range errs {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) || loadErr.Stage != StageFetch {
			t.Fatalf("caller %d err=%v, want fetch LoadError", i, err)
		}
		if err != errs[0] {
			t.Fatalf("caller %d received a different error value", i)
		}
	}
	if cache.Contains(loc) {
		t.Fatalf("failed load must not be cached")
	}

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.release = nil
	fetcher.mu.Unlock()

	img, err := cache.Get(context.Background(), loc)
	if err != nil {
		t.Fatalf("retry err=%v", err)
	}
	if img.Bounds().Dx() != 2 {
		t.Fatalf("unexpected raster size %v", img.Bounds())
	}
	if got := fetcher.count(loc); got != 2 {
		t.Fatalf("fetch calls=%d, want 2 after retry", got)
	}
}

func TestGetEvictsLeastRecentlyUsed(t *testing.T) {
	fetcher := newCountingFetcher()
	a := domain.Locator{Path: "a"}
	b := domain.Locator{Path: "b"}
	c := domain.Locator{Path: "c"}
	for _, loc := range []domain.Locator{a, b, c} {
		fetcher.data[loc] = encodePNG(t, 1, 1, color.NRGBA{A: 255})
	}
	cache, err := New(fetcher, 2)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	ctx := context.Background()
	for _, loc := range []domain.Locator{a, b, a, c} {
		if _, err := cache.Get(ctx, loc); err != nil {
			t.Fatalf("Get(%s) err=%v", loc, err)
		}
	}
	if !cache.Contains(a) || !cache.Contains(c) {
		t.Fatalf("expected recently used a and c to be cached")
	}
	if cache.Contains(b) {
		t.Fatalf("expected b to be evicted")
	}
	if cache.Len() != 2 {
		t.Fatalf("Len()=%d, want 2", cache.Len())
	}
	stats := cache.Stats()
	if stats.Evictions != 1 || stats.Hits != 1 || stats.Loads != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if _, err := cache.Get(ctx, b); err != nil {
		t.Fatalf("Get(b) err=%v", err)
	}
	if fetcher.count(b) != 2 {
		t.Fatalf("expected evicted entry to be refetched")
	}
}

func TestGetReturnsDecodeError(t *testing.T) {
	loc := domain.Locator{Path: "notes.txt"}
	fetcher := newCountingFetcher()
	fetcher.data[loc] = []byte("definitely not an image")
	cache, err := New(fetcher, 0)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	_, err = cache.Get(context.Background(), loc)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err=%v, want decode error", err)
	}
}

func TestGetHonoursCallerContext(t *testing.T) {
	loc := domain.Locator{Path: "slow"}
	fetcher := newCountingFetcher()
	fetcher.data[loc] = encodePNG(t, 1, 1, color.NRGBA{A: 255})
	fetcher.release = make(chan struct{})
	cache, err := New(fetcher, 1)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, loc)
		done <- err
	}()
	waitForMisses(t, cache, 1)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	close(fetcher.release)

	if _, err := cache.Get(context.Background(), loc); err != nil {
		t.Fatalf("Get() after cancel err=%v", err)
	}
}

func TestCustomDecoder(t *testing.T) {
	var decodes atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, loc domain.Locator) ([]byte, error) {
		return []byte{1}, nil
	})
	cache, err := New(fetcher, 1, WithDecoder(func([]byte) (*image.NRGBA, error) {
		decodes.Add(1)
		return image.NewNRGBA(image.Rect(0, 0, 3, 3)), nil
	}))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	img, err := cache.Get(context.Background(), domain.Locator{Path: "x"})
	if err != nil || img.Bounds().Dx() != 3 || decodes.Load() != 1 {
		t.Fatalf("Get()=%v err=%v decodes=%d", img, err, decodes.Load())
	}
}

func TestDecodeNormalisesOrigin(t *testing.T) {
	img, err := Decode(encodePNG(t, 3, 2, color.NRGBA{G: 200, A: 128}))
	if err != nil {
		t.Fatalf("Decode() err=%v", err)
	}
	if img.Rect != image.Rect(0, 0, 3, 2) {
		t.Fatalf("Rect=%v", img.Rect)
	}
	if got := img.NRGBAAt(1, 1); got != (color.NRGBA{G: 200, A: 128}) {
		t.Fatalf("pixel=%v", got)
	}
}
