package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamforge/internal/cache"
	"streamforge/internal/lock"
	"streamforge/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body any) *http.Response {
	raw, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(raw))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestStoreClient(transport roundTripFunc) *StoreClient {
	return NewStoreClient(StoreClientConfig{
		ID:      "storeA",
		BaseURL: "https://store.example",
		Token:   "token-1",
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Second,
		},
		Store: cache.NewMemory(time.Minute),
		Locks: lock.NewLocal(),
	})
}

func TestListMagnetsPagination(t *testing.T) {
	total := 150
	var requests atomic.Int32
	client := newTestStoreClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v0/store/magnets" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("authorization = %q", got)
		}
		requests.Add(1)
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		if limit < 100 || limit > 500 {
			t.Errorf("page size %d outside [100,500]", limit)
		}

		var items []storeItem
		for i := offset; i < offset+limit && i < total; i++ {
			items = append(items, storeItem{
				ID:     fmt.Sprintf("m%d", i),
				Hash:   fmt.Sprintf("%040d", i),
				Status: "downloaded",
			})
		}
		return jsonResponse(http.StatusOK, storeResponse[storePage]{
			Data: storePage{Items: items, TotalItems: total},
		}), nil
	})

	items, err := client.ListMagnets(context.Background())
	if err != nil {
		t.Fatalf("ListMagnets: %v", err)
	}
	if len(items) != total {
		t.Errorf("got %d items, want %d", len(items), total)
	}
	if requests.Load() != 2 {
		t.Errorf("made %d requests, want 2 pages", requests.Load())
	}

	// Second read is served from the library cache.
	if _, err := client.ListMagnets(context.Background()); err != nil {
		t.Fatalf("ListMagnets (cached): %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("cached read hit the backend again (%d requests)", requests.Load())
	}
}

func TestCheckMagnetsReconcilesLibrary(t *testing.T) {
	cachedHash := strings.Repeat("a", 40)
	failedHash := strings.Repeat("b", 40)
	client := newTestStoreClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v0/store/magnets/check":
			hashes := strings.Split(req.URL.Query().Get("magnet"), ",")
			var items []storeItem
			for _, h := range hashes {
				items = append(items, storeItem{ID: "c-" + h[:4], Hash: h, Status: "cached"})
			}
			return jsonResponse(http.StatusOK, storeResponse[storePage]{Data: storePage{Items: items}}), nil
		case "/v0/store/magnets":
			return jsonResponse(http.StatusOK, storeResponse[storePage]{Data: storePage{
				Items: []storeItem{
					{ID: "lib-1", Hash: cachedHash, Status: "downloaded"},
					{ID: "lib-2", Hash: failedHash, Status: "failed"},
				},
				TotalItems: 2,
			}}), nil
		default:
			t.Errorf("unexpected path %s", req.URL.Path)
			return jsonResponse(http.StatusNotFound, nil), nil
		}
	})

	results, err := client.CheckMagnets(context.Background(), []string{cachedHash, failedHash}, CheckOptions{CheckOwned: true})
	if err != nil {
		t.Fatalf("CheckMagnets: %v", err)
	}

	if got := results[cachedHash]; got == nil || !got.Library || !got.Status.Ready() {
		t.Errorf("library item = %+v, want library flag with ready status", got)
	}
	// A known-failed library item downgrades the check answer.
	if got := results[failedHash]; got == nil || got.Status != models.StatusFailed {
		t.Errorf("failed item = %+v, want failed status", got)
	}
}

func TestCheckMagnetsBatches(t *testing.T) {
	var batchSizes []int
	var mu sync.Mutex
	client := newTestStoreClient(func(req *http.Request) (*http.Response, error) {
		hashes := strings.Split(req.URL.Query().Get("magnet"), ",")
		mu.Lock()
		batchSizes = append(batchSizes, len(hashes))
		mu.Unlock()
		return jsonResponse(http.StatusOK, storeResponse[storePage]{}), nil
	})

	hashes := make([]string, 1200)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("%040d", i)
	}
	if _, err := client.CheckMagnets(context.Background(), hashes, CheckOptions{}); err != nil {
		t.Fatalf("CheckMagnets: %v", err)
	}
	want := []int{500, 500, 200}
	if len(batchSizes) != len(want) {
		t.Fatalf("batch sizes = %v", batchSizes)
	}
	for i, size := range want {
		if batchSizes[i] != size {
			t.Errorf("batch %d size = %d, want %d", i, batchSizes[i], size)
		}
	}
}

func TestStoreErrorMapping(t *testing.T) {
	client := newTestStoreClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, storeResponse[storePage]{
			Error: &storeAPIError{Code: "UNAUTHORIZED", Message: "invalid token"},
		}), nil
	})

	_, err := client.CheckMagnets(context.Background(), []string{strings.Repeat("a", 40)}, CheckOptions{})
	derr := AsError(err)
	if derr == nil || derr.Code != CodeUnauthorized || derr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %+v", derr)
	}
	if !strings.Contains(derr.Message, "invalid token") {
		t.Errorf("message = %q", derr.Message)
	}
}

func TestResolveSingleFlight(t *testing.T) {
	hash := strings.Repeat("a", 40)
	var addCalls atomic.Int32
	client := newTestStoreClient(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.URL.Path == "/v0/store/magnets" && req.Method == http.MethodGet:
			return jsonResponse(http.StatusOK, storeResponse[storePage]{}), nil
		case req.URL.Path == "/v0/store/magnets" && req.Method == http.MethodPost:
			addCalls.Add(1)
			return jsonResponse(http.StatusOK, storeResponse[storeItem]{Data: storeItem{
				ID:     "m-1",
				Hash:   hash,
				Status: "cached",
				Files: []storeFile{
					{Index: 0, Name: "Show.S02E03.1080p.x264-GRP.mkv", Size: 1_500_000_000, Link: "store://file/0"},
				},
			}}), nil
		case req.URL.Path == "/v0/store/link/generate":
			return jsonResponse(http.StatusOK, storeResponse[generateLinkResponse]{
				Data: generateLinkResponse{Link: "https://cdn.example/play/1"},
			}), nil
		default:
			t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
			return jsonResponse(http.StatusNotFound, nil), nil
		}
	})

	info := PlaybackInfo{
		Hash:      hash,
		Filename:  "Show.S02E03.1080p.x264-GRP.mkv",
		FileIndex: -1,
		Season:    2,
		Episode:   3,
	}

	var wg sync.WaitGroup
	urls := make([]string, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			url, err := client.Resolve(context.Background(), info, ResolveOptions{})
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			urls[i] = url
		}()
	}
	wg.Wait()

	if urls[0] != "https://cdn.example/play/1" || urls[1] != urls[0] {
		t.Errorf("urls = %v", urls)
	}
	if calls := addCalls.Load(); calls != 1 {
		t.Errorf("addMagnet called %d times, want 1", calls)
	}
}

func TestResolveUncachedWithoutCacheAndPlay(t *testing.T) {
	hash := strings.Repeat("d", 40)
	var gets atomic.Int32
	client := newTestStoreClient(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.URL.Path == "/v0/store/magnets" && req.Method == http.MethodGet:
			return jsonResponse(http.StatusOK, storeResponse[storePage]{}), nil
		case req.URL.Path == "/v0/store/magnets" && req.Method == http.MethodPost:
			return jsonResponse(http.StatusOK, storeResponse[storeItem]{Data: storeItem{
				ID: "m-2", Hash: hash, Status: "downloading",
			}}), nil
		case strings.HasPrefix(req.URL.Path, "/v0/store/magnets/"):
			gets.Add(1)
			return jsonResponse(http.StatusOK, storeResponse[storeItem]{Data: storeItem{
				ID: "m-2", Hash: hash, Status: "downloading",
			}}), nil
		default:
			t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
			return jsonResponse(http.StatusNotFound, nil), nil
		}
	})

	info := PlaybackInfo{Hash: hash, FileIndex: -1}
	url, err := client.Resolve(context.Background(), info, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "" {
		t.Errorf("url = %q, want empty for an unready item", url)
	}
	if gets.Load() != 0 {
		t.Errorf("resolve polled %d times without cache-and-play", gets.Load())
	}

	// The negative outcome is cached; the next attempt does not re-add.
	if _, err := client.Resolve(context.Background(), info, ResolveOptions{}); err != nil {
		t.Fatalf("Resolve (second): %v", err)
	}
}

func TestResolveTerminalStatusFails(t *testing.T) {
	hash := strings.Repeat("e", 40)
	var removed atomic.Bool
	client := newTestStoreClient(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.URL.Path == "/v0/store/magnets" && req.Method == http.MethodGet:
			return jsonResponse(http.StatusOK, storeResponse[storePage]{}), nil
		case req.URL.Path == "/v0/store/magnets" && req.Method == http.MethodPost:
			return jsonResponse(http.StatusOK, storeResponse[storeItem]{Data: storeItem{
				ID: "m-3", Hash: hash, Status: "failed",
			}}), nil
		case req.Method == http.MethodDelete:
			removed.Store(true)
			return jsonResponse(http.StatusOK, storeResponse[storeItem]{}), nil
		default:
			t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
			return jsonResponse(http.StatusNotFound, nil), nil
		}
	})

	_, err := client.Resolve(context.Background(), PlaybackInfo{Hash: hash, FileIndex: -1}, ResolveOptions{AutoRemove: true})
	derr := AsError(err)
	if derr == nil || derr.Code != CodeUnknown {
		t.Fatalf("error = %+v, want UNKNOWN", derr)
	}
	if !removed.Load() {
		t.Error("failed item was not auto-removed")
	}
}
