package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/meteo-pwa/internal/cache"
	"github.com/kjstillabower/meteo-pwa/internal/circuitbreaker"
	"github.com/kjstillabower/meteo-pwa/internal/models"
)

const testScript = "https://app.example/app/service-worker.js"

var testManifest = []string{"/", "/index.html", "/icons/icon-192.png"}

type fakeResponse struct {
	status int
	body   string
}

// fakeNetwork serves canned responses by URL and counts calls. An unknown URL is a 404.
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	err       error
	calls     []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{responses: map[string]fakeResponse{
		"https://app.example/app/":                   {200, "<html>shell</html>"},
		"https://app.example/app/index.html":         {200, "<html>index</html>"},
		"https://app.example/app/icons/icon-192.png": {200, "PNG192"},
		"https://app.example/app/main.js":            {200, "console.log(1)"},
		"https://api.open-meteo.com/v1/forecast":     {200, `{"current":{}}`},
	}}
}

func (f *fakeNetwork) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL.String())
	if f.err != nil {
		return nil, f.err
	}
	key := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	r, ok := f.responses[key]
	if !ok {
		r = fakeResponse{404, "not found"}
	}
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return &http.Response{StatusCode: r.status, Header: h, Body: io.NopCloser(strings.NewReader(r.body))}, nil
}

func (f *fakeNetwork) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeNetwork) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingDisplay struct {
	mu    sync.Mutex
	shown []models.Notification
}

func (d *recordingDisplay) Show(ctx context.Context, n models.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, n)
	return nil
}

func newTestWorker(t *testing.T, version string, network Doer, store cache.GenerationStore) *Worker {
	t.Helper()
	w, err := New(Options{
		Version:   version,
		ScriptURL: testScript,
		DataHosts: []string{"open-meteo.com"},
		Manifest:  testManifest,
		Network:   network,
		Store:     store,
		Display:   &recordingDisplay{},
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w
}

func get(t *testing.T, rawURL, accept string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func installedWorker(t *testing.T, network *fakeNetwork, store cache.GenerationStore) *Worker {
	t.Helper()
	w := newTestWorker(t, "meteo-pwa-v1", network, store)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := w.Activate(context.Background()); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return w
}

func TestNew_Validation(t *testing.T) {
	store := cache.NewInMemoryStore()
	if _, err := New(Options{ScriptURL: testScript, Network: newFakeNetwork(), Store: store}); err == nil {
		t.Error("New() without version error = nil")
	}
	if _, err := New(Options{Version: "v", ScriptURL: "/sw.js", Network: newFakeNetwork(), Store: store}); err == nil {
		t.Error("New() with relative script url error = nil")
	}
	if _, err := New(Options{Version: "v", ScriptURL: testScript}); err == nil {
		t.Error("New() without network and store error = nil")
	}
}

// TestInstall_ThenManifestIsServedFromCache verifies that after install every manifest
// path is a cache hit with no network activity.
func TestInstall_ThenManifestIsServedFromCache(t *testing.T) {
	network := newFakeNetwork()
	w := installedWorker(t, network, cache.NewInMemoryStore())
	if w.Phase() != PhaseActive {
		t.Fatalf("Phase() = %s, want active", w.Phase())
	}

	before := network.callCount()
	for _, u := range w.Manifest() {
		resp, handled := w.Handle(context.Background(), get(t, u, ""))
		if !handled {
			t.Fatalf("Handle(%s) handled = false", u)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Handle(%s) status = %d", u, resp.StatusCode)
		}
		readBody(t, resp)
	}
	if got := network.callCount(); got != before {
		t.Errorf("network calls after install = %d, want %d (no network on hits)", got, before)
	}
}

// TestInstall_FailureIsAtomic verifies that one failing manifest entry writes nothing and
// leaves the worker redundant.
func TestInstall_FailureIsAtomic(t *testing.T) {
	network := newFakeNetwork()
	delete(network.responses, "https://app.example/app/icons/icon-192.png")
	store := cache.NewInMemoryStore()
	w := newTestWorker(t, "meteo-pwa-v1", network, store)

	err := w.Install(context.Background())
	if err == nil {
		t.Fatal("Install() error = nil, want failure for missing icon")
	}
	if w.Phase() != PhaseRedundant {
		t.Errorf("Phase() = %s, want redundant", w.Phase())
	}
	if n := store.Len("meteo-pwa-v1"); n != 0 {
		t.Errorf("generation has %d entries, want 0", n)
	}
	if err := w.Activate(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Activate() on redundant worker error = %v, want ErrInvalidTransition", err)
	}
}

// TestActivate_DeletesStaleGenerationsIdempotently verifies that only the current
// generation survives activation, however many times it runs.
func TestActivate_DeletesStaleGenerationsIdempotently(t *testing.T) {
	ctx := context.Background()
	store := cache.NewInMemoryStore()
	for _, old := range []string{"meteo-pwa-v0", "other-app"} {
		_ = store.Put(ctx, old, "k", cache.Entry{Status: 200})
	}
	w := newTestWorker(t, "meteo-pwa-v1", newFakeNetwork(), store)
	if err := w.Install(ctx); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := w.Activate(ctx); err != nil {
			t.Fatalf("Activate() #%d error = %v", i+1, err)
		}
		names, _ := store.Generations(ctx)
		if len(names) != 1 || names[0] != "meteo-pwa-v1" {
			t.Errorf("Generations() after activate #%d = %v, want [meteo-pwa-v1]", i+1, names)
		}
	}
}

func TestActivate_BeforeInstallFails(t *testing.T) {
	w := newTestWorker(t, "meteo-pwa-v1", newFakeNetwork(), cache.NewInMemoryStore())
	if err := w.Activate(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Activate() error = %v, want ErrInvalidTransition", err)
	}
}

// TestHandle_CacheMissStoresThenServes verifies store-before-respond and that the next
// request is a byte-identical hit without network.
func TestHandle_CacheMissStoresThenServes(t *testing.T) {
	network := newFakeNetwork()
	store := cache.NewInMemoryStore()
	w := installedWorker(t, network, store)

	resp, _ := w.Handle(context.Background(), get(t, "https://app.example/app/main.js", ""))
	if body := readBody(t, resp); body != "console.log(1)" {
		t.Fatalf("first body = %q", body)
	}
	if _, ok, _ := store.Get(context.Background(), "meteo-pwa-v1", "https://app.example/app/main.js"); !ok {
		t.Fatal("entry not stored before response was returned")
	}

	network.responses["https://app.example/app/main.js"] = fakeResponse{200, "console.log(2)"}
	before := network.callCount()
	resp, _ = w.Handle(context.Background(), get(t, "https://app.example/app/main.js#frag", ""))
	if body := readBody(t, resp); body != "console.log(1)" {
		t.Errorf("cached body = %q, want the first fetched content", body)
	}
	if network.callCount() != before {
		t.Error("cache hit made a network call")
	}
}

// TestHandle_Non2xxNotCached verifies that a 404 is passed through and not stored.
func TestHandle_Non2xxNotCached(t *testing.T) {
	network := newFakeNetwork()
	store := cache.NewInMemoryStore()
	w := installedWorker(t, network, store)

	resp, _ := w.Handle(context.Background(), get(t, "https://app.example/app/missing.css", ""))
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if _, ok, _ := store.Get(context.Background(), "meteo-pwa-v1", "https://app.example/app/missing.css"); ok {
		t.Error("404 response was cached")
	}
}

// TestHandle_DataNeverCached verifies that data responses are never stored and that a
// network failure yields the synthesized 503 JSON, even after a previous success.
func TestHandle_DataNeverCached(t *testing.T) {
	network := newFakeNetwork()
	store := cache.NewInMemoryStore()
	w := installedWorker(t, network, store)
	const dataURL = "https://api.open-meteo.com/v1/forecast?latitude=48.85"

	resp, handled := w.Handle(context.Background(), get(t, dataURL, ""))
	if !handled || resp.StatusCode != http.StatusOK {
		t.Fatalf("online data fetch = (%v, %d)", handled, resp.StatusCode)
	}
	readBody(t, resp)
	if store.Len("meteo-pwa-v1") != len(w.Manifest()) {
		t.Error("data response was stored in the generation")
	}

	network.setErr(errors.New("dial tcp: network unreachable"))
	resp, _ = w.Handle(context.Background(), get(t, dataURL, "text/html"))
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body != `{"error":"Pas de connexion internet"}` {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("Content-Type") != "application/json" || resp.Header.Get(SynthesizedHeader) != "1" {
		t.Errorf("headers = %v", resp.Header)
	}
}

// TestHandle_OfflineHTMLFallsBackToShell verifies the app-shell fallback for navigations.
func TestHandle_OfflineHTMLFallsBackToShell(t *testing.T) {
	network := newFakeNetwork()
	w := installedWorker(t, network, cache.NewInMemoryStore())
	network.setErr(errors.New("offline"))

	resp, _ := w.Handle(context.Background(), get(t, "https://app.example/app/city/paris", "text/html,application/xhtml+xml"))
	if body := readBody(t, resp); body != "<html>index</html>" {
		t.Errorf("fallback body = %q, want cached index.html", body)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// TestHandle_OfflineAssetWithoutFallback verifies the synthesized plain-text 503.
func TestHandle_OfflineAssetWithoutFallback(t *testing.T) {
	network := newFakeNetwork()
	w := installedWorker(t, network, cache.NewInMemoryStore())
	network.setErr(errors.New("offline"))

	resp, _ := w.Handle(context.Background(), get(t, "https://app.example/app/style.css", "text/css"))
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable || body != "Contenu non disponible hors-ligne" {
		t.Errorf("response = (%d, %q)", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

// TestHandle_OfflineHTMLWithoutShell verifies the 503 when the shell itself is not cached.
func TestHandle_OfflineHTMLWithoutShell(t *testing.T) {
	network := newFakeNetwork()
	network.setErr(errors.New("offline"))
	w := newTestWorker(t, "meteo-pwa-v1", network, cache.NewInMemoryStore())

	resp, _ := w.Handle(context.Background(), get(t, "https://app.example/app/", "text/html"))
	readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHandle_IgnoredRequests(t *testing.T) {
	network := newFakeNetwork()
	w := installedWorker(t, network, cache.NewInMemoryStore())

	req, _ := http.NewRequest(http.MethodPost, "https://app.example/app/api", strings.NewReader("{}"))
	if resp, handled := w.Handle(context.Background(), req); handled || resp != nil {
		t.Errorf("Handle(POST) = (%v, %v), want (nil, false)", resp, handled)
	}
}

// TestHandle_OpenBreakerIsOffline verifies that an open circuit yields the synthesized data error.
func TestHandle_OpenBreakerIsOffline(t *testing.T) {
	network := newFakeNetwork()
	network.setErr(errors.New("connection reset"))
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	w, err := New(Options{
		Version:   "meteo-pwa-v1",
		ScriptURL: testScript,
		DataHosts: []string{"open-meteo.com"},
		Network:   network,
		Store:     cache.NewInMemoryStore(),
		Breaker:   cb,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, _ := w.Handle(context.Background(), get(t, "https://api.open-meteo.com/v1/forecast", ""))
	readBody(t, resp)
	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", cb.State())
	}
	before := network.callCount()
	resp, _ = w.Handle(context.Background(), get(t, "https://api.open-meteo.com/v1/forecast", ""))
	readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if network.callCount() != before {
		t.Error("open breaker still reached the network")
	}
}

func TestShowNotification_UsesDisplayWithDefaults(t *testing.T) {
	display := &recordingDisplay{}
	w, err := New(Options{
		Version:   "meteo-pwa-v1",
		ScriptURL: testScript,
		Network:   newFakeNetwork(),
		Store:     cache.NewInMemoryStore(),
		Display:   display,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.ShowNotification(context.Background(), Message{Type: MessageShowNotification, Title: "hello"}); err != nil {
		t.Fatalf("ShowNotification() error = %v", err)
	}
	if len(display.shown) != 1 || display.shown[0].Icon != "/app/icons/icon-192.png" {
		t.Errorf("shown = %+v", display.shown)
	}
}
