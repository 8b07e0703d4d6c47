package resolver

import (
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/transport"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

// stubDriver is a minimal driver.Driver used to exercise the dispatcher
// without depending on any concrete provider package.
type stubDriver struct {
	declaredType wire.RequestType
	async        bool
	result       driver.Result
	err          error
	parseResult  driver.Result
	parseErr     error
	submitURL    string
}

func (s *stubDriver) ID() int32                      { return 1 }
func (s *stubDriver) Label() string                  { return "stub" }
func (s *stubDriver) Kind() driver.Kind              { return driver.Kind("stub") }
func (s *stubDriver) DeclaredType() wire.RequestType { return s.declaredType }
func (s *stubDriver) Close() error                   { return nil }

func (s *stubDriver) StartResolve(ctx context.Context, reqID uint32, payload []byte, engine *asyncio.Engine) (driver.Result, bool, error) {
	if !s.async {
		return s.result, true, s.err
	}
	if s.submitURL != "" {
		engine.Submit(ctx, asyncio.HTTPRequest{RequestID: reqID, URL: s.submitURL, Timeout: time.Second, VerifySSL: true})
	}
	return driver.Result{}, false, nil
}

func (s *stubDriver) Parse(body []byte, payload []byte) (driver.Result, error) {
	return s.parseResult, s.parseErr
}

type fakeCache struct {
	mu      sync.Mutex
	entries []CacheEntry
}

func (f *fakeCache) Enqueue(e CacheEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return true
}

func (f *fakeCache) snapshot() []CacheEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CacheEntry(nil), f.entries...)
}

type fakeMetrics struct {
	mu       sync.Mutex
	requests int
	failed   int
	finished int
}

func (m *fakeMetrics) IncRequests(uint8)                    { m.mu.Lock(); m.requests++; m.mu.Unlock() }
func (m *fakeMetrics) IncFailed(uint8)                      { m.mu.Lock(); m.failed++; m.mu.Unlock() }
func (m *fakeMetrics) IncFinished(uint8)                    { m.mu.Lock(); m.finished++; m.mu.Unlock() }
func (m *fakeMetrics) ObserveDuration(uint8, time.Duration) {}

func newTaggedRequest(reqID uint32, dbID uint8, number string) []byte {
	buf := make([]byte, 6+1+len(number))
	binary.LittleEndian.PutUint32(buf[0:4], reqID)
	buf[4] = dbID
	buf[5] = byte(wire.TypeTagged)
	buf[6] = byte(len(number))
	copy(buf[7:], number)
	return buf
}

func newCNAMRequest(reqID uint32, dbID uint8, payload []byte) []byte {
	buf := make([]byte, 6+4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], reqID)
	buf[4] = dbID
	buf[5] = byte(wire.TypeCNAM)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(len(payload)))
	copy(buf[10:], payload)
	return buf
}

// harness binds a Dispatcher behind a real transport.Listener so tests
// exercise the genuine Handler/Client plumbing rather than a fabricated one.
type harness struct {
	client *net.UDPConn
	cancel context.CancelFunc
	done   chan error
}

func startHarness(t *testing.T, d *Dispatcher) *harness {
	t.Helper()
	l := &transport.Listener{Handler: d}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, []string{"127.0.0.1:0"}) }()

	var boundAddr *net.UDPAddr
	require.Eventually(t, func() bool {
		addr := l.BoundAddrForTest()
		if addr == nil {
			return false
		}
		boundAddr = addr
		return true
	}, 2*time.Second, 10*time.Millisecond)

	client, err := net.DialUDP("udp", nil, boundAddr)
	require.NoError(t, err)

	return &harness{client: client, cancel: cancel, done: done}
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	h.client.Close()
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for listener to stop")
	}
}

func (h *harness) read(t *testing.T) []byte {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65507)
	n, err := h.client.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestDispatcherSynchronousTaggedSuccessSendsProvisionalThenReplyAndEnqueuesCache(t *testing.T) {
	reg := driver.NewRegistry(nil)
	stub := &stubDriver{declaredType: wire.TypeTagged, result: driver.Result{LocalRoutingNumber: "777", LocalRoutingTag: "tagA"}}
	requireRegistryWithStub(t, reg, 5, stub)

	cache := &fakeCache{}
	metrics := &fakeMetrics{}
	d := NewDispatcher(nil, reg, asyncio.NewEngine(make(chan asyncio.Completion, 1)), make(chan asyncio.Completion))
	d.Cache = cache
	d.Metrics = metrics

	h := startHarness(t, d)
	defer h.close(t)

	_, err := h.client.Write(newTaggedRequest(1, 5, "555"))
	require.NoError(t, err)

	provisional := h.read(t)
	assert.Len(t, provisional, 4)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(provisional))

	final := h.read(t)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(final[:4]))
	assert.Equal(t, byte(wire.CodeNoError), final[4])

	require.Eventually(t, func() bool { return len(cache.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	entries := cache.snapshot()
	assert.Equal(t, "777", entries[0].LocalRoutingNumber)
	assert.Equal(t, "tagA", entries[0].Tag)
	assert.Equal(t, 1, metrics.finished)
	assert.Equal(t, 1, metrics.requests)
}

func TestDispatcherUnknownDatabaseIDSendsError(t *testing.T) {
	reg := driver.NewRegistry(nil)
	d := NewDispatcher(nil, reg, asyncio.NewEngine(make(chan asyncio.Completion, 1)), make(chan asyncio.Completion))

	h := startHarness(t, d)
	defer h.close(t)

	_, err := h.client.Write(newTaggedRequest(2, 99, "555"))
	require.NoError(t, err)

	_ = h.read(t) // provisional
	final := h.read(t)
	assert.Equal(t, byte(wire.CodeGeneralResolvingError), final[4])
}

func TestDispatcherTypeMismatchSendsError(t *testing.T) {
	reg := driver.NewRegistry(nil)
	stub := &stubDriver{declaredType: wire.TypeCNAM}
	requireRegistryWithStub(t, reg, 6, stub)

	d := NewDispatcher(nil, reg, asyncio.NewEngine(make(chan asyncio.Completion, 1)), make(chan asyncio.Completion))

	h := startHarness(t, d)
	defer h.close(t)

	_, err := h.client.Write(newTaggedRequest(3, 6, "555")) // tagged request against a cnam-declared driver
	require.NoError(t, err)

	_ = h.read(t) // provisional
	final := h.read(t)
	assert.Equal(t, byte(wire.CodeGeneralResolvingError), final[4])
}

func TestDispatcherMalformedRequestSendsOnlyOneErrorReply(t *testing.T) {
	reg := driver.NewRegistry(nil)
	d := NewDispatcher(nil, reg, asyncio.NewEngine(make(chan asyncio.Completion, 1)), make(chan asyncio.Completion))

	h := startHarness(t, d)
	defer h.close(t)

	_, err := h.client.Write([]byte{1, 2, 3}) // too short for the common prefix
	require.NoError(t, err)

	reply := h.read(t)
	assert.Equal(t, byte(wire.CodeInvalidRequest), reply[4])

	h.client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	_, err = h.client.Read(buf)
	assert.Error(t, err, "expected no second datagram after the single error reply")
}

func TestDispatcherAsyncCompletionDeliversFinalReplyAndEnqueuesCache(t *testing.T) {
	reg := driver.NewRegistry(nil)
	stub := &stubDriver{
		declaredType: wire.TypeTagged,
		async:        true,
		parseResult:  driver.Result{LocalRoutingNumber: "999", LocalRoutingTag: "tagB"},
	}
	requireRegistryWithStub(t, reg, 7, stub)

	completions := make(chan asyncio.Completion, 1)
	cache := &fakeCache{}
	d := NewDispatcher(nil, reg, asyncio.NewEngine(completions), completions)
	d.Cache = cache

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	h := startHarness(t, d)
	defer h.close(t)

	_, err := h.client.Write(newTaggedRequest(9, 7, "555"))
	require.NoError(t, err)

	_ = h.read(t) // provisional

	completions <- asyncio.Completion{RequestID: 9, Body: []byte(`ignored`)}

	final := h.read(t)
	assert.Equal(t, byte(wire.CodeNoError), final[4])

	require.Eventually(t, func() bool { return len(cache.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	entries := cache.snapshot()
	assert.Equal(t, "999", entries[0].LocalRoutingNumber)
}

func TestDispatcherAsyncCompletionNonOKStatusUsesDriverResolvingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := driver.NewRegistry(nil)
	stub := &stubDriver{declaredType: wire.TypeTagged, async: true, submitURL: srv.URL}
	requireRegistryWithStub(t, reg, 10, stub)

	completions := make(chan asyncio.Completion, 1)
	d := NewDispatcher(nil, reg, asyncio.NewEngine(completions), completions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	h := startHarness(t, d)
	defer h.close(t)

	_, err := h.client.Write(newTaggedRequest(11, 10, "555"))
	require.NoError(t, err)

	_ = h.read(t) // provisional
	final := h.read(t)
	assert.Equal(t, byte(wire.CodeDriverResolvingError), final[4])
}

func TestDispatcherCNAMSuccessNeverEnqueuesCache(t *testing.T) {
	reg := driver.NewRegistry(nil)
	stub := &stubDriver{declaredType: wire.TypeCNAM, result: driver.Result{RawData: `{"response":{"x":1}}`}}
	requireRegistryWithStub(t, reg, 8, stub)

	cache := &fakeCache{}
	d := NewDispatcher(nil, reg, asyncio.NewEngine(make(chan asyncio.Completion, 1)), make(chan asyncio.Completion))
	d.Cache = cache

	h := startHarness(t, d)
	defer h.close(t)

	_, err := h.client.Write(newCNAMRequest(4, 8, []byte(`{"num":"42"}`)))
	require.NoError(t, err)

	_ = h.read(t) // provisional
	final := h.read(t)
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(final[:4]))
	assert.Empty(t, cache.snapshot())
}

// requireRegistryWithStub installs a stub driver into reg under dbID by
// registering a throwaway Kind whose constructor always returns it, then
// loading a single synthetic row.
func requireRegistryWithStub(t *testing.T, reg *driver.Registry, dbID uint8, stub driver.Driver) {
	t.Helper()
	kind := driver.Kind(testKindName(dbID))
	driver.Register(kind, func(common driver.CommonConfig, shape driver.Shape, row driver.RawRow) (driver.Driver, error) {
		return stub, nil
	})
	require.NoError(t, reg.Load(context.Background(), testRowSource{rows: []driver.RawRow{
		{"unique_id": int32(dbID), "label": "stub", "database_type": string(kind)},
	}}))
}

func testKindName(dbID uint8) string {
	return "resolver-test-stub-" + string(rune('a'+dbID))
}

type testRowSource struct {
	rows []driver.RawRow
}

func (s testRowSource) LoadDriverRows(ctx context.Context) ([]driver.RawRow, error) {
	return s.rows, nil
}
