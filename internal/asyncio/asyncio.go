// Package asyncio drives concurrent outbound HTTP requests and reports their
// completions on a single shared channel, reproducing (without a literal
// socket/timer reactor) the property that every submitted request completes
// exactly once, observed by exactly one reader.
package asyncio

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPRequest describes one outbound request a driver wants performed.
// Method is always GET in the current driver set but kept explicit because
// the wire protocol does not constrain it.
type HTTPRequest struct {
	RequestID uint32
	Method    string
	URL       string
	AuthUser  string
	AuthPass  string
	VerifySSL bool
	Timeout   time.Duration
	Headers   []string // "Key: Value" lines
}

// Completion is delivered exactly once per submitted HTTPRequest.
type Completion struct {
	RequestID uint32
	Body      []byte
	Err       error
}

// Engine submits HTTPRequests concurrently, one goroutine per in-flight
// request, and reports completions on the channel supplied at construction.
// It has no internal socket table or timer: net/http already multiplexes
// connections, so the "readiness loop" the original engine drives is not
// needed — the dispatcher simply reads Completion values as they arrive.
type Engine struct {
	completions chan<- Completion
	clientFor   func(verifySSL bool) *http.Client

	mu      sync.Mutex
	clients map[bool]*http.Client
}

// NewEngine creates an Engine that reports completions on the given channel.
// The channel should be large enough, or drained promptly, that a slow
// dispatcher does not stall in-flight transfers; Submit's goroutine blocks
// on the send until either it succeeds or ctx is done.
func NewEngine(completions chan<- Completion) *Engine {
	return &Engine{
		completions: completions,
		clients:     make(map[bool]*http.Client),
	}
}

func (e *Engine) httpClient(verifySSL bool) *http.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[verifySSL]; ok {
		return c
	}
	transport := &http.Transport{}
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	c := &http.Client{Transport: transport}
	e.clients[verifySSL] = c
	return c
}

// Submit performs req asynchronously and delivers exactly one Completion on
// the engine's channel, keyed by req.RequestID. ctx bounds the engine's own
// lifetime (e.g. process shutdown); req.Timeout bounds the request itself.
func (e *Engine) Submit(ctx context.Context, req HTTPRequest) {
	go func() {
		body, err := e.do(ctx, req)
		completion := Completion{RequestID: req.RequestID, Body: body, Err: err}
		select {
		case e.completions <- completion:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) do(ctx context.Context, req HTTPRequest) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, nil)
	if err != nil {
		return nil, err
	}
	if req.AuthUser != "" {
		httpReq.SetBasicAuth(req.AuthUser, req.AuthPass)
	}
	for _, line := range req.Headers {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	resp, err := e.httpClient(req.VerifySSL).Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &statusError{code: resp.StatusCode}
	}
	return body, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	var b bytes.Buffer
	b.WriteString("upstream returned non-2xx status: ")
	b.WriteString(strconv.Itoa(e.code))
	b.WriteString(" ")
	b.WriteString(http.StatusText(e.code))
	return b.String()
}

// StatusCode reports the HTTP status code carried by err, if any.
func StatusCode(err error) (int, bool) {
	se, ok := err.(*statusError)
	if !ok {
		return 0, false
	}
	return se.code, true
}
