// Package transport implements the resolver's UDP front end: a set of
// listening sockets bound at startup to every configured endpoint, with a
// non-blocking send path and per-datagram dispatch to a Handler.
//
// Unlike the DNS server this is adapted from, resolution here has blocking
// legs (SIP, HTTP), so the transport does not use a fixed worker pool per
// socket tuned for recursive-DNS QPS. Each datagram is instead handed off to
// its own goroutine, with no bound on how many run at once; a blocking SIP
// resolve holds only that datagram's goroutine, never the receive loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/yeti-lnp/lnpresolver/internal/pool"
)

// MaxDatagramSize is the largest UDP payload the receive path will buffer.
// It comfortably covers both tagged requests (a handful of bytes) and cnam
// requests (a small JSON object).
const MaxDatagramSize = 65507

var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, MaxDatagramSize)
	return &buf
})

// Client identifies the sender of a datagram and the socket it arrived on,
// so a reply can be sent back to the right place.
type Client struct {
	Addr *net.UDPAddr
	conn *net.UDPConn
}

// Handler processes one received datagram. Each call runs on its own
// goroutine and must not block indefinitely; the resolver's own handler
// submits HTTP work to the async engine and returns, while a SIP resolve
// blocks the call until the SIP reply or its timeout.
type Handler interface {
	HandleDatagram(ctx context.Context, client Client, payload []byte)
}

// Listener owns a set of UDP sockets, one per configured endpoint.
type Listener struct {
	Logger  *slog.Logger
	Handler Handler

	mu    sync.Mutex
	conns []*net.UDPConn
	wg    sync.WaitGroup
}

// Run binds every endpoint in turn and starts one receive loop per socket
// that binds successfully. Binding fails only if every endpoint fails to
// bind; individual bind failures are logged and skipped. Run blocks until
// ctx is cancelled, then stops all sockets and waits (up to 5s) for
// in-flight receive loops to exit.
func (l *Listener) Run(ctx context.Context, endpoints []string) error {
	if len(endpoints) == 0 {
		return errors.New("transport: no listen endpoints configured")
	}

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, ep := range endpoints {
		addr, err := net.ResolveUDPAddr("udp", ep)
		if err != nil {
			logger.Warn("transport: invalid listen endpoint", "endpoint", ep, "error", err)
			continue
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			logger.Warn("transport: bind failed", "endpoint", ep, "error", err)
			continue
		}
		logger.Info("transport: listening", "endpoint", ep)
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}

	l.mu.Lock()
	n := len(l.conns)
	conns := append([]*net.UDPConn(nil), l.conns...)
	l.mu.Unlock()

	if n == 0 {
		return fmt.Errorf("transport: failed to bind any of %d listen endpoint(s)", len(endpoints))
	}

	for _, c := range conns {
		conn := c
		l.wg.Go(func() {
			l.recvLoop(ctx, conn)
		})
	}

	<-ctx.Done()
	return l.Stop(5 * time.Second)
}

func (l *Listener) recvLoop(ctx context.Context, conn *net.UDPConn) {
	for {
		bufPtr := bufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			bufferPool.Put(bufPtr)
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		bufferPool.Put(bufPtr)

		if l.Handler == nil {
			continue
		}

		client := Client{Addr: peer, conn: conn}
		l.wg.Go(func() {
			l.Handler.HandleDatagram(ctx, client, payload)
		})
	}
}

// BoundAddrForTest returns the first bound socket's local address, or nil
// if Run has not yet bound one. Exported for tests in other packages that
// need to dial a Listener started on an ephemeral port.
func (l *Listener) BoundAddrForTest() *net.UDPAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.conns) == 0 {
		return nil
	}
	return l.conns[0].LocalAddr().(*net.UDPAddr)
}

// Send writes a reply datagram back to the client that sent the original
// request. It is non-blocking: no queuing, no retry on a short write or a
// transient error, matching UDP's fire-and-forget contract.
func Send(client Client, data []byte) error {
	if client.conn == nil {
		return errors.New("transport: client has no associated socket")
	}
	_, err := client.conn.WriteToUDP(data, client.Addr)
	return err
}

// Stop closes every bound socket, unblocking the receive loops, then waits
// up to timeout for them (and any in-flight datagram handlers) to exit.
func (l *Listener) Stop(timeout time.Duration) error {
	l.mu.Lock()
	conns := l.conns
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	if timeout <= 0 {
		l.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("transport: timeout waiting for goroutines to exit")
	}
}
