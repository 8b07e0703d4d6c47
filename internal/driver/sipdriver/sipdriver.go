// Package sipdriver implements the SIP 301/302 redirect LNP driver: it
// sends an INVITE to a configured host and extracts the local routing
// number from the Contact header's "rn" user parameter.
package sipdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

func init() {
	driver.Register(driver.KindSIP, New)
}

// StaticConfig carries the process-global SIP identity fields (from-name,
// from-uri, contact-user) every driver instance shares, recorded once at
// process startup by Configure. Per-row config never overrides these.
type StaticConfig struct {
	FromName    string
	FromURI     string
	ContactUser string
}

var staticConfig StaticConfig
var staticConfigOnce sync.Once

// Configure records the process-wide SIP identity fields. It must be called
// once, before the first SIP driver row is loaded.
func Configure(cfg StaticConfig) {
	staticConfigOnce.Do(func() {
		staticConfig = cfg
	})
}

// stack is the process-wide lazily-started SIP UAC, shared by every
// sipdriver.Driver instance — spec.md §4.6: "only one SIP stack instance
// exists process-wide."
type stack struct {
	client *sipgo.Client
}

var (
	stackOnce sync.Once
	stackMu   sync.Mutex
	sharedUA  *sipgo.UserAgent
	sharedSt  *stack
	stackErr  error
)

func getStack() (*stack, error) {
	stackOnce.Do(func() {
		stackMu.Lock()
		defer stackMu.Unlock()

		ua, err := sipgo.NewUA(sipgo.WithUserAgent("Yeti LNP resolver"))
		if err != nil {
			stackErr = fmt.Errorf("sipdriver: create user agent: %w", err)
			return
		}
		cli, err := sipgo.NewClient(ua)
		if err != nil {
			stackErr = fmt.Errorf("sipdriver: create client: %w", err)
			return
		}
		sharedUA = ua
		sharedSt = &stack{client: cli}
	})
	return sharedSt, stackErr
}

// Driver resolves numbers by sending a SIP INVITE and reading the 301/302
// redirect Contact header.
type Driver struct {
	common driver.CommonConfig
	host   string
	port   int
}

// New builds a Driver from the row's common and kind-specific
// ("host"/"port") configuration, matching driver.ConstructorFunc.
func New(common driver.CommonConfig, _ driver.Shape, row driver.RawRow) (driver.Driver, error) {
	host, _ := row["host"].(string)
	if host == "" {
		return nil, fmt.Errorf("sipdriver: missing host")
	}
	port := 0
	if v, ok := row["port"]; ok {
		if p, ok := toInt(v); ok {
			port = p
		}
	}

	if _, err := getStack(); err != nil {
		return nil, err
	}

	return &Driver{common: common, host: host, port: port}, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (d *Driver) ID() int32                      { return d.common.UniqueID }
func (d *Driver) Label() string                  { return d.common.Label }
func (d *Driver) Kind() driver.Kind              { return driver.KindSIP }
func (d *Driver) DeclaredType() wire.RequestType { return wire.TypeTagged }
func (d *Driver) Close() error                   { return nil }

// requestURI builds "sip:<payload>@<host>[:port]".
func (d *Driver) requestURI(payload string) string {
	if d.port != 0 {
		return fmt.Sprintf("sip:%s@%s:%d", payload, d.host, d.port)
	}
	return fmt.Sprintf("sip:%s@%s", payload, d.host)
}

// StartResolve sends the INVITE and blocks its caller on the SIP reply
// (or timeout); it always completes synchronously — spec.md §4.6: "each
// call blocks its caller on a per-call completion latch with the
// configured timeout." Grounded on query_handler.go's resolveWithTimeout
// pattern (goroutine + buffered channel + timer + select), generalized
// here to a single blocking call rather than a fire-and-forget dispatch.
func (d *Driver) StartResolve(ctx context.Context, _ uint32, payload []byte, _ *asyncio.Engine) (driver.Result, bool, error) {
	st, err := getStack()
	if err != nil {
		return driver.Result{}, true, wire.Wrap(wire.CodeDriverResolvingError, err)
	}

	timeout := time.Duration(d.common.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(driver.DefaultTimeoutMillis) * time.Millisecond
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := d.invite(callCtx, st, string(payload))
	if err != nil {
		return driver.Result{}, true, err
	}
	return result, true, nil
}

func (d *Driver) invite(ctx context.Context, st *stack, payload string) (driver.Result, error) {
	recipient, err := sip.ParseUri(d.requestURI(payload))
	if err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("sipdriver: build request uri: %w", err))
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	req.AppendHeader(sip.NewHeader("From", formatFrom(staticConfig.FromName, staticConfig.FromURI)))
	req.AppendHeader(sip.NewHeader("Contact", formatContact(staticConfig.ContactUser, d.host)))

	tx, err := st.client.TransactionRequest(ctx, req)
	if err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("sipdriver: send invite: %w", err))
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				continue
			}
			if res.IsProvisional() {
				continue
			}
			return d.handleFinalResponse(res)
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, err)
			}
			return driver.Result{}, wire.NewResolverError(wire.CodeDriverResolvingError, "no SIP response")
		case <-ctx.Done():
			return driver.Result{}, wire.NewResolverError(wire.CodeDriverResolvingError, "SIP request timed out")
		}
	}
}

func (d *Driver) handleFinalResponse(res *sip.Response) (driver.Result, error) {
	code := int(res.StatusCode)
	if code != 301 && code != 302 {
		return driver.Result{}, wire.NewResolverError(wire.CodeDriverResolvingError, fmt.Sprintf("unexpected SIP final response %d", code))
	}

	contact := res.Contact()
	if contact == nil {
		return driver.Result{}, wire.NewResolverError(wire.CodeDriverResolvingError, "SIP response has no Contact header")
	}

	userPart := contact.Address.User
	return parseContactUser(userPart)
}

// parseContactUser implements spec.md §4.6's Contact user-part parsing,
// grounded byte-for-byte on original_source's SipDriver.cpp::resolve: no
// ';' at all means the whole user part is both the LRN and raw_data
// (legacy bare-number fallback); otherwise split on ';' then '=' and take
// the "rn" segment, with raw_data always the full user part.
func parseContactUser(userPart string) (driver.Result, error) {
	if !strings.Contains(userPart, ";") {
		return driver.Result{LocalRoutingNumber: userPart, RawData: userPart}, nil
	}

	for _, segment := range strings.Split(userPart, ";") {
		name, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		if name == "rn" {
			return driver.Result{LocalRoutingNumber: value, RawData: userPart}, nil
		}
	}

	return driver.Result{}, wire.NewResolverError(wire.CodeDriverResolvingError, "Contact user-part without 'rn' parameter")
}

// Parse is never called for sipdriver: StartResolve is always done=true.
func (d *Driver) Parse(_ []byte, _ []byte) (driver.Result, error) {
	return driver.Result{}, fmt.Errorf("sipdriver: Parse called on a synchronous driver")
}

func formatFrom(name, uri string) string {
	if name == "" {
		return fmt.Sprintf("<%s>", uri)
	}
	return fmt.Sprintf("%q <%s>", name, uri)
}

func formatContact(user, host string) string {
	return fmt.Sprintf("<sip:%s@%s>", user, host)
}
