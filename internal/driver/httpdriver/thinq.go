package httpdriver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

func init() {
	driver.Register(driver.KindThinQ, newThinQ)
}

// ThinQDriver resolves numbers against the ThinQ "lrn/extended" API —
// spec.md §4.7.1.
type ThinQDriver struct {
	base
	host     string
	port     int
	username string
	token    string
}

func newThinQ(common driver.CommonConfig, _ driver.Shape, row driver.RawRow) (driver.Driver, error) {
	host, port := rawHost(row)
	if host == "" {
		return nil, fmt.Errorf("httpdriver(thinq): missing host")
	}
	username, _ := row["username"].(string)
	if username == "" {
		return nil, fmt.Errorf("httpdriver(thinq): missing username")
	}
	token, _ := row["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("httpdriver(thinq): missing token")
	}

	return &ThinQDriver{
		base:     base{common: common, kind: driver.KindThinQ},
		host:     host,
		port:     port,
		username: username,
		token:    token,
	}, nil
}

func (d *ThinQDriver) requestURL(payload string) string {
	return fmt.Sprintf("https://%s/lrn/extended/%s?format=json", hostPort(d.host, d.port), url.PathEscape(payload))
}

func (d *ThinQDriver) StartResolve(ctx context.Context, reqID uint32, payload []byte, engine *asyncio.Engine) (driver.Result, bool, error) {
	engine.Submit(ctx, asyncio.HTTPRequest{
		RequestID: reqID,
		Method:    "GET",
		URL:       d.requestURL(string(payload)),
		AuthUser:  d.username,
		AuthPass:  d.token,
		VerifySSL: false,
		Timeout:   d.timeout(),
		Headers:   []string{"Content-Type: application/json"},
	})
	return driver.Result{}, false, nil
}

// Parse extracts "lrn" from the JSON reply; its absence is an error per
// spec.md §4.7.1, grounded on HttpThinqDriver.cpp::resolve.
func (d *ThinQDriver) Parse(body []byte, _ []byte) (driver.Result, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, err)
	}
	lrn, ok := stringField(obj, "lrn")
	if !ok {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(thinq): reply has no 'lrn' field"))
	}
	return driver.Result{LocalRoutingNumber: lrn, RawData: string(body)}, nil
}
