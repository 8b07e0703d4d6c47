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
	driver.Register(driver.KindBulkVS, newBulkVS)
}

// BulkVSDriver resolves numbers against the BulkVS LRN lookup API —
// spec.md §4.7.4.
type BulkVSDriver struct {
	base
	url         string
	token       string
	verifyHTTPS bool
}

func newBulkVS(common driver.CommonConfig, _ driver.Shape, row driver.RawRow) (driver.Driver, error) {
	base_, _ := row["url"].(string)
	if base_ == "" {
		return nil, fmt.Errorf("httpdriver(bulkvs): missing url")
	}
	token, _ := row["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("httpdriver(bulkvs): missing token")
	}
	verify := toBool(row["verify_ssl"])

	return &BulkVSDriver{
		base:        base{common: common, kind: driver.KindBulkVS},
		url:         base_,
		token:       token,
		verifyHTTPS: verify,
	}, nil
}

func (d *BulkVSDriver) requestURL(payload string) string {
	return fmt.Sprintf("%s/?id=%s&did=%s&format=json", d.url, url.QueryEscape(d.token), url.QueryEscape(payload))
}

func (d *BulkVSDriver) StartResolve(ctx context.Context, reqID uint32, payload []byte, engine *asyncio.Engine) (driver.Result, bool, error) {
	engine.Submit(ctx, asyncio.HTTPRequest{
		RequestID: reqID,
		Method:    "GET",
		URL:       d.requestURL(string(payload)),
		VerifySSL: d.verifyHTTPS,
		Timeout:   d.timeout(),
		Headers:   []string{"Content-Type: application/json"},
	})
	return driver.Result{}, false, nil
}

// Parse extracts "name" from the JSON reply, grounded on
// HttpBulkvsDriver.cpp::parse.
func (d *BulkVSDriver) Parse(body []byte, _ []byte) (driver.Result, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, err)
	}
	name, ok := stringField(obj, "name")
	if !ok {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(bulkvs): reply has no 'name' field"))
	}
	return driver.Result{LocalRoutingNumber: name, RawData: string(body)}, nil
}
