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
	driver.Register(driver.KindAlcazar, newAlcazar)
}

// AlcazarDriver resolves numbers against the Alcazar Networks LRN API —
// spec.md §4.7.2.
type AlcazarDriver struct {
	base
	host string
	port int
	key  string
}

func newAlcazar(common driver.CommonConfig, _ driver.Shape, row driver.RawRow) (driver.Driver, error) {
	host, port := rawHost(row)
	if host == "" {
		return nil, fmt.Errorf("httpdriver(alcazar): missing host")
	}
	key, _ := row["key"].(string)
	if key == "" {
		key, _ = row["o_alkazar_key"].(string)
	}
	if key == "" {
		return nil, fmt.Errorf("httpdriver(alcazar): missing key")
	}

	return &AlcazarDriver{
		base: base{common: common, kind: driver.KindAlcazar},
		host: host,
		port: port,
		key:  key,
	}, nil
}

func (d *AlcazarDriver) requestURL(payload string) string {
	return fmt.Sprintf("http://%s/api/2.2/lrn?extended=true&output=json&key=%s&tn=%s",
		hostPort(d.host, d.port), url.QueryEscape(d.key), url.QueryEscape(payload))
}

func (d *AlcazarDriver) StartResolve(ctx context.Context, reqID uint32, payload []byte, engine *asyncio.Engine) (driver.Result, bool, error) {
	engine.Submit(ctx, asyncio.HTTPRequest{
		RequestID: reqID,
		Method:    "GET",
		URL:       d.requestURL(string(payload)),
		VerifySSL: false,
		Timeout:   d.timeout(),
		Headers:   []string{"Content-Type: application/json"},
	})
	return driver.Result{}, false, nil
}

// Parse extracts "LRN" from the JSON reply, grounded on
// HttpAlcazarDriver.cpp::resolve.
func (d *AlcazarDriver) Parse(body []byte, _ []byte) (driver.Result, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, err)
	}
	lrn, ok := stringField(obj, "LRN")
	if !ok {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(alcazar): reply has no 'LRN' field"))
	}
	return driver.Result{LocalRoutingNumber: lrn, RawData: string(body)}, nil
}
