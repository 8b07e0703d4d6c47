package httpdriver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

func init() {
	driver.Register(driver.KindCNAM, newCNAM)
}

// CNAMDriver answers caller-name lookups by substituting the request
// payload's JSON fields into a configured URL template and relaying the
// upstream body back wrapped in a "response" envelope — spec.md §4.7.5.
type CNAMDriver struct {
	base
	segments  []templateSegment
	verifySSL bool
}

func newCNAM(common driver.CommonConfig, _ driver.Shape, row driver.RawRow) (driver.Driver, error) {
	tmpl, _ := row["url"].(string)
	if tmpl == "" {
		return nil, fmt.Errorf("httpdriver(cnam): missing url template")
	}
	segments, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	verifySSL := toBool(row["verify_ssl"])

	return &CNAMDriver{
		base:      base{common: common, kind: driver.KindCNAM},
		segments:  segments,
		verifySSL: verifySSL,
	}, nil
}

func (d *CNAMDriver) StartResolve(ctx context.Context, reqID uint32, payload []byte, engine *asyncio.Engine) (driver.Result, bool, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return driver.Result{}, true, fmt.Errorf("httpdriver(cnam): payload is not a JSON object: %w", err)
	}

	reqURL, err := resolveTemplate(d.segments, fields)
	if err != nil {
		return driver.Result{}, true, err
	}

	engine.Submit(ctx, asyncio.HTTPRequest{
		RequestID: reqID,
		Method:    "GET",
		URL:       reqURL,
		VerifySSL: d.verifySSL,
		Timeout:   d.timeout(),
		Headers:   []string{"Content-Type: application/json"},
	})
	return driver.Result{}, false, nil
}

// Parse wraps the raw upstream body as {"response": <body>} and returns it
// as RawData, the cnam reply's caller-name payload.
func (d *CNAMDriver) Parse(body []byte, _ []byte) (driver.Result, error) {
	var upstream any
	if err := json.Unmarshal(body, &upstream); err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(cnam): reply is not valid JSON: %w", err))
	}

	wrapped, err := json.Marshal(map[string]any{"response": upstream})
	if err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, err)
	}
	return driver.Result{RawData: string(wrapped)}, nil
}
