package httpdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

func init() {
	driver.Register(driver.KindCoureAnq, newCoureAnq)
}

// operatorsMap resolves an upstream operator name to a local tag value,
// falling back to a mandatory "default" entry for unrecognized operators —
// grounded on HttpCoureAnqDriver.cpp's OperatorsMap_t, which throws at
// construction if the "default" key is missing.
type operatorsMap struct {
	values map[string]string
	dflt   string
}

func newOperatorsMap(raw map[string]any) (operatorsMap, error) {
	dflt, ok := raw["default"]
	if !ok {
		return operatorsMap{}, fmt.Errorf("httpdriver(coure-anq): operators_map missing mandatory 'default' key")
	}

	m := operatorsMap{values: make(map[string]string, len(raw)), dflt: stringify(dflt)}
	for k, v := range raw {
		if k == "default" {
			continue
		}
		m.values[k] = stringify(v)
	}
	return m, nil
}

// operatorsMapField decodes the operators_map column. The control database
// stores it as a JSON TEXT column (operators_map TEXT in the lnp_databases
// schema), scanned back as a string; a map[string]any is also accepted so
// callers can build a RawRow directly without round-tripping through JSON.
func operatorsMapField(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err != nil {
			return nil, fmt.Errorf("operators_map is not valid JSON: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("missing operators_map")
	}
}

func (m operatorsMap) resolve(operator string) string {
	if v, ok := m.values[operator]; ok {
		return v
	}
	return m.dflt
}

// CoureAnqDriver resolves numbers against the Coure ANQ GsmPortStatus API —
// spec.md §4.7.3.
type CoureAnqDriver struct {
	base
	baseURL     string
	username    string
	password    string
	countryCode string
	operators   operatorsMap
}

func newCoureAnq(common driver.CommonConfig, _ driver.Shape, row driver.RawRow) (driver.Driver, error) {
	baseURL, _ := row["base_url"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("httpdriver(coure-anq): missing base_url")
	}
	username, _ := row["username"].(string)
	password, _ := row["password"].(string)
	countryCode, _ := row["country_code"].(string)
	if countryCode == "" {
		return nil, fmt.Errorf("httpdriver(coure-anq): missing country_code")
	}

	rawMap, err := operatorsMapField(row["operators_map"])
	if err != nil {
		return nil, fmt.Errorf("httpdriver(coure-anq): %w", err)
	}
	operators, err := newOperatorsMap(rawMap)
	if err != nil {
		return nil, err
	}

	return &CoureAnqDriver{
		base:        base{common: common, kind: driver.KindCoureAnq},
		baseURL:     baseURL,
		username:    username,
		password:    password,
		countryCode: countryCode,
		operators:   operators,
	}, nil
}

func (d *CoureAnqDriver) requestURL(payload string) string {
	return fmt.Sprintf(
		"%s/api/json/LookUpNumber/GsmPortStatus?username=%s&password=%s&ServiceType=4&country=%s&numbersToLookUp=%s",
		d.baseURL, url.QueryEscape(d.username), url.QueryEscape(d.password),
		url.QueryEscape(d.countryCode), url.QueryEscape(payload))
}

func (d *CoureAnqDriver) StartResolve(ctx context.Context, reqID uint32, payload []byte, engine *asyncio.Engine) (driver.Result, bool, error) {
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

// Parse interprets the "Result" array's single entry's IsPorted field:
// 1 means ported (LRN is "Number", tag is the mapped operator), 0 or 2
// means not ported/invalid (LRN falls back to the original payload, no
// error), any other value is a resolving error. Grounded on
// HttpCoureAnqDriver.cpp::parse.
func (d *CoureAnqDriver) Parse(body []byte, payload []byte) (driver.Result, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, err)
	}

	rawResults, ok := obj["Result"]
	if !ok {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(coure-anq): reply has no 'Result' field"))
	}
	results, ok := rawResults.([]any)
	if !ok || len(results) == 0 {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(coure-anq): 'Result' is empty or not an array"))
	}
	entry, ok := results[0].(map[string]any)
	if !ok {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(coure-anq): 'Result' entry is not an object"))
	}

	isPorted, ok := entry["IsPorted"].(float64)
	if !ok {
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(coure-anq): 'IsPorted' missing or not numeric"))
	}

	switch int(isPorted) {
	case 1:
		number, _ := stringField(entry, "Number")
		operator, _ := stringField(entry, "TheOperator")
		return driver.Result{
			LocalRoutingNumber: number,
			LocalRoutingTag:    d.operators.resolve(operator),
			RawData:            string(body),
		}, nil
	case 0, 2:
		return driver.Result{
			LocalRoutingNumber: string(payload),
			LocalRoutingTag:    "",
			RawData:            string(body),
		}, nil
	default:
		return driver.Result{}, wire.Wrap(wire.CodeDriverResolvingError, fmt.Errorf("httpdriver(coure-anq): unexpected IsPorted value %d", int(isPorted)))
	}
}
