// Package httpdriver implements the HTTP-backed LNP drivers (thinq,
// alcazar, coure-anq, bulkvs) and the CNAM caller-name driver. Every
// variant submits one GET request through the shared asyncio.Engine and
// parses the reply body off the event-loop thread, per spec.md §4.7.
package httpdriver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

// base carries the fields and methods shared by every HTTP driver variant.
type base struct {
	common driver.CommonConfig
	kind   driver.Kind
}

func (b *base) ID() int32         { return b.common.UniqueID }
func (b *base) Label() string     { return b.common.Label }
func (b *base) Kind() driver.Kind { return b.kind }
func (b *base) Close() error      { return nil }

func (b *base) DeclaredType() wire.RequestType {
	if b.kind == driver.KindCNAM {
		return wire.TypeCNAM
	}
	return wire.TypeTagged
}

func (b *base) timeout() time.Duration {
	ms := b.common.Timeout
	if ms <= 0 {
		ms = driver.DefaultTimeoutMillis
	}
	return time.Duration(ms) * time.Millisecond
}

// decodeObject unmarshals body as a JSON object, the shape every HTTP
// driver's reply takes.
func decodeObject(body []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("httpdriver: reply is not valid JSON: %w", err)
	}
	return obj, nil
}

// stringField extracts key from obj as a string, accepting a string, number
// or boolean value and stringifying it. Strips a single pair of surrounding
// quote characters if present, matching the legacy cJSON_Print-derived
// behavior thinq/alcazar's source expects of "lrn"/"LRN".
func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s := stringify(v)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s, true
}

func stringify(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprint(n)
	}
}

func rawHost(row driver.RawRow) (string, int) {
	host, _ := row["host"].(string)
	port := 0
	if v, ok := row["port"]; ok {
		if p, ok := toInt(v); ok {
			port = p
		}
	}
	return host, port
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

// toBool normalizes a control-DB column value into a bool. SQLite/Postgres
// INTEGER columns such as verify_ssl scan as int64/float64, not bool, so a
// plain type assertion against the stored value always misses.
func toBool(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case int64:
		return n != 0
	case int:
		return n != 0
	case float64:
		return n != 0
	case string:
		b, _ := strconv.ParseBool(n)
		return b
	default:
		return false
	}
}

func hostPort(host string, port int) string {
	if port != 0 {
		return fmt.Sprintf("%s:%d", host, port)
	}
	return host
}
