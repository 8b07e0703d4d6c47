// Package driver defines the uniform upstream-provider contract (identify,
// describe, start-resolve, parse-response) and the atomically-reloadable
// registry that maps a wire db_id to a live Driver instance.
package driver

import (
	"context"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

// Kind identifies one of the closed set of provider implementations.
type Kind string

const (
	KindSIP      Kind = "sip"
	KindThinQ    Kind = "http-thinq"
	KindAlcazar  Kind = "http-alcazar"
	KindCoureAnq Kind = "http-coureanq"
	KindCNAM     Kind = "http-cnam"
	KindBulkVS   Kind = "http-bulkvs"
	KindCSV      Kind = "csv"
)

// Result is what a driver produces for a resolved request. Tagged drivers
// populate LocalRoutingNumber and LocalRoutingTag; cnam drivers populate
// only RawData, a JSON string.
type Result struct {
	LocalRoutingNumber string
	LocalRoutingTag    string
	RawData            string
}

// Driver is the narrow trait every provider implementation satisfies.
// StartResolve returns done=true when the result (or error) is already
// final; otherwise it has submitted an HTTPRequest through engine and the
// dispatcher must await a matching asyncio.Completion and call Parse.
type Driver interface {
	ID() int32
	Label() string
	Kind() Kind
	DeclaredType() wire.RequestType

	StartResolve(ctx context.Context, reqID uint32, payload []byte, engine *asyncio.Engine) (result Result, done bool, err error)
	Parse(body []byte, payload []byte) (Result, error)

	Close() error
}

// CommonConfig holds the fields shared by every driver kind.
type CommonConfig struct {
	UniqueID int32
	Label    string
	Timeout  int // milliseconds; default 4000 per spec.md §4.5
}

// DefaultTimeoutMillis is applied when a row carries no timeout value.
const DefaultTimeoutMillis = 4000
