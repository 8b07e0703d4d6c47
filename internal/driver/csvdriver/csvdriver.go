// Package csvdriver implements the CSV-backed LNP driver: a file of
// number,tag,lrn lines parsed once at construction into an in-memory map,
// with pure in-process lookups and no network I/O.
package csvdriver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

func init() {
	driver.Register(driver.KindCSV, New)
}

type row struct {
	tag string
	lrn string
}

// Driver is a csvdriver.Driver: a static number → {tag, lrn} map loaded
// once from a file path at construction time.
type Driver struct {
	common driver.CommonConfig
	rows   map[string]row
}

// New builds a Driver from the row's common configuration and its
// kind-specific "path" field, matching driver.ConstructorFunc.
func New(common driver.CommonConfig, _ driver.Shape, configRow driver.RawRow) (driver.Driver, error) {
	path, _ := configRow["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("csvdriver: missing path")
	}

	rows, err := loadFile(path)
	if err != nil {
		return nil, fmt.Errorf("csvdriver: %w", err)
	}

	return &Driver{common: common, rows: rows}, nil
}

// loadFile reads a CSV file line by line into a first-occurrence-wins map.
// Each non-empty line has three comma-separated fields (number, tag, lrn);
// either tag or lrn may be empty but not both, per spec.md §4.8 and the
// Open Questions resolution — grounded on zone.go's ParseText line-oriented
// parse pattern.
func loadFile(path string) (map[string]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows := make(map[string]row)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, ",", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		number := strings.TrimSpace(fields[0])
		tag := strings.TrimSpace(fields[1])
		lrn := strings.TrimSpace(fields[2])

		if number == "" {
			return nil, fmt.Errorf("line %d: empty number field", lineNo)
		}
		if tag == "" && lrn == "" {
			return nil, fmt.Errorf("line %d: tag and lrn cannot both be empty", lineNo)
		}

		if _, exists := rows[number]; exists {
			continue // first occurrence wins
		}
		rows[number] = row{tag: tag, lrn: lrn}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *Driver) ID() int32                      { return d.common.UniqueID }
func (d *Driver) Label() string                  { return d.common.Label }
func (d *Driver) Kind() driver.Kind              { return driver.KindCSV }
func (d *Driver) DeclaredType() wire.RequestType { return wire.TypeTagged }
func (d *Driver) Close() error                   { return nil }

// StartResolve always completes synchronously: a miss returns the original
// number as LRN with an empty tag, not an error, per spec.md §4.8.
func (d *Driver) StartResolve(_ context.Context, _ uint32, payload []byte, _ *asyncio.Engine) (driver.Result, bool, error) {
	number := string(payload)
	if r, ok := d.rows[number]; ok {
		return driver.Result{LocalRoutingNumber: r.lrn, LocalRoutingTag: r.tag, RawData: r.lrn}, true, nil
	}
	return driver.Result{LocalRoutingNumber: number, LocalRoutingTag: "", RawData: number}, true, nil
}

// Parse is never called for csvdriver: StartResolve is always done=true.
func (d *Driver) Parse(_ []byte, _ []byte) (driver.Result, error) {
	return driver.Result{}, fmt.Errorf("csvdriver: Parse called on a synchronous driver")
}
