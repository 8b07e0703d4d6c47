package driver

import "fmt"

// RawRow is one row returned by load_lnp_databases(), treated as opaque
// named columns per spec.md §1 — the store layer decides how to populate
// it, the driver layer only interprets the keys it cares about.
type RawRow map[string]any

// ConstructorFunc builds a Driver from a row's common and kind-specific
// configuration. Implementations live in sibling packages (sipdriver,
// httpdriver, csvdriver) and register themselves in an init() function,
// avoiding an import cycle between this package and its driver kinds.
type ConstructorFunc func(common CommonConfig, shape Shape, row RawRow) (Driver, error)

var constructors = map[Kind]ConstructorFunc{}

// Register associates a Kind with the constructor that builds it. Driver
// kind packages call this from init().
func Register(kind Kind, fn ConstructorFunc) {
	constructors[kind] = fn
}

func build(kind Kind, common CommonConfig, shape Shape, row RawRow) (Driver, error) {
	fn, ok := constructors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !shapeSupports(shape, kind) {
		return nil, fmt.Errorf("%w: kind %q needs richer configuration than the detected shape provides", ErrDriverNull, kind)
	}
	effRow, err := normalizeRow(shape, row)
	if err != nil {
		return nil, fmt.Errorf("driver: normalize row for kind %q: %w", kind, err)
	}
	return fn(common, shape, effRow)
}

// kindFromRow resolves a row's driver kind, preferring the string
// database_type column and falling back to the legacy integer o_driver_id
// column (spec.md §6, "identifies the driver via the string database_type
// (preferred) or integer o_driver_id (legacy)").
func kindFromRow(row RawRow) (Kind, bool) {
	if v, ok := row["database_type"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return Kind(s), true
		}
	}
	if v, ok := row["o_driver_id"]; ok {
		if id, ok := asInt(v); ok {
			if k, ok := legacyDriverIDs[id]; ok {
				return k, true
			}
		}
	}
	return "", false
}

// legacyDriverIDs maps the legacy numeric o_driver_id column to a Kind.
// These ids are a deployment-specific legacy convention carried forward
// from the control database schema predating the database_type column;
// unrecognized ids fall through to ErrUnknownKind like any other kind.
var legacyDriverIDs = map[int]Kind{
	1: KindSIP,
	2: KindThinQ,
	3: KindAlcazar,
	4: KindCoureAnq,
	5: KindCNAM,
	6: KindBulkVS,
	7: KindCSV,
}

func asInt(v any) (int, bool) {
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

func asString(row RawRow, key string) (string, bool) {
	v, ok := row[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
