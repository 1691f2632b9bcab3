package sink

import (
	"fmt"
	"strconv"
	"strings"
)

// ConcurrencyKind tags the variant a Concurrency value holds: unset
// (inherit from a default or fall back to a fixed budget), adaptive
// (delegate to the AdaptiveConcurrencyController), or a fixed cap.
type ConcurrencyKind int

const (
	ConcurrencyUnset ConcurrencyKind = iota
	ConcurrencyAdaptive
	ConcurrencyFixed
)

func (k ConcurrencyKind) String() string {
	switch k {
	case ConcurrencyAdaptive:
		return "adaptive"
	case ConcurrencyFixed:
		return "fixed"
	default:
		return "unset"
	}
}

// Concurrency is the concurrency configuration knob: unset, adaptive,
// or a fixed positive budget.
type Concurrency struct {
	Kind  ConcurrencyKind
	Fixed uint
}

// UnsetConcurrency is the default, unconfigured Concurrency value.
var UnsetConcurrency = Concurrency{Kind: ConcurrencyUnset}

// AdaptiveConcurrency requests the adaptive controller.
var AdaptiveConcurrency = Concurrency{Kind: ConcurrencyAdaptive}

// FixedConcurrency requests a static budget of n in-flight requests.
func FixedConcurrency(n uint) Concurrency {
	return Concurrency{Kind: ConcurrencyFixed, Fixed: n}
}

// IsUnset reports whether no concurrency has been configured.
func (c Concurrency) IsUnset() bool {
	return c.Kind == ConcurrencyUnset
}

// ConfigValue renders c in the form ParseConcurrencyValue accepts:
// "adaptive", a positive integer, or the empty string for unset.
func (c Concurrency) ConfigValue() string {
	switch c.Kind {
	case ConcurrencyAdaptive:
		return "adaptive"
	case ConcurrencyFixed:
		return strconv.FormatUint(uint64(c.Fixed), 10)
	default:
		return ""
	}
}

// ifUnset returns other when c itself carries no configuration,
// otherwise c.
func (c Concurrency) ifUnset(other Concurrency) Concurrency {
	if c.IsUnset() {
		return other
	}
	return c
}

// DefaultFixedConcurrency is the hardcoded fallback budget when
// neither a sink nor its default config configure concurrency at all.
const DefaultFixedConcurrency = 1024

// ResolveLimit resolves self against a default Concurrency the same
// way RequestConfig fields resolve (self, then default, then the
// hardcoded default) and returns the fixed in-flight limit to enforce,
// or nil to mean adaptive.
func (c Concurrency) ResolveLimit(def Concurrency) *uint {
	resolved := c.ifUnset(def)
	switch resolved.Kind {
	case ConcurrencyAdaptive:
		return nil
	case ConcurrencyFixed:
		v := resolved.Fixed
		return &v
	default:
		v := uint(DefaultFixedConcurrency)
		return &v
	}
}

// ParseConcurrencyValue parses a raw configuration value into a
// Concurrency, accepting a positive integer or the literal string
// "adaptive". An empty string or nil parses to UnsetConcurrency so
// that omitted keys resolve through the default chain instead of
// erroring.
func ParseConcurrencyValue(raw any) (Concurrency, error) {
	switch v := raw.(type) {
	case nil:
		return UnsetConcurrency, nil
	case string:
		return parseConcurrencyString(v)
	case int:
		return concurrencyFromInt(int64(v))
	case int64:
		return concurrencyFromInt(v)
	case uint:
		return concurrencyFromInt(int64(v))
	case uint64:
		if v > 1<<62 {
			return Concurrency{}, fmt.Errorf("concurrency value %d out of range", v)
		}
		return concurrencyFromInt(int64(v))
	default:
		return Concurrency{}, fmt.Errorf("concurrency: unsupported value type %T", raw)
	}
}

func parseConcurrencyString(v string) (Concurrency, error) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return UnsetConcurrency, nil
	}
	if trimmed == "adaptive" {
		return AdaptiveConcurrency, nil
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return Concurrency{}, fmt.Errorf(`concurrency must be a positive integer or "adaptive", got %q`, v)
	}
	return concurrencyFromInt(n)
}

func concurrencyFromInt(n int64) (Concurrency, error) {
	if n <= 0 {
		return Concurrency{}, fmt.Errorf("concurrency must be a positive integer, got %d", n)
	}
	return FixedConcurrency(uint(n)), nil
}

// ConcurrencyWarner receives the once-per-sink warning emitted when
// both the canonical and legacy deprecated keys are configured.
type ConcurrencyWarner func(message string)

// ResolveConcurrencyAlias implements the legacy `in_flight_limit`
// alias: when only one of concurrency/inFlightLimit is set, it wins
// outright; when both are set, the canonical `concurrency` key wins
// and warn is invoked once with a deprecation notice.
func ResolveConcurrencyAlias(concurrency, inFlightLimit Concurrency, warn ConcurrencyWarner) Concurrency {
	switch {
	case inFlightLimit.IsUnset():
		return concurrency
	case concurrency.IsUnset():
		return inFlightLimit
	default:
		if warn != nil {
			warn(`option "in_flight_limit" has been renamed to "concurrency"; ignoring "in_flight_limit" and using "concurrency"`)
		}
		return concurrency
	}
}
