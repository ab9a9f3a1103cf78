package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Process-wide: see AMOUNTS in the package doc.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// ParseMoney parses a user-entered amount such as "15" or "12.50".
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Normalize converts any JSON-encodable value into the generic tree form
// backends keep in memory: map[string]any, json.Number, string, bool.
// Empty maps and nil children are dropped. A value that normalizes to
// nothing returns nil.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return Compact(out), nil
}

// Compact removes nil values and empty maps. Arrays become index-keyed
// maps, matching how the hosted database stores them.
func Compact(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range t {
			c := Compact(child)
			if c == nil {
				delete(t, k)
				continue
			}
			t[k] = c
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		m := make(map[string]any, len(t))
		for i, child := range t {
			m[fmt.Sprint(i)] = child
		}
		return Compact(m)
	default:
		return v
	}
}

// Decode copies a normalized tree value into dest.
func Decode(node any, dest any) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
