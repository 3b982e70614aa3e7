package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DecodePayload reads a JSON document keeping numbers as json.Number.
func DecodePayload(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Normalize maps a decoded ticker payload onto a Quote using the field map.
// Missing bid/ask and crossed books are rejected; optional fields that are
// absent or unparsable are left nil.
func Normalize(source, instrument string, payload any, fields FieldMap, at time.Time) (Quote, error) {
	if fields.Error != "" {
		if v, ok := lookupPath(payload, fields.Error); ok && !isEmpty(v) {
			return Quote{}, fmt.Errorf("%w: %s %s: %v", ErrSourceRejected, source, instrument, v)
		}
	}

	bid, err := requiredNumber(payload, fields.Bid)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s %s bid: %v", ErrMalformedQuote, source, instrument, err)
	}
	ask, err := requiredNumber(payload, fields.Ask)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s %s ask: %v", ErrMalformedQuote, source, instrument, err)
	}

	quote := Quote{
		Source:             source,
		Instrument:         instrument,
		Bid:                bid.InexactFloat64(),
		Ask:                ask.InexactFloat64(),
		Timestamp:          at,
		BidVolume:          optionalNumber(payload, fields.BidVolume),
		AskVolume:          optionalNumber(payload, fields.AskVolume),
		LastPrice:          optionalNumber(payload, fields.Last),
		DailyChange:        optionalNumber(payload, fields.Change),
		DailyChangePercent: optionalNumber(payload, fields.ChangePercent),
	}

	if err := quote.Validate(); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

func requiredNumber(payload any, path string) (decimal.Decimal, error) {
	v, ok := lookupPath(payload, path)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("missing %q", path)
	}
	return toDecimal(v)
}

func optionalNumber(payload any, path string) *float64 {
	if path == "" {
		return nil
	}
	v, ok := lookupPath(payload, path)
	if !ok {
		return nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return nil
	}
	return floatPtr(d.InexactFloat64())
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case json.Number:
		return decimal.NewFromString(val.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(val))
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case nil:
		return decimal.Decimal{}, fmt.Errorf("null value")
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported value type %T", v)
	}
}

func lookupPath(payload any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	current := payload
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			if segment == "*" {
				if len(node) == 0 {
					return nil, false
				}
				keys := make([]string, 0, len(node))
				for k := range node {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				current = node[keys[0]]
				continue
			}
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, current != nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
