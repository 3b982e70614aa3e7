package fetcher

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const symbolPlaceholder = "{symbol}"

// FieldMap holds JSON paths into a ticker payload. Segments are separated by
// dots; a numeric segment indexes an array and "*" selects the first entry of
// an object in key order.
type FieldMap struct {
	Bid           string `mapstructure:"bid"`
	Ask           string `mapstructure:"ask"`
	BidVolume     string `mapstructure:"bid_volume"`
	AskVolume     string `mapstructure:"ask_volume"`
	Last          string `mapstructure:"last"`
	Change        string `mapstructure:"change"`
	ChangePercent string `mapstructure:"change_percent"`
	Error         string `mapstructure:"error"`
}

// Schema describes how to reach and read one source's ticker endpoint.
type Schema struct {
	Name       string            `mapstructure:"name"`
	BaseURL    string            `mapstructure:"base_url"`
	TickerPath string            `mapstructure:"ticker_path"`
	StatusPath string            `mapstructure:"status_path"`
	Symbols    map[string]string `mapstructure:"symbols"`
	Fields     FieldMap          `mapstructure:"fields"`
}

var builtinSchemas = map[string]Schema{
	"kraken": {
		Name:       "kraken",
		BaseURL:    "https://api.kraken.com",
		TickerPath: "/0/public/Ticker?pair={symbol}",
		StatusPath: "/0/public/SystemStatus",
		Symbols: map[string]string{
			"BTC/USD":  "XBTUSD",
			"ETH/USD":  "ETHUSD",
			"XRP/USD":  "XRPUSD",
			"LTC/USD":  "LTCUSD",
			"ADA/USD":  "ADAUSD",
			"DOT/USD":  "DOTUSD",
			"LINK/USD": "LINKUSD",
			"UNI/USD":  "UNIUSD",
		},
		Fields: FieldMap{
			Bid:       "result.*.b.0",
			Ask:       "result.*.a.0",
			BidVolume: "result.*.b.2",
			AskVolume: "result.*.a.2",
			Last:      "result.*.c.0",
			Error:     "error.0",
		},
	},
	"bitfinex": {
		Name:       "bitfinex",
		BaseURL:    "https://api-pub.bitfinex.com",
		TickerPath: "/v2/ticker/{symbol}",
		StatusPath: "/v2/platform/status",
		Symbols: map[string]string{
			"BTC/USD":  "tBTCUSD",
			"ETH/USD":  "tETHUSD",
			"XRP/USD":  "tXRPUSD",
			"LTC/USD":  "tLTCUSD",
			"ADA/USD":  "tADAUSD",
			"DOT/USD":  "tDOTUSD",
			"LINK/USD": "tLINK:USD",
			"UNI/USD":  "tUNIUSD",
		},
		Fields: FieldMap{
			Bid:       "0",
			BidVolume: "1",
			Ask:       "2",
			AskVolume: "3",
			Change:    "4",
			Last:      "6",
		},
	},
	"kucoin": {
		Name:       "kucoin",
		BaseURL:    "https://api.kucoin.com",
		TickerPath: "/api/v1/market/orderbook/level1?symbol={symbol}",
		StatusPath: "/api/v1/timestamp",
		Symbols: map[string]string{
			"BTC/USD":  "BTC-USDT",
			"ETH/USD":  "ETH-USDT",
			"XRP/USD":  "XRP-USDT",
			"LTC/USD":  "LTC-USDT",
			"ADA/USD":  "ADA-USDT",
			"DOT/USD":  "DOT-USDT",
			"LINK/USD": "LINK-USDT",
			"UNI/USD":  "UNI-USDT",
		},
		Fields: FieldMap{
			Bid:       "data.bestBid",
			Ask:       "data.bestAsk",
			BidVolume: "data.bestBidSize",
			AskVolume: "data.bestAskSize",
			Last:      "data.price",
			Error:     "msg",
		},
	},
}

// BuiltinSchema returns a copy of a bundled schema.
func BuiltinSchema(name string) (Schema, error) {
	schema, ok := builtinSchemas[strings.ToLower(name)]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	schema.Symbols = cloneSymbols(schema.Symbols)
	return schema, nil
}

// BuiltinSchemaNames lists the bundled schemas.
func BuiltinSchemaNames() []string {
	return []string{"bitfinex", "kraken", "kucoin"}
}

// ResolveSchema layers override on top of the named built-in schema. An empty
// base means override must be complete on its own.
func ResolveSchema(base string, override Schema) (Schema, error) {
	var schema Schema
	if base != "" {
		builtin, err := BuiltinSchema(base)
		if err != nil {
			return Schema{}, err
		}
		schema = builtin
	}

	if override.Name != "" {
		schema.Name = override.Name
	}
	if override.BaseURL != "" {
		schema.BaseURL = override.BaseURL
	}
	if override.TickerPath != "" {
		schema.TickerPath = override.TickerPath
	}
	if override.StatusPath != "" {
		schema.StatusPath = override.StatusPath
	}
	if len(override.Symbols) > 0 {
		if schema.Symbols == nil {
			schema.Symbols = make(map[string]string, len(override.Symbols))
		}
		for canonical, native := range override.Symbols {
			schema.Symbols[canonical] = native
		}
	}
	schema.Fields = mergeFields(schema.Fields, override.Fields)

	if err := schema.Validate(); err != nil {
		return Schema{}, err
	}
	return schema, nil
}

// Validate checks the schema is complete enough to produce quotes.
func (s Schema) Validate() error {
	var errs []error
	if s.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if u, err := url.Parse(s.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q is not an absolute url", s.BaseURL))
	}
	if !strings.Contains(s.TickerPath, symbolPlaceholder) {
		errs = append(errs, fmt.Errorf("ticker_path must contain %s", symbolPlaceholder))
	}
	if s.Fields.Bid == "" || s.Fields.Ask == "" {
		errs = append(errs, errors.New("fields.bid and fields.ask are required"))
	}
	for name, path := range s.Fields.paths() {
		if path == "" {
			continue
		}
		if err := validatePath(path); err != nil {
			errs = append(errs, fmt.Errorf("fields.%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("schema %q: %w", s.Name, errors.Join(errs...))
	}
	return nil
}

// NativeSymbol maps a canonical instrument to the source's symbol, falling back to the input.
func (s Schema) NativeSymbol(instrument string) string {
	if native, ok := s.Symbols[instrument]; ok {
		return native
	}
	return instrument
}

// TickerURL renders the ticker endpoint for an instrument.
func (s Schema) TickerURL(instrument string) string {
	path := strings.ReplaceAll(s.TickerPath, symbolPlaceholder, url.PathEscape(s.NativeSymbol(instrument)))
	return strings.TrimRight(s.BaseURL, "/") + path
}

// StatusURL renders the connectivity probe endpoint, or "" when none is configured.
func (s Schema) StatusURL() string {
	if s.StatusPath == "" {
		return ""
	}
	return strings.TrimRight(s.BaseURL, "/") + s.StatusPath
}

func (f FieldMap) paths() map[string]string {
	return map[string]string{
		"bid":            f.Bid,
		"ask":            f.Ask,
		"bid_volume":     f.BidVolume,
		"ask_volume":     f.AskVolume,
		"last":           f.Last,
		"change":         f.Change,
		"change_percent": f.ChangePercent,
		"error":          f.Error,
	}
}

func mergeFields(base, override FieldMap) FieldMap {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return FieldMap{
		Bid:           pick(base.Bid, override.Bid),
		Ask:           pick(base.Ask, override.Ask),
		BidVolume:     pick(base.BidVolume, override.BidVolume),
		AskVolume:     pick(base.AskVolume, override.AskVolume),
		Last:          pick(base.Last, override.Last),
		Change:        pick(base.Change, override.Change),
		ChangePercent: pick(base.ChangePercent, override.ChangePercent),
		Error:         pick(base.Error, override.Error),
	}
}

func validatePath(path string) error {
	for _, segment := range strings.Split(path, ".") {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return nil
}

func cloneSymbols(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
