// Package schema is the registry of relay domains, source services and TLV
// type numbers.
package schema

import (
	"fmt"
	"strings"
)

// RelayDomain partitions traffic; each domain owns a disjoint TLV type range
// and is served by its own relay endpoint.
type RelayDomain uint8

const (
	DomainMarketData RelayDomain = 1
	DomainSignal     RelayDomain = 2
	DomainExecution  RelayDomain = 3
	DomainSystem     RelayDomain = 4
)

// DefaultSocketDir is where relay sockets live unless configured otherwise.
const DefaultSocketDir = "/tmp/edgerelay"

type domainInfo struct {
	name     string
	lo, hi   uint8
	endpoint string
}

var domains = map[RelayDomain]domainInfo{
	DomainMarketData: {name: "market_data", lo: 1, hi: 19, endpoint: "market_data.sock"},
	DomainSignal:     {name: "signal", lo: 20, hi: 39, endpoint: "signals.sock"},
	DomainExecution:  {name: "execution", lo: 40, hi: 79, endpoint: "execution.sock"},
	DomainSystem:     {name: "system", lo: 100, hi: 119, endpoint: "system.sock"},
}

// Domains lists every known domain in wire order.
func Domains() []RelayDomain {
	return []RelayDomain{DomainMarketData, DomainSignal, DomainExecution, DomainSystem}
}

func (d RelayDomain) Valid() bool {
	_, ok := domains[d]
	return ok
}

func (d RelayDomain) String() string {
	if info, ok := domains[d]; ok {
		return info.name
	}
	return fmt.Sprintf("domain(%d)", uint8(d))
}

// TypeRange returns the inclusive TLV type range owned by d.
func (d RelayDomain) TypeRange() (lo, hi uint8, ok bool) {
	info, ok := domains[d]
	if !ok {
		return 0, 0, false
	}
	return info.lo, info.hi, true
}

// DefaultEndpoint returns the default socket path for d.
func (d RelayDomain) DefaultEndpoint() string {
	info, ok := domains[d]
	if !ok {
		return ""
	}
	return DefaultSocketDir + "/" + info.endpoint
}

// ParseDomain accepts the domain name ("market_data", "signal", ...) or a few
// common aliases.
func ParseDomain(raw string) (RelayDomain, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "market_data", "marketdata", "market-data", "market":
		return DomainMarketData, nil
	case "signal", "signals":
		return DomainSignal, nil
	case "execution", "exec":
		return DomainExecution, nil
	case "system", "sys":
		return DomainSystem, nil
	default:
		return 0, fmt.Errorf("schema: unknown relay domain %q", raw)
	}
}

// DomainForType maps a TLV type number to its owning domain.
func DomainForType(t uint8) (RelayDomain, bool) {
	for _, d := range Domains() {
		info := domains[d]
		if t >= info.lo && t <= info.hi {
			return d, true
		}
	}
	return 0, false
}

// SourceType identifies the producing service in the header.
type SourceType uint8

const (
	SourceBinanceCollector  SourceType = 1
	SourceKrakenCollector   SourceType = 2
	SourceCoinbaseCollector SourceType = 3
	SourcePolygonCollector  SourceType = 4
	SourceGeminiCollector   SourceType = 5

	SourceArbitrageStrategy    SourceType = 20
	SourceMarketMaker          SourceType = 21
	SourceTrendFollower        SourceType = 22
	SourceKrakenSignalStrategy SourceType = 23

	SourcePortfolioManager SourceType = 40
	SourceRiskManager      SourceType = 41
	SourceExecutionEngine  SourceType = 42

	SourceDashboard        SourceType = 60
	SourceMetricsCollector SourceType = 61
	SourceStateManager     SourceType = 62

	SourceMarketDataRelay SourceType = 80
	SourceSignalRelay     SourceType = 81
	SourceExecutionRelay  SourceType = 82
)

var sourceNames = map[SourceType]string{
	SourceBinanceCollector:     "binance_collector",
	SourceKrakenCollector:      "kraken_collector",
	SourceCoinbaseCollector:    "coinbase_collector",
	SourcePolygonCollector:     "polygon_collector",
	SourceGeminiCollector:      "gemini_collector",
	SourceArbitrageStrategy:    "arbitrage_strategy",
	SourceMarketMaker:          "market_maker",
	SourceTrendFollower:        "trend_follower",
	SourceKrakenSignalStrategy: "kraken_signal_strategy",
	SourcePortfolioManager:     "portfolio_manager",
	SourceRiskManager:          "risk_manager",
	SourceExecutionEngine:      "execution_engine",
	SourceDashboard:            "dashboard",
	SourceMetricsCollector:     "metrics_collector",
	SourceStateManager:         "state_manager",
	SourceMarketDataRelay:      "market_data_relay",
	SourceSignalRelay:          "signal_relay",
	SourceExecutionRelay:       "execution_relay",
}

func (s SourceType) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

func (s SourceType) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// ParseSource resolves a source by its snake_case name.
func ParseSource(raw string) (SourceType, error) {
	want := strings.ToLower(strings.TrimSpace(raw))
	for s, name := range sourceNames {
		if name == want {
			return s, nil
		}
	}
	return 0, fmt.Errorf("schema: unknown source %q", raw)
}
