package schema

import "fmt"

// TLVType is a payload record type number (1..254).
type TLVType uint8

// ExtendedMarker is the first byte of an extended-form TLV; it is never a type.
const ExtendedMarker uint8 = 255

// Market data, 1..19.
const (
	TypeTrade          TLVType = 1
	TypeQuote          TLVType = 2
	TypeOrderBook      TLVType = 3
	TypeInstrumentMeta TLVType = 4
	TypeL2Snapshot     TLVType = 5
	TypeL2Delta        TLVType = 6
	TypeL2Reset        TLVType = 7
	TypePriceUpdate    TLVType = 8
	TypeVolumeUpdate   TLVType = 9
	TypePoolLiquidity  TLVType = 10
	TypePoolSwap       TLVType = 11
	TypePoolMint       TLVType = 12
	TypePoolBurn       TLVType = 13
	TypePoolTick       TLVType = 14
	TypePoolState      TLVType = 15
	TypePoolSync       TLVType = 16
	TypeQuoteUpdate    TLVType = 17
	TypeGasPrice       TLVType = 18
)

// Signals, 20..39.
const (
	TypeSignalIdentity     TLVType = 20
	TypeAssetCorrelation   TLVType = 21
	TypeEconomics          TLVType = 22
	TypeExecutionAddresses TLVType = 23
	TypeVenueMetadata      TLVType = 24
	TypeStateReference     TLVType = 25
	TypeExecutionControl   TLVType = 26
	TypePoolAddresses      TLVType = 27
	TypeMEVBundle          TLVType = 28
	TypeTertiaryVenue      TLVType = 29
	TypeRiskParameters     TLVType = 30
	TypePerformanceMetrics TLVType = 31
	TypeArbitrageSignal    TLVType = 32
	TypeSignalTopic        TLVType = 39
)

// Execution, 40..79.
const (
	TypeOrderRequest         TLVType = 40
	TypeOrderStatus          TLVType = 41
	TypeFill                 TLVType = 42
	TypeOrderCancel          TLVType = 43
	TypeOrderModify          TLVType = 44
	TypeExecutionReport      TLVType = 45
	TypePortfolio            TLVType = 46
	TypePosition             TLVType = 47
	TypeBalance              TLVType = 48
	TypeTradeConfirmation    TLVType = 49
	TypeRiskDecision         TLVType = 60
	TypePositionUpdate       TLVType = 61
	TypeRiskAlert            TLVType = 62
	TypeCircuitBreaker       TLVType = 63
	TypeStrategyRegistration TLVType = 64
)

// System, 100..119.
const (
	TypeHeartbeat            TLVType = 100
	TypeSnapshot             TLVType = 101
	TypeError                TLVType = 102
	TypeConfigUpdate         TLVType = 103
	TypeServiceDiscovery     TLVType = 104
	TypeMetricsReport        TLVType = 105
	TypeStateInvalidation    TLVType = 106
	TypeSystemHealth         TLVType = 107
	TypeTraceContext         TLVType = 108
	TypeRecoveryRequest      TLVType = 110
	TypeRecoveryResponse     TLVType = 111
	TypeSequenceSync         TLVType = 112
	TypeConsumerRegistration TLVType = 113
)

type typeInfo struct {
	name  string
	fixed int
}

var registry = map[TLVType]typeInfo{
	TypeTrade:          {name: "trade", fixed: 24},
	TypeQuote:          {name: "quote"},
	TypeOrderBook:      {name: "order_book"},
	TypeInstrumentMeta: {name: "instrument_meta"},
	TypeL2Snapshot:     {name: "l2_snapshot"},
	TypeL2Delta:        {name: "l2_delta"},
	TypeL2Reset:        {name: "l2_reset"},
	TypePriceUpdate:    {name: "price_update"},
	TypeVolumeUpdate:   {name: "volume_update"},
	TypePoolLiquidity:  {name: "pool_liquidity"},
	TypePoolSwap:       {name: "pool_swap"},
	TypePoolMint:       {name: "pool_mint"},
	TypePoolBurn:       {name: "pool_burn"},
	TypePoolTick:       {name: "pool_tick"},
	TypePoolState:      {name: "pool_state"},
	TypePoolSync:       {name: "pool_sync"},
	TypeQuoteUpdate:    {name: "quote_update"},
	TypeGasPrice:       {name: "gas_price"},

	TypeSignalIdentity:     {name: "signal_identity"},
	TypeAssetCorrelation:   {name: "asset_correlation"},
	TypeEconomics:          {name: "economics"},
	TypeExecutionAddresses: {name: "execution_addresses"},
	TypeVenueMetadata:      {name: "venue_metadata"},
	TypeStateReference:     {name: "state_reference"},
	TypeExecutionControl:   {name: "execution_control"},
	TypePoolAddresses:      {name: "pool_addresses"},
	TypeMEVBundle:          {name: "mev_bundle"},
	TypeTertiaryVenue:      {name: "tertiary_venue"},
	TypeRiskParameters:     {name: "risk_parameters"},
	TypePerformanceMetrics: {name: "performance_metrics"},
	TypeArbitrageSignal:    {name: "arbitrage_signal"},
	TypeSignalTopic:        {name: "signal_topic"},

	TypeOrderRequest:         {name: "order_request"},
	TypeOrderStatus:          {name: "order_status"},
	TypeFill:                 {name: "fill"},
	TypeOrderCancel:          {name: "order_cancel"},
	TypeOrderModify:          {name: "order_modify"},
	TypeExecutionReport:      {name: "execution_report"},
	TypePortfolio:            {name: "portfolio"},
	TypePosition:             {name: "position"},
	TypeBalance:              {name: "balance"},
	TypeTradeConfirmation:    {name: "trade_confirmation"},
	TypeRiskDecision:         {name: "risk_decision"},
	TypePositionUpdate:       {name: "position_update"},
	TypeRiskAlert:            {name: "risk_alert"},
	TypeCircuitBreaker:       {name: "circuit_breaker"},
	TypeStrategyRegistration: {name: "strategy_registration"},

	TypeHeartbeat:            {name: "heartbeat", fixed: 16},
	TypeSnapshot:             {name: "snapshot"},
	TypeError:                {name: "error"},
	TypeConfigUpdate:         {name: "config_update"},
	TypeServiceDiscovery:     {name: "service_discovery"},
	TypeMetricsReport:        {name: "metrics_report"},
	TypeStateInvalidation:    {name: "state_invalidation"},
	TypeSystemHealth:         {name: "system_health"},
	TypeTraceContext:         {name: "trace_context"},
	TypeRecoveryRequest:      {name: "recovery_request"},
	TypeRecoveryResponse:     {name: "recovery_response"},
	TypeSequenceSync:         {name: "sequence_sync"},
	TypeConsumerRegistration: {name: "consumer_registration"},
}

// Domain returns the domain whose range contains t.
func (t TLVType) Domain() (RelayDomain, bool) {
	return DomainForType(uint8(t))
}

// Registered reports whether t has a name in the registry. Types inside a
// domain range but without a registry entry are reserved.
func (t TLVType) Registered() bool {
	_, ok := registry[t]
	return ok
}

// FixedSize returns the exact value length required for t, if it has one.
func (t TLVType) FixedSize() (int, bool) {
	info, ok := registry[t]
	if !ok || info.fixed == 0 {
		return 0, false
	}
	return info.fixed, true
}

func (t TLVType) String() string {
	if info, ok := registry[t]; ok {
		return info.name
	}
	return fmt.Sprintf("tlv(%d)", uint8(t))
}
