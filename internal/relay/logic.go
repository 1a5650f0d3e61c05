package relay

import (
	"fmt"

	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
)

// Logic is the per-domain behaviour plugged into an Engine.
type Logic interface {
	Domain() schema.RelayDomain
	Endpoint() string
	ShouldForward(h frame.Header) bool
}

// DomainLogic forwards exactly the messages whose header names its domain.
type DomainLogic struct {
	domain   schema.RelayDomain
	endpoint string
}

// NewDomainLogic uses the domain's default socket path when endpoint is empty.
func NewDomainLogic(domain schema.RelayDomain, endpoint string) DomainLogic {
	if endpoint == "" {
		endpoint = domain.DefaultEndpoint()
	}
	return DomainLogic{domain: domain, endpoint: endpoint}
}

func (l DomainLogic) Domain() schema.RelayDomain { return l.domain }

func (l DomainLogic) Endpoint() string { return l.endpoint }

func (l DomainLogic) ShouldForward(h frame.Header) bool {
	return h.Domain == l.domain
}

func MarketDataLogic(endpoint string) Logic {
	return NewDomainLogic(schema.DomainMarketData, endpoint)
}

func SignalLogic(endpoint string) Logic {
	return NewDomainLogic(schema.DomainSignal, endpoint)
}

func ExecutionLogic(endpoint string) Logic {
	return NewDomainLogic(schema.DomainExecution, endpoint)
}

func SystemLogic(endpoint string) Logic {
	return NewDomainLogic(schema.DomainSystem, endpoint)
}

// LogicFor picks the built-in logic for domain.
func LogicFor(domain schema.RelayDomain, endpoint string) (Logic, error) {
	switch domain {
	case schema.DomainMarketData:
		return MarketDataLogic(endpoint), nil
	case schema.DomainSignal:
		return SignalLogic(endpoint), nil
	case schema.DomainExecution:
		return ExecutionLogic(endpoint), nil
	case schema.DomainSystem:
		return SystemLogic(endpoint), nil
	default:
		return nil, fmt.Errorf("%w: no logic for domain %d", ErrInvalidConfig, uint8(domain))
	}
}
