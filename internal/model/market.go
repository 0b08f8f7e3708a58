package model

// Market identifies one of the two monitored silver markets.
type Market string

const (
	// MarketLondon is the 24h London spot silver reference feed.
	MarketLondon Market = "london"
	// MarketDomestic is the domestic silver futures feed with fixed
	// trading sessions.
	MarketDomestic Market = "domestic"
)

// Symbol returns the provider symbol for the market.
func (m Market) Symbol() string {
	switch m {
	case MarketLondon:
		return "XAGUSD"
	case MarketDomestic:
		return "AGFM"
	default:
		return string(m)
	}
}

// ConnectionState describes the lifecycle of one push channel.
type ConnectionState int32

const (
	ConnIdle ConnectionState = iota
	ConnConnecting
	ConnOpen
	ConnReconnecting
	ConnFailed // terminal: retry cap exhausted
)

func (s ConnectionState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}
