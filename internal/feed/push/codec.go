// Package push implements the persistent duplex market-data channel: one
// generic client driving connection lifecycle, subscription reissue,
// heartbeat-as-resubscription, bounded reconnection and downstream
// rate-limiting, with provider-specific wire translation behind the Codec
// interface.
package push

import (
	"silvermon/internal/model"
)

// MsgKind classifies a decoded provider frame.
type MsgKind int

const (
	// MsgUnknown: unrecognized cmd code. Logged and dropped, never fatal.
	MsgUnknown MsgKind = iota
	// MsgSubAck acknowledges a subscription request.
	MsgSubAck
	// MsgInitialBars is the channel's initial K-line snapshot.
	MsgInitialBars
	// MsgBarUpdate mutates the current (open) bar.
	MsgBarUpdate
	// MsgTick is a last-trade price push.
	MsgTick
	// MsgDepth is an order-book push.
	MsgDepth
	// MsgIgnored is a valid frame the core deliberately discards.
	MsgIgnored
)

// Message is the provider-neutral decoding of one wire frame.
type Message struct {
	Kind MsgKind
	Cmd  int // provider cmd code, for logging

	// MsgSubAck
	OK     bool
	Status string

	// Payloads
	Bars  model.Series // MsgInitialBars
	Bar   model.Bar    // MsgBarUpdate
	Tick  model.Tick   // MsgTick
	Depth model.Depth  // MsgDepth
}

// Frame is one outgoing wire message.
type Frame []byte

// SubscriptionIDs supplies the per-request correlation values: a
// monotonically increasing sequence id and a unique trace token.
type SubscriptionIDs struct {
	NextSeq func() int64
	Trace   func() string
}

// Codec translates between provider wire frames and the client's event
// vocabulary. Implementations live under internal/provider.
type Codec interface {
	// SubscribeFrames builds the full set of subscription requests for the
	// symbol, one distinct frame per data kind (trade-tick, K-line),
	// using fresh seq/trace values per frame.
	SubscribeFrames(symbol string, ids SubscriptionIDs) ([]Frame, error)

	// Decode translates one incoming frame. Unknown cmd codes must return
	// a Message with Kind == MsgUnknown rather than an error; errors are
	// reserved for frames that fail to parse at all.
	Decode(frame []byte) (Message, error)
}

// Handler receives the channel's events. Bar updates may arrive from the
// coalescer's flush timer; everything else comes from the read goroutine.
// No method fires after Close.
type Handler interface {
	OnInitialBars(m model.Market, bars model.Series)
	OnBarUpdate(m model.Market, bar model.Bar)
	OnTick(m model.Market, tick model.Tick)
	OnDepth(m model.Market, depth model.Depth)
	OnStateChange(m model.Market, s model.ConnectionState)
}
