// Package london translates the London spot reference feed's wire frames.
//
// Same envelope family as the domestic feed (JSON {cmd_id, seq_id, trace,
// data}), but K-line payloads are object-shaped rather than tuple arrays,
// and acks report a string status.
package london

import (
	"encoding/json"
	"fmt"
	"time"

	"silvermon/internal/feed/push"
	"silvermon/internal/model"
	"silvermon/internal/provider"
)

// Provider cmd codes. Opaque enum values mirroring the provider contract.
const (
	CmdSubscribeTick  = 22002
	CmdSubscribeKline = 22004
	CmdSubAck         = 22003
	CmdPushTick       = 22998
	CmdPushKline      = 22999
	CmdPushDepth      = 23000
)

type envelope struct {
	CmdID int             `json:"cmd_id"`
	SeqID int64           `json:"seq_id"`
	Trace string          `json:"trace"`
	Data  json.RawMessage `json:"data"`
}

type subRequest struct {
	CmdID int       `json:"cmd_id"`
	SeqID int64     `json:"seq_id"`
	Trace string    `json:"trace"`
	Data  subParams `json:"data"`
}

type subParams struct {
	Code      string `json:"code"`
	KlineKind string `json:"kline_kind,omitempty"`
}

type ackData struct {
	Status string `json:"status"` // "ok" on success
	Reason string `json:"reason,omitempty"`
}

type wireBar struct {
	TS       int64           `json:"ts"`
	Open     provider.Number `json:"open"`
	Close    provider.Number `json:"close"`
	High     provider.Number `json:"high"`
	Low      provider.Number `json:"low"`
	Volume   provider.Number `json:"volume"`
	Turnover provider.Number `json:"turnover"`
}

type tickData struct {
	Code  string          `json:"code"`
	Price provider.Number `json:"price"`
	TS    int64           `json:"ts"`
}

type depthData struct {
	Bids []struct {
		Price  provider.Number `json:"price"`
		Volume provider.Number `json:"volume"`
	} `json:"bids"`
	Asks []struct {
		Price  provider.Number `json:"price"`
		Volume provider.Number `json:"volume"`
	} `json:"asks"`
}

// Codec implements push.Codec for the London channel.
type Codec struct {
	// KlineKind is the subscribed interval, e.g. "1m".
	KlineKind string
}

// SubscribeFrames builds the trade-tick and K-line subscription requests.
func (c Codec) SubscribeFrames(symbol string, ids push.SubscriptionIDs) ([]push.Frame, error) {
	kind := c.KlineKind
	if kind == "" {
		kind = "1m"
	}
	reqs := []subRequest{
		{CmdID: CmdSubscribeTick, SeqID: ids.NextSeq(), Trace: ids.Trace(), Data: subParams{Code: symbol}},
		{CmdID: CmdSubscribeKline, SeqID: ids.NextSeq(), Trace: ids.Trace(), Data: subParams{Code: symbol, KlineKind: kind}},
	}
	frames := make([]push.Frame, 0, len(reqs))
	for _, r := range reqs {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("london: marshal subscribe: %w", err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// Decode translates one incoming frame into the client's event vocabulary.
func (c Codec) Decode(frame []byte) (push.Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return push.Message{}, fmt.Errorf("london: envelope: %w", err)
	}

	switch env.CmdID {
	case CmdSubAck:
		var ack ackData
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			return push.Message{}, fmt.Errorf("london: ack payload: %w", err)
		}
		return push.Message{Kind: push.MsgSubAck, Cmd: env.CmdID, OK: ack.Status == "ok", Status: ack.Reason}, nil

	case CmdPushKline:
		var rows []wireBar
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return push.Message{}, fmt.Errorf("london: kline payload: %w", err)
		}
		if len(rows) == 0 {
			return push.Message{Kind: push.MsgIgnored, Cmd: env.CmdID}, nil
		}
		bars := make(model.Series, len(rows))
		for i, r := range rows {
			bars[i] = model.Bar{
				TS:       r.TS,
				Open:     r.Open.Float(),
				Close:    r.Close.Float(),
				High:     r.High.Float(),
				Low:      r.Low.Float(),
				Volume:   r.Volume.Float(),
				Turnover: r.Turnover.Float(),
			}
		}
		if len(bars) > 1 {
			return push.Message{Kind: push.MsgInitialBars, Cmd: env.CmdID, Bars: bars}, nil
		}
		return push.Message{Kind: push.MsgBarUpdate, Cmd: env.CmdID, Bar: bars[0]}, nil

	case CmdPushTick:
		var td tickData
		if err := json.Unmarshal(env.Data, &td); err != nil {
			return push.Message{}, fmt.Errorf("london: tick payload: %w", err)
		}
		return push.Message{Kind: push.MsgTick, Cmd: env.CmdID, Tick: model.Tick{
			Market: model.MarketLondon,
			Symbol: td.Code,
			Price:  td.Price.Float(),
			TS:     time.Unix(0, td.TS*int64(time.Millisecond)).UTC(),
		}}, nil

	case CmdPushDepth:
		var dd depthData
		if err := json.Unmarshal(env.Data, &dd); err != nil {
			return push.Message{}, fmt.Errorf("london: depth payload: %w", err)
		}
		d := model.Depth{Market: model.MarketLondon, TS: time.Now().UTC()}
		for _, b := range dd.Bids {
			d.Bids = append(d.Bids, model.DepthLevel{Price: b.Price.Float(), Volume: b.Volume.Float()})
		}
		for _, a := range dd.Asks {
			d.Asks = append(d.Asks, model.DepthLevel{Price: a.Price.Float(), Volume: a.Volume.Float()})
		}
		return push.Message{Kind: push.MsgDepth, Cmd: env.CmdID, Depth: d}, nil

	default:
		return push.Message{Kind: push.MsgUnknown, Cmd: env.CmdID}, nil
	}
}
