// Package domestic translates the domestic futures feed's wire frames.
//
// Frames are JSON envelopes {cmd_id, seq_id, trace, data}. K-line payloads
// arrive as arrays of [ts, open, close, high, low, volume] tuples with
// string-encoded numbers; tick payloads carry a tick_list.
package domestic

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
	CmdSubscribeTick  = 8001
	CmdSubscribeKline = 8002
	CmdSubAck         = 8003
	CmdPushTick       = 8101
	CmdPushKline      = 8102
	CmdPushDepth      = 8103
)

type envelope struct {
	CmdID int             `json:"cmd_id"`
	SeqID int64           `json:"seq_id"`
	Trace string          `json:"trace"`
	Data  json.RawMessage `json:"data"`
}

type subRequest struct {
	CmdID int      `json:"cmd_id"`
	SeqID int64    `json:"seq_id"`
	Trace string   `json:"trace"`
	Data  subParam `json:"data"`
}

type subParam struct {
	Symbol   string `json:"symbol_id"`
	Interval string `json:"interval,omitempty"`
}

type ackData struct {
	Result int    `json:"result"`
	Msg    string `json:"msg"`
}

type tickData struct {
	TickList []struct {
		Code  string          `json:"code"`
		Price provider.Number `json:"price"`
		TS    provider.Number `json:"tick_time"`
	} `json:"tick_list"`
}

type depthData struct {
	Bids [][2]provider.Number `json:"bids"`
	Asks [][2]provider.Number `json:"asks"`
}

// Codec implements push.Codec for the domestic channel.
type Codec struct {
	// Interval is the subscribed K-line interval, e.g. "1m".
	Interval string
}

// SubscribeFrames builds the trade-tick and K-line subscription requests,
// each with a fresh seq id and trace token.
func (c Codec) SubscribeFrames(symbol string, ids push.SubscriptionIDs) ([]push.Frame, error) {
	interval := c.Interval
	if interval == "" {
		interval = "1m"
	}
	reqs := []subRequest{
		{CmdID: CmdSubscribeTick, SeqID: ids.NextSeq(), Trace: ids.Trace(), Data: subParam{Symbol: symbol}},
		{CmdID: CmdSubscribeKline, SeqID: ids.NextSeq(), Trace: ids.Trace(), Data: subParam{Symbol: symbol, Interval: interval}},
	}
	frames := make([]push.Frame, 0, len(reqs))
	for _, r := range reqs {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("domestic: marshal subscribe: %w", err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// Decode translates one incoming frame into the client's event vocabulary.
func (c Codec) Decode(frame []byte) (push.Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return push.Message{}, fmt.Errorf("domestic: envelope: %w", err)
	}

	switch env.CmdID {
	case CmdSubAck:
		var ack ackData
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			return push.Message{}, fmt.Errorf("domestic: ack payload: %w", err)
		}
		return push.Message{Kind: push.MsgSubAck, Cmd: env.CmdID, OK: ack.Result == 0, Status: ack.Msg}, nil

	case CmdPushKline:
		bars, err := decodeKlines(env.Data)
		if err != nil {
			return push.Message{}, err
		}
		if len(bars) == 0 {
			return push.Message{Kind: push.MsgIgnored, Cmd: env.CmdID}, nil
		}
		// A multi-bar payload is the channel's initial snapshot; a single
		// bar mutates the current open bar.
		if len(bars) > 1 {
			return push.Message{Kind: push.MsgInitialBars, Cmd: env.CmdID, Bars: bars}, nil
		}
		return push.Message{Kind: push.MsgBarUpdate, Cmd: env.CmdID, Bar: bars[0]}, nil

	case CmdPushTick:
		var td tickData
		if err := json.Unmarshal(env.Data, &td); err != nil {
			return push.Message{}, fmt.Errorf("domestic: tick payload: %w", err)
		}
		if len(td.TickList) == 0 {
			return push.Message{Kind: push.MsgIgnored, Cmd: env.CmdID}, nil
		}
		t := td.TickList[0]
		return push.Message{Kind: push.MsgTick, Cmd: env.CmdID, Tick: model.Tick{
			Market: model.MarketDomestic,
			Symbol: t.Code,
			Price:  t.Price.Float(),
			TS:     time.Unix(0, int64(t.TS.Float())*int64(time.Millisecond)).UTC(),
		}}, nil

	case CmdPushDepth:
		var dd depthData
		if err := json.Unmarshal(env.Data, &dd); err != nil {
			return push.Message{}, fmt.Errorf("domestic: depth payload: %w", err)
		}
		return push.Message{Kind: push.MsgDepth, Cmd: env.CmdID, Depth: model.Depth{
			Market: model.MarketDomestic,
			Bids:   levels(dd.Bids),
			Asks:   levels(dd.Asks),
			TS:     time.Now().UTC(),
		}}, nil

	default:
		return push.Message{Kind: push.MsgUnknown, Cmd: env.CmdID}, nil
	}
}

// decodeKlines parses the [ts, open, close, high, low, volume] tuple array.
func decodeKlines(data json.RawMessage) (model.Series, error) {
	var rows [][]provider.Number
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("domestic: kline payload: %w", err)
	}
	bars := make(model.Series, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("domestic: kline row %d: %d fields, want 6", i, len(row))
		}
		bars = append(bars, model.Bar{
			TS:     int64(row[0].Float()),
			Open:   row[1].Float(),
			Close:  row[2].Float(),
			High:   row[3].Float(),
			Low:    row[4].Float(),
			Volume: row[5].Float(),
		})
	}
	return bars, nil
}

func levels(rows [][2]provider.Number) []model.DepthLevel {
	out := make([]model.DepthLevel, len(rows))
	for i, r := range rows {
		out[i] = model.DepthLevel{Price: r[0].Float(), Volume: r[1].Float()}
	}
	return out
}
