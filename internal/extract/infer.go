package extract

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rewired-gh/roundwatch/internal/models"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// maxDecodedFrame bounds the decompressed size of a single frame.
const maxDecodedFrame = 16 << 20

var (
	zstdDecoder *zstd.Decoder
	cborDecoder cbor.DecMode
)

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedFrame),
	)
	if err != nil {
		panic("extract: zstd decoder initialization failed: " + err.Error())
	}

	cborDecoder, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("extract: cbor decoder initialization failed: " + err.Error())
	}
}

// rawKey holds the original payload when no strategy could decode it.
const rawKey = "raw"

// InferPayload decodes a raw text payload. Strategies run in order and each
// is attempted only if the previous one produced nothing: the whole payload
// as one JSON value; each non-blank line as JSON; each comma-separated part
// as JSON (skipped for array-looking payloads); finally the raw string
// wrapped as {"raw": payload}.
func InferPayload(payload string) []any {
	trimmed := strings.TrimSpace(payload)

	var whole any
	if err := json.Unmarshal([]byte(trimmed), &whole); err == nil {
		return []any{whole}
	}

	if out := parseParts(strings.Split(trimmed, "\n")); len(out) > 0 {
		return out
	}

	if strings.Contains(trimmed, ",") && !strings.HasPrefix(trimmed, "[") {
		if out := parseParts(strings.Split(trimmed, ",")); len(out) > 0 {
			return out
		}
	}

	return []any{map[string]any{rawKey: payload}}
}

func parseParts(parts []string) []any {
	var out []any
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(part), &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// InferFrame decodes a captured websocket frame. zstd-compressed frames are
// unwrapped first; binary frames are tried as CBOR; everything else goes
// through InferPayload.
func InferFrame(frame []byte) []any {
	if plain, ok := decompress(frame); ok {
		frame = plain
	}
	if !utf8.Valid(frame) {
		var v any
		if err := cborDecoder.Unmarshal(frame, &v); err == nil {
			return []any{v}
		}
	}
	return InferPayload(string(frame))
}

// decompress unwraps a zstd frame. Frames that fail to decode or would
// expand past maxDecodedFrame are left as they are.
func decompress(frame []byte) ([]byte, bool) {
	if !bytes.HasPrefix(frame, zstdMagic) {
		return nil, false
	}
	plain, err := zstdDecoder.DecodeAll(frame, nil)
	if err != nil {
		return nil, false
	}
	return plain, true
}

// ExtractFrame converts a frame to events. A record shaped as
// ["eventName", {...}] or {"event": name, "data": {...}} is classified by
// its name; other objects become console events and undecodable frames
// become a single unknown event.
func (x *Extractor) ExtractFrame(frame []byte, ts time.Time) []models.StructuredEvent {
	records := InferFrame(frame)
	events := make([]models.StructuredEvent, 0, len(records))
	for _, rec := range records {
		ev := frameEvent(rec)
		ev.Timestamp = ts
		if ev.Kind == models.KindUnknown && x.log != nil {
			x.log.Debug("unparsed frame: %s", ev.Raw)
		}
		events = append(events, ev)
	}
	return events
}

func frameEvent(rec any) models.StructuredEvent {
	switch v := rec.(type) {
	case []any:
		if len(v) > 0 {
			if name, ok := v[0].(string); ok {
				var payload map[string]any
				if len(v) > 1 {
					payload, _ = v[1].(map[string]any)
				}
				if payload == nil {
					payload = map[string]any{"data": v[1:]}
				}
				return models.StructuredEvent{Kind: kindForName(name), Payload: payload}
			}
		}
		return models.StructuredEvent{Kind: models.KindConsole, Payload: map[string]any{"data": v}}
	case map[string]any:
		if raw, ok := v[rawKey].(string); ok && len(v) == 1 {
			return models.StructuredEvent{Kind: models.KindUnknown, Raw: strings.TrimSpace(raw)}
		}
		name, _ := models.Lookup(v, "event", "type", "name").(string)
		payload := v
		if inner, ok := models.Lookup(v, "data", "payload").(map[string]any); ok {
			payload = inner
		}
		if name == "" {
			return models.StructuredEvent{Kind: models.KindConsole, Payload: payload}
		}
		return models.StructuredEvent{Kind: kindForName(name), Payload: payload}
	default:
		return models.StructuredEvent{Kind: models.KindConsole, Payload: map[string]any{"data": v}}
	}
}

func kindForName(name string) models.Kind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "sidebet"), strings.Contains(n, "side_bet"):
		return models.KindSideBet
	case strings.Contains(n, "trade"):
		return models.KindTrade
	case strings.Contains(n, "gamestate"), strings.Contains(n, "status"):
		return models.KindStatusUpdate
	case strings.Contains(n, "debug"):
		return models.KindDebugSignal
	default:
		return models.KindConsole
	}
}
