// Package events delivers order domain events to external collaborators.
package events

import (
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/order"
)

// Envelope is the wire form of an order.Event.
type Envelope struct {
	ID         string
	Type       order.EventType
	OccurredAt time.Time
	OrderID    string
	MerchantID string
	CustomerID string
	Payload    map[string]any
}

// Wrap assigns a fresh event ID to e.
func Wrap(e order.Event) Envelope {
	return Envelope{
		ID:         ulid.Make().String(),
		Type:       e.Type,
		OccurredAt: e.OccurredAt,
		OrderID:    e.OrderID,
		MerchantID: e.MerchantID,
		CustomerID: e.CustomerID,
		Payload:    e.Payload,
	}
}

// Encode renders the envelope as JSON. Payload keys are written in sorted
// order so equal envelopes produce equal bytes.
func (env Envelope) Encode() ([]byte, error) {
	var (
		e      jx.Encoder
		encErr error
	)
	e.Obj(func(e *jx.Encoder) {
		e.Field("eventId", func(e *jx.Encoder) { e.Str(env.ID) })
		e.Field("eventType", func(e *jx.Encoder) { e.Str(string(env.Type)) })
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(env.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(env.OrderID) })
		e.Field("merchantId", func(e *jx.Encoder) { e.Str(env.MerchantID) })
		if env.CustomerID != "" {
			e.Field("customerId", func(e *jx.Encoder) { e.Str(env.CustomerID) })
		}
		e.Field("payload", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, k := range slices.Sorted(maps.Keys(env.Payload)) {
					e.FieldStart(k)
					if err := encodeValue(e, env.Payload[k]); err != nil && encErr == nil {
						encErr = errors.Wrapf(err, "payload field %q", k)
					}
				}
			})
		})
	})
	if encErr != nil {
		return nil, encErr
	}
	return e.Bytes(), nil
}

func encodeValue(e *jx.Encoder, v any) error {
	switch v := v.(type) {
	case nil:
		e.Null()
	case string:
		e.Str(v)
	case bool:
		e.Bool(v)
	case int:
		e.Int(v)
	case int64:
		e.Int64(v)
	case decimal.Decimal:
		e.Raw([]byte(v.StringFixed(2)))
	case time.Time:
		e.Str(v.UTC().Format(time.RFC3339Nano))
	default:
		e.Null()
		return errors.Errorf("unsupported type %T", v)
	}
	return nil
}

// Decode parses an envelope produced by Encode. Payload numbers are returned
// as decimal.Decimal.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "eventId":
			return decodeStr(d, &env.ID)
		case "eventType":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			env.Type = order.EventType(s)
		case "occurredAt":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return errors.Wrap(err, "occurredAt")
			}
			env.OccurredAt = t
		case "orderId":
			return decodeStr(d, &env.OrderID)
		case "merchantId":
			return decodeStr(d, &env.MerchantID)
		case "customerId":
			return decodeStr(d, &env.CustomerID)
		case "payload":
			env.Payload = make(map[string]any)
			return d.Obj(func(d *jx.Decoder, key string) error {
				v, err := decodeValue(d)
				if err != nil {
					return errors.Wrapf(err, "payload field %q", key)
				}
				env.Payload[key] = v
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

func decodeStr(d *jx.Decoder, dst *string) error {
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func decodeValue(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Bool:
		return d.Bool()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		return decimal.NewFromString(n.String())
	case jx.Null:
		return nil, d.Null()
	default:
		return nil, errors.Errorf("unexpected %s", d.Next())
	}
}
