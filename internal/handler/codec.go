package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// requestError is a malformed request body.
type requestError struct {
	field string
	err   error
}

func (e *requestError) Error() string {
	if e.field == "" {
		return "invalid request body: " + e.err.Error()
	}
	return "invalid " + e.field + ": " + e.err.Error()
}

func (e *requestError) Unwrap() error { return e.err }

func badField(field string, err error) error {
	return &requestError{field: field, err: err}
}

// decodeBody walks the top-level JSON object of r's body, calling fn per key.
// Errors returned by fn are kept as is, everything else is a requestError.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	err := d.Obj(fn)
	if err == nil {
		return nil
	}
	var re *requestError
	if errors.As(err, &re) {
		return re
	}
	return &requestError{err: err}
}

func str(d *jx.Decoder, field string, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return badField(field, err)
	}
	*dst = s
	return nil
}

func integer(d *jx.Decoder, field string, dst *int) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Int()
	if err != nil {
		return badField(field, err)
	}
	*dst = v
	return nil
}

// money accepts a JSON number or a numeric string, never a float round trip.
func money(d *jx.Decoder, field string, dst *decimal.Decimal) error {
	var raw string
	switch d.Next() {
	case jx.Null:
		return d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return badField(field, err)
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return badField(field, err)
		}
		raw = s
	default:
		return badField(field, errors.New("must be a number"))
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return badField(field, errors.New("must be a number"))
	}
	*dst = v
	return nil
}

func nullMoney(d *jx.Decoder, field string, dst *decimal.NullDecimal) error {
	if d.Next() == jx.Null {
		*dst = decimal.NullDecimal{}
		return d.Null()
	}
	var v decimal.Decimal
	if err := money(d, field, &v); err != nil {
		return err
	}
	*dst = decimal.NewNullDecimal(v)
	return nil
}

func timestamp(d *jx.Decoder, field string, dst *time.Time) error {
	var s string
	if err := str(d, field, &s); err != nil || s == "" {
		return err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return badField(field, errors.New("must be an RFC 3339 timestamp"))
	}
	*dst = t
	return nil
}

func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func encMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.StringFixed(2)))
}

func encTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// field helpers keep the encoders below flat.

func fStr(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func fOptStr(e *jx.Encoder, name, v string) {
	if v != "" {
		fStr(e, name, v)
	}
}

func fMoney(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { encMoney(e, v) })
}

func fInt(e *jx.Encoder, name string, v int) {
	e.Field(name, func(e *jx.Encoder) { e.Int(v) })
}

func fBool(e *jx.Encoder, name string, v bool) {
	e.Field(name, func(e *jx.Encoder) { e.Bool(v) })
}

func fTime(e *jx.Encoder, name string, t *time.Time) {
	if t != nil {
		e.Field(name, func(e *jx.Encoder) { encTime(e, *t) })
	}
}
