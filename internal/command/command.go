// Package command builds the JSON bodies posted to the collector.
//
// The envelope is assembled by hand so that every string field goes through
// EscapeJSON. Attribute values are passed through or marshaled with go-json.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Command names understood by the collector.
const (
	CustomersCommand = "crm/customers"
	EventsCommand    = "crm/events"
)

// Identifier kinds.
const (
	Registered = "registered"
	Cookie     = "cookie"
)

// ErrInvalidAttributes is returned when attributes are not a JSON value.
var ErrInvalidAttributes = errors.New("invalid attributes")

// ErrInvalidTimestamp is returned for NaN or infinite event timestamps.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ID selects the customer a command applies to.
type ID struct {
	Kind  string
	Value string
}

// RegisteredID keys a command on a registered customer id.
func RegisteredID(id string) ID { return ID{Kind: Registered, Value: id} }

// CookieID keys a command on the anonymous cookie.
func CookieID(cookie string) ID { return ID{Kind: Cookie, Value: cookie} }

// EscapeJSON makes s safe to embed between double quotes. Quotes,
// backslashes and the control characters U+0000 to U+001F become \u%04x
// sequences; everything else is copied unchanged.
func EscapeJSON(s string) string {
	idx := strings.IndexFunc(s, needsEscape)
	if idx < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	b.WriteString(s[:idx])
	for i := idx; i < len(s); i++ {
		c := s[i]
		if needsEscape(rune(c)) {
			fmt.Fprintf(&b, `\u%04x`, c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(r rune) bool {
	return r == '"' || r == '\\' || (r >= 0 && r <= 0x1f)
}

// Identify builds the customer merge sent when an anonymous visitor becomes
// a registered customer. Both ids are sent so the collector can join them.
func Identify(token, customerID, cookie string) []byte {
	var b bytes.Buffer
	open(&b, CustomersCommand)
	b.WriteString(`"ids":{`)
	writeString(&b, Registered, customerID)
	b.WriteByte(',')
	writeString(&b, Cookie, cookie)
	b.WriteString(`},`)
	writeString(&b, "project_id", token)
	closeEnvelope(&b)
	return b.Bytes()
}

// Customer builds an attribute update for id.
func Customer(token string, id ID, attributes any) ([]byte, error) {
	props, err := Properties(attributes)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	open(&b, CustomersCommand)
	writeIDs(&b, "ids", id)
	writeString(&b, "project_id", token)
	writeProperties(&b, props)
	closeEnvelope(&b)
	return b.Bytes(), nil
}

// Event builds an event for id. timestamp is in Unix seconds and is sent with
// millisecond precision.
func Event(token string, id ID, name string, attributes any, timestamp float64) ([]byte, error) {
	if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, timestamp)
	}
	props, err := Properties(attributes)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	open(&b, EventsCommand)
	writeIDs(&b, "customer_ids", id)
	writeString(&b, "project_id", token)
	b.WriteByte(',')
	writeString(&b, "type", name)
	b.WriteString(`,"timestamp":`)
	b.WriteString(strconv.FormatFloat(timestamp, 'f', 3, 64))
	writeProperties(&b, props)
	closeEnvelope(&b)
	return b.Bytes(), nil
}

// Properties renders attributes as a JSON value. A nil result means the
// properties field is omitted. Strings, byte slices and json.RawMessage are
// taken to be JSON text already and must be valid.
func Properties(attributes any) ([]byte, error) {
	var raw []byte
	switch v := attributes.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		out, err := gojson.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAttributes, err)
		}
		return out, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if !gojson.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidAttributes)
	}
	return raw, nil
}

func open(b *bytes.Buffer, name string) {
	b.WriteString(`{"commands":[{`)
	writeString(b, "name", name)
	b.WriteString(`,"data":{`)
}

func closeEnvelope(b *bytes.Buffer) {
	b.WriteString(`}}]}`)
}

func writeIDs(b *bytes.Buffer, key string, id ID) {
	b.WriteByte('"')
	b.WriteString(key)
	b.WriteString(`":{`)
	writeString(b, id.Kind, id.Value)
	b.WriteString(`},`)
}

func writeString(b *bytes.Buffer, key, value string) {
	b.WriteByte('"')
	b.WriteString(EscapeJSON(key))
	b.WriteString(`":"`)
	b.WriteString(EscapeJSON(value))
	b.WriteByte('"')
}

func writeProperties(b *bytes.Buffer, props []byte) {
	if props == nil {
		return
	}
	b.WriteString(`,"properties":`)
	b.Write(props)
}
