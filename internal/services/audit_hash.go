package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// isoMillis matches the ISO-8601 rendering used in hash commitments.
const isoMillis = "2006-01-02T15:04:05.000Z"

// HashInput is the set of fields an audit hash commits to.
type HashInput struct {
	PrevHash    *string
	ChainIndex  int64
	CommunityID *string
	UserID      *string
	EventType   string
	IP          *string
	UserAgent   *string
	Metadata    interface{}
	CreatedAt   time.Time
}

// ComputeAuditHash returns the hex sha256 of prevHash ("" for genesis)
// concatenated with the canonical encoding of the entry fields.
func ComputeAuditHash(in HashInput) string {
	eventData := CanonicalJSON(map[string]interface{}{
		"chainIndex":  in.ChainIndex,
		"communityId": in.CommunityID,
		"userId":      in.UserID,
		"eventType":   in.EventType,
		"ip":          in.IP,
		"userAgent":   in.UserAgent,
		"metadata":    in.Metadata,
		"createdAt":   FormatAuditTime(in.CreatedAt),
	})
	prev := ""
	if in.PrevHash != nil {
		prev = *in.PrevHash
	}
	sum := sha256.Sum256([]byte(prev + eventData))
	return hex.EncodeToString(sum[:])
}

// FormatAuditTime renders t as UTC ISO-8601 with millisecond precision.
func FormatAuditTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// CanonicalJSON encodes v with object keys sorted, arrays in order, nil and
// nil pointers as null and times as ISO-8601 strings. Values that are not
// plain JSON shapes are normalized through encoding/json first.
func CanonicalJSON(v interface{}) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(quote(t))
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(t.String())
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		fmt.Fprintf(b, "%d", t)
	case float32, float64:
		raw, err := json.Marshal(t)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(raw)
	case time.Time:
		b.WriteString(quote(FormatAuditTime(t)))
	case *time.Time:
		if t == nil {
			b.WriteString("null")
			return
		}
		b.WriteString(quote(FormatAuditTime(*t)))
	case *string:
		if t == nil {
			b.WriteString("null")
			return
		}
		b.WriteString(quote(*t))
	case json.RawMessage:
		writeCanonical(b, decodeJSONValue(t))
	case []interface{}:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(k))
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			b.WriteString("null")
			return
		}
		raw, err := json.Marshal(v)
		if err != nil {
			b.WriteString(quote(fmt.Sprint(v)))
			return
		}
		writeCanonical(b, decodeJSONValue(raw))
	}
}

// quote renders s as a JSON string without HTML escaping.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// decodeJSONValue parses raw JSON keeping numbers as their literal text.
func decodeJSONValue(raw []byte) interface{} {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

// encodeMetadata serializes metadata for storage. The returned value is the
// decoded form of the stored text, which is what the hash commits to, so a
// later verify over the stored row reproduces the same digest.
func encodeMetadata(metadata interface{}) (*string, interface{}, error) {
	if metadata == nil {
		return nil, nil, nil
	}
	if rv := reflect.ValueOf(metadata); (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Map) && rv.IsNil() {
		return nil, nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, nil, err
	}
	if string(raw) == "null" {
		return nil, nil, nil
	}
	text := string(raw)
	return &text, decodeJSONValue(raw), nil
}

// decodeStoredMetadata returns the hashable form of a stored metadata column.
func decodeStoredMetadata(stored *string) interface{} {
	if stored == nil {
		return nil
	}
	return decodeJSONValue([]byte(*stored))
}
