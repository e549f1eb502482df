package incidents

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ReportForm is the signed part of a report.
type ReportForm struct {
	SuspiciousAddress string      `json:"suspiciousAddress" validate:"required"`
	Details           string      `json:"details" validate:"required"`
	Reporter          string      `json:"reporter" validate:"required"`
	Timestamp         json.Number `json:"timestamp" validate:"required"`
}

// CanonicalText is the exact text a wallet signs for a report: the form
// serialized like the dashboard's JSON.stringify, keys in declaration order,
// no whitespace and the timestamp digits as sent.
func (f ReportForm) CanonicalText() string {
	var b strings.Builder
	b.WriteString(`{"suspiciousAddress":`)
	writeJSString(&b, f.SuspiciousAddress)
	b.WriteString(`,"details":`)
	writeJSString(&b, f.Details)
	b.WriteString(`,"reporter":`)
	writeJSString(&b, f.Reporter)
	b.WriteString(`,"timestamp":`)
	b.WriteString(f.Timestamp.String())
	b.WriteByte('}')
	return b.String()
}

// TimestampMillis parses the client timestamp as epoch milliseconds. It must
// be positive and fit in an int64; fractions are truncated.
func (f ReportForm) TimestampMillis() (int64, error) {
	if f.Timestamp == "" {
		return 0, fmt.Errorf("%w: timestamp", ErrMissingFields)
	}
	if ms, err := f.Timestamp.Int64(); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("%w: timestamp must be positive", ErrMissingFields)
		}
		return ms, nil
	}
	fl, err := strconv.ParseFloat(f.Timestamp.String(), 64)
	if err != nil || math.IsNaN(fl) || fl < 1 || fl >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: timestamp must be a positive epoch millisecond value", ErrMissingFields)
	}
	return int64(fl), nil
}

// VerifyText is the text a watcher signs to verify an incident.
func VerifyText(incidentID string) string {
	return "I verify incident #" + incidentID
}

const hexDigits = "0123456789abcdef"

// writeJSString quotes s the way ECMAScript JSON.stringify does, which differs
// from encoding/json in HTML and line-separator escaping.
func writeJSString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				b.WriteString(`\"`)
			case '\\':
				b.WriteString(`\\`)
			case '\b':
				b.WriteString(`\b`)
			case '\f':
				b.WriteString(`\f`)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				if c < 0x20 {
					b.WriteString(`\u00`)
					b.WriteByte(hexDigits[c>>4])
					b.WriteByte(hexDigits[c&0xf])
				} else {
					b.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteString("\uFFFD")
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
}
