package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/weavehq/weave/pkg/schema"
)

// signatureTolerance bounds how old a timestamped signature may be.
// Replays outside this window are rejected even with a valid MAC.
const signatureTolerance = 5 * time.Minute

func hmacSHA256(secret string, data []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}

// constantTimeEqual compares two MACs in constant time. On length
// mismatch it still performs an equal-cost comparison so the timing
// does not reveal which check failed.
func constantTimeEqual(got, want []byte) bool {
	if len(got) != len(want) {
		subtle.ConstantTimeCompare(want, want)
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// signedPayload builds the "{t}.{body}" string Stripe-style schemes
// sign, keeping the timestamp bound to the MAC.
func signedPayload(timestamp string, body []byte) []byte {
	buf := make([]byte, 0, len(timestamp)+1+len(body))
	buf = append(buf, timestamp...)
	buf = append(buf, '.')
	buf = append(buf, body...)
	return buf
}

// parseTimestampedHeader parses a "t=...,v1=..." signature header and
// returns the timestamp and all v1 signature values.
func parseTimestampedHeader(header string) (timestamp string, sigs []string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if timestamp == "" || len(sigs) == 0 {
		return "", nil, schema.NewError(schema.ErrCodeAuthentication, "malformed signature header")
	}
	return timestamp, sigs, nil
}

// checkFreshness rejects timestamps outside the tolerance window.
func checkFreshness(timestamp string, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return schema.NewError(schema.ErrCodeAuthentication, "invalid signature timestamp")
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return schema.NewError(schema.ErrCodeAuthentication, "signature timestamp outside tolerance")
	}
	return nil
}
