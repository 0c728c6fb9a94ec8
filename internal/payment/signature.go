package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrInvalidSignature is returned when a webhook signature header is missing,
// malformed, expired, or does not match the payload.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// signedPayloadSep joins the timestamp and the raw body before hashing, so a
// valid signature for one body cannot be replayed against another.
const signedPayloadSep = "."

// VerifySignature checks a processor signature header of the form
// "t=<unix>,v1=<hex hmac>[,v1=...]" against the raw payload. The expected
// MAC is HMAC-SHA256 over "<t>.<payload>" keyed with the endpoint secret.
// Comparison is constant-time; timestamps outside tolerance are rejected to
// bound replay windows.
func VerifySignature(payload []byte, header string, secret []byte, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrInvalidSignature
	}

	var (
		ts   int64
		macs [][]byte
	)
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			mac, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			macs = append(macs, mac)
		}
	}

	if ts == 0 || len(macs) == 0 {
		return ErrInvalidSignature
	}

	if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(signedPayloadSep))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range macs {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPayload produces a signature header for the given payload, timestamp,
// and secret. The processor side of the wire format; exported for tooling
// and tests.
func SignPayload(payload []byte, secret []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte(signedPayloadSep))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
