package ali

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sort"
	"strings"

	"hapshi-bot/internal/probe"
)

const (
	SignMD5        = "md5"
	SignHMACSHA256 = "sha256"
)

// Params is the scalar parameter set of one API call.
type Params map[string]any

// Sign computes the gateway signature over params. Keys with nil or empty
// values and the "sign" key itself are excluded; the remaining keys are
// sorted so map iteration order never affects the result.
//
// md5:    MD5(secret + k1v1k2v2... + secret)
// sha256: HMAC-SHA256(key=secret, k1v1k2v2...)
func Sign(params Params, secret, method string) string {
	keys := make([]string, 0, len(params))
	values := make(map[string]string, len(params))
	for key, val := range params {
		if key == "sign" {
			continue
		}
		str := canonical(val)
		if str == "" {
			continue
		}
		keys = append(keys, key)
		values[key] = str
	}
	sort.Strings(keys)

	var base strings.Builder
	for _, key := range keys {
		base.WriteString(key)
		base.WriteString(values[key])
	}

	var h hash.Hash
	switch method {
	case SignHMACSHA256:
		h = hmac.New(sha256.New, []byte(secret))
		h.Write([]byte(base.String()))
	default:
		h = md5.New()
		h.Write([]byte(secret))
		h.Write([]byte(base.String()))
		h.Write([]byte(secret))
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func canonical(val any) string {
	if s, ok := val.(string); ok {
		return s
	}
	return probe.String(val)
}
