// Package epay implements the checksum used by the EPay merchant protocol.
package epay

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	SignTypeMD5 = "MD5"

	FieldSign     = "sign"
	FieldSignType = "sign_type"
)

// Sign returns the lowercase hex MD5 of the sorted, non-empty params
// (sign and sign_type excluded) joined as k=v&k=v with key appended.
// Values are not URL encoded.
func Sign(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == FieldSign || k == FieldSignType || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(key)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func Verify(params map[string]string, key string) bool {
	got := params[FieldSign]
	if got == "" {
		return false
	}
	return strings.EqualFold(got, Sign(params, key))
}

// Values flattens a parsed form keeping the first value of every field.
func Values(form url.Values) map[string]string {
	m := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			m[k] = vs[0]
		} else {
			m[k] = ""
		}
	}
	return m
}

// Form converts params to url.Values for delivery.
func Form(params map[string]string) url.Values {
	v := make(url.Values, len(params))
	for k, p := range params {
		v.Set(k, p)
	}
	return v
}
