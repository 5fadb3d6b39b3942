package amazons3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// sign.go implements AWS Signature Version 4 from the public algorithm
// (canonical request, string-to-sign, derived signing key) directly
// against crypto/hmac and crypto/sha256, independent of the
// aws-sdk-go-v2 signer used for presigned URLs in amazons3.go. It exists
// because every regular request in this package goes through
// httpengine.Request, which only exposes header/query setters and no way
// to hand a fully-built *http.Request to the SDK's signer.Signer.
//
// Every request signs via the query-string form (X-Amz-Algorithm,
// X-Amz-Credential, X-Amz-Date, X-Amz-Expires, X-Amz-SignedHeaders=host,
// X-Amz-Signature), matching the original implementation's
// authorizeRequest: the payload hash is always the literal
// "UNSIGNED-PAYLOAD" placeholder and "host" is the only signed header,
// regardless of method or body.
//
// canonical_test.go checks this implementation's canonical-request text
// against the literal GET Object example published in AWS's Signature
// Version 4 documentation; the string-to-sign, derived key and signed
// query are checked for shape only.

const (
	algorithm   = "AWS4-HMAC-SHA256"
	awsRequest  = "aws4_request"
	iso8601Long = "20060102T150405Z"
	iso8601Date = "20060102"
)

// parseAMZDate parses the X-Amz-Date long form ("20060102T150405Z").
func parseAMZDate(s string) (time.Time, error) {
	return time.Parse(iso8601Long, s)
}

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)

	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)

	return mac.Sum(nil)
}

// uriEncode percent-encodes s per RFC 3986 the way SigV4 requires:
// unreserved characters pass through unescaped, '/' is preserved only
// when encodeSlash is false (used for canonical URI paths, never for
// query keys/values).
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder

	for _, c := range []byte(s) {
		if isUnreserved(c) || (c == '/' && !encodeSlash) {
			b.WriteByte(c)

			continue
		}

		fmt.Fprintf(&b, "%%%02X", c)
	}

	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// canonicalQueryString sorts by key then value and uriEncodes both, per
// the SigV4 spec's canonical query string construction.
func canonicalQueryString(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(q))
	for _, k := range keys {
		values := append([]string(nil), q[k]...)
		sort.Strings(values)

		for _, v := range values {
			parts = append(parts, uriEncode(k, true)+"="+uriEncode(v, true))
		}
	}

	return strings.Join(parts, "&")
}

// canonicalHeaders renders the lower-cased, sorted, trimmed
// "name:value\n" block plus the matching semicolon-joined signed-header
// list, exactly as AWS's documented canonical request examples show it.
func canonicalHeaders(headers map[string]string) (block string, signedHeaders string) {
	names := make([]string, 0, len(headers))
	lower := make(map[string]string, len(headers))

	for k, v := range headers {
		l := strings.ToLower(k)
		lower[l] = strings.TrimSpace(v)
		names = append(names, l)
	}

	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(lower[n])
		b.WriteByte('\n')
	}

	return b.String(), strings.Join(names, ";")
}

// canonicalRequest builds the six-part canonical request text described
// in AWS's "Create a canonical request" documentation.
func canonicalRequest(method, canonicalURI string, query url.Values, headers map[string]string, payloadHash string) (text, signedHeaders string) {
	headerBlock, signed := canonicalHeaders(headers)

	text = strings.Join([]string{
		method,
		canonicalURI,
		canonicalQueryString(query),
		headerBlock,
		signed,
		payloadHash,
	}, "\n")

	return text, signed
}

// credentialScope is "date/region/service/aws4_request".
func credentialScope(date time.Time, region, service string) string {
	return fmt.Sprintf("%s/%s/%s/%s", date.UTC().Format(iso8601Date), region, service, awsRequest)
}

// stringToSign builds the three-line (plus hash) text HMAC-signed by the
// derived signing key.
func stringToSign(amzDate string, scope string, canonicalReq string) string {
	hash := sha256Hex([]byte(canonicalReq))

	return strings.Join([]string{algorithm, amzDate, scope, hash}, "\n")
}

// derivedSigningKey walks the four-step HMAC chain: date -> region ->
// service -> aws4_request, each keyed by the previous step's output.
func derivedSigningKey(secret string, date time.Time, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date.UTC().Format(iso8601Date)))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))

	return hmacSHA256(kService, []byte(awsRequest))
}

// unsignedPayload is the literal SigV4 payload-hash placeholder the
// original implementation always signs with, instead of a real SHA-256
// digest of the request body.
const unsignedPayload = "UNSIGNED-PAYLOAD"

// signedQueryString runs the full SigV4 query-string-signing recipe and
// returns query with the X-Amz-* authentication parameters (including the
// final X-Amz-Signature) added, per authorizeRequest in the original
// implementation. The only signed header is "host"; the payload hash is
// always unsignedPayload.
func signedQueryString(method, canonicalURI string, query url.Values, host string, accessKeyID, secretAccessKey, region, service string, now time.Time, expirySeconds int) url.Values {
	amzDate := now.UTC().Format(iso8601Long)
	scope := credentialScope(now, region, service)

	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}

	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", accessKeyID+"/"+scope)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", strconv.Itoa(expirySeconds))
	q.Set("X-Amz-SignedHeaders", "host")

	req, _ := canonicalRequest(method, canonicalURI, q, map[string]string{"host": host}, unsignedPayload)
	sts := stringToSign(amzDate, scope, req)
	key := derivedSigningKey(secretAccessKey, now, region, service)
	sig := hex.EncodeToString(hmacSHA256(key, []byte(sts)))

	q.Set("X-Amz-Signature", sig)

	return q
}
