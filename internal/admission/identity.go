package admission

import (
	"crypto/md5" //nolint:gosec // content hash only detects incidental duplication
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Digest truncation lengths, in hex characters. Truncation trades a small,
// bounded collision probability for compact keys; both tiers index and compare
// the truncated form, so the lengths are part of the wire contract and must
// not change without migrating stored events.
const (
	// FingerprintHexLength is the stored length of the SHA-256 identity hash.
	// 32 hex chars = 128 bits, collision probability is negligible at any
	// realistic event volume.
	FingerprintHexLength = 32
	// ContentHashHexLength is the stored length of the MD5 content hash.
	// 16 hex chars = 64 bits; a false content match only suppresses a
	// notification whose visible payload already collided, so the shorter
	// digest is an accepted tradeoff.
	ContentHashHexLength = 16

	fieldSeparator = "|"
)

// Fingerprint derives the identity hash of a request. Two requests with the
// same event type, entity, recipient, source and priority always produce the
// same fingerprint, across processes and producers.
func Fingerprint(req *NotificationRequest) string {
	h := sha256.New()
	writeFields(h, req.EventType, req.EntityID, req.RecipientID, req.Source, string(req.Priority))
	return hex.EncodeToString(h.Sum(nil))[:FingerprintHexLength]
}

// ContentHash derives a hash of the displayable payload. Structured data is
// canonicalized with sorted keys so the hash is reproducible regardless of
// map iteration order.
func ContentHash(content *Content) string {
	h := md5.New() //nolint:gosec // not used for security
	writeFields(h, content.Title, content.Body, canonicalData(content.Data))
	return hex.EncodeToString(h.Sum(nil))[:ContentHashHexLength]
}

// writeFields writes fields joined by a separator so adjacent fields cannot
// be confused ("ab"+"c" vs "a"+"bc").
func writeFields(w interface{ Write([]byte) (int, error) }, fields ...string) {
	_, _ = w.Write([]byte(strings.Join(fields, fieldSeparator)))
}

// canonicalData renders structured data as JSON with lexically sorted keys.
// encoding/json already sorts map keys, but nested non-map values keep their
// natural encoding, so a plain Marshal of the whole map is sufficient for
// top-level determinism; nested maps are also sorted by the encoder.
func canonicalData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		encoded, err := json.Marshal(data[k])
		if err != nil {
			// Unencodable values still need a stable representation
			encoded = []byte(fmt.Sprintf("%v", data[k]))
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.Write(encoded)
	}
	return sb.String()
}
