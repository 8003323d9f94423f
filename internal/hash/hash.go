// Package hash content-addresses features. Geometry, attribute set and the
// composite of the two each get a 128-bit MD5 digest in lowercase hex. The
// geometry digest matches MD5(ST_AsBinary(geom)) computed by the remote
// database, so both sides of the pipeline agree without shipping geometry
// bytes around twice.
package hash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Geometry digests the canonical WKB encoding of a geometry.
func Geometry(wkb []byte) string {
	sum := md5.Sum(wkb)
	return hex.EncodeToString(sum[:])
}

// Attributes digests "k1:v1|k2:v2|..." with pairs sorted by key. The empty
// mapping digests the empty string, so a feature with no attributes still
// has a stable hash.
func Attributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		sum := md5.Sum(nil)
		return hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(Stringify(attrs[k]))
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Composite combines the two digests into the feature-version identity.
func Composite(geometryHash, attributesHash string) string {
	sum := md5.Sum([]byte("geom:" + geometryHash + "|attrs:" + attributesHash))
	return hex.EncodeToString(sum[:])
}

// Stringify renders an attribute value the single canonical way. Every
// producer of attribute hashes must go through here: two runs that format
// the same value differently would fabricate a change.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return hex.EncodeToString(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
