package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/pario-ai/polyglot/pkg/models"
)

// Fingerprint computes a SHA-256 over the normalized request fields. Each
// field is length-prefixed so no two distinct requests share an encoding.
func Fingerprint(req models.ConversionRequest) string {
	n := req.Normalized()
	h := sha256.New()
	for _, field := range []string{
		n.SourceLanguage,
		n.TargetLanguage,
		string(n.Style),
		n.StyleGuide,
		strconv.FormatBool(n.IncludeComments),
		n.SourceCode,
	} {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
