package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
)

// Hash returns the hex SHA-256 digest over every attested field of the tool:
// name, required flag, alternatives (order preserved), all permission fields
// and the expiry. Attestation and revocation state are not part of the
// digest. Each field is length-prefixed so adjacent values cannot shift
// into one another.
func (t *ToolCapability) Hash() string {
	h := sha256.New()
	p := t.Permissions
	writeField(h, t.ToolName)
	writeField(h, strconv.FormatBool(t.Required))
	writeField(h, strconv.Itoa(len(t.Alternatives)))
	for _, alt := range t.Alternatives {
		writeField(h, alt)
	}
	for _, field := range []string{
		strconv.FormatBool(p.FilesystemAccess),
		strconv.FormatBool(p.NetworkAccess),
		strconv.FormatBool(p.ProcessSpawn),
		strconv.FormatBool(p.EnvAccess),
		strconv.FormatBool(p.SystemAccess),
		strconv.FormatUint(p.MemoryLimitMB, 10),
		strconv.FormatUint(uint64(p.CPULimitPercent), 10),
		strconv.FormatUint(p.TimeoutSeconds, 10),
		strconv.FormatInt(t.Expiration.ExpiresAt, 10),
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, field string) {
	h.Write([]byte(strconv.Itoa(len(field))))
	h.Write([]byte{':'})
	h.Write([]byte(field))
}
