package audit

import (
	"encoding/json"
	"time"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
	"github.com/davidleathers/audit-vault-backend/internal/domain/values"
)

// ContentHash computes the SHA-256 digest over the canonical pre-redaction
// serialization of {principalId, action, context, createdAt}. encoding/json
// marshals map keys in sorted order with no insignificant whitespace, which
// gives the stable representation the hash depends on.
func ContentHash(principalID string, action Action, context Context, createdAt time.Time) (values.HashValue, error) {
	canonical := map[string]interface{}{
		"principal_id": principalID,
		"action": map[string]interface{}{
			"category":      string(action.Category),
			"type":          action.Type,
			"resource_type": action.ResourceType,
			"resource_id":   action.ResourceID,
			"module":        action.Module,
		},
		"context": map[string]interface{}{
			"ip":                 context.IP,
			"isp":                context.ISP,
			"user_agent":         context.UserAgent,
			"lat":                context.Location.Lat,
			"lon":                context.Location.Lon,
			"location_label":     context.Location.Label,
			"device_fingerprint": context.DeviceFingerprint,
		},
		"created_at": createdAt.UTC().Format(time.RFC3339Nano),
	}

	jsonBytes, err := json.Marshal(canonical)
	if err != nil {
		return values.HashValue{}, errors.NewInternalError("failed to marshal canonical record").WithCause(err)
	}

	return values.ComputeHashValue(jsonBytes), nil
}

// VerificationHash binds the ciphertext (empty for non-sensitive records) to
// the content hash: hash(encryptedPayload || contentHash). Either ciphertext
// substitution or metadata tampering is then independently detectable without
// decryption.
func VerificationHash(encryptedPayload []byte, contentHash values.HashValue) values.HashValue {
	data := make([]byte, 0, len(encryptedPayload)+64)
	data = append(data, encryptedPayload...)
	data = append(data, []byte(contentHash.String())...)
	return values.ComputeHashValue(data)
}

// SealHashes computes and assigns both integrity hashes over the record's
// current data, then seals it.
func SealHashes(r *Record) error {
	contentHash, err := ContentHash(r.PrincipalID, r.Action, r.Context, r.CreatedAt)
	if err != nil {
		return err
	}
	r.ContentHash = contentHash
	r.VerificationHash = VerificationHash(r.EncryptedPayload, contentHash)
	return r.Seal()
}

// VerifyIntegrity recomputes both hashes from the stored record and compares
// them against the stored values. A mismatch is an IntegrityViolation; the
// caller quarantines the record rather than silently serving it.
func VerifyIntegrity(r *Record) error {
	contentHash, err := ContentHash(r.PrincipalID, r.Action, r.Context, r.CreatedAt)
	if err != nil {
		return err
	}

	if !contentHash.Equal(r.ContentHash) {
		return errors.NewIntegrityViolation("CONTENT_HASH_MISMATCH",
			"recomputed content hash does not match stored hash").
			WithDetails(map[string]interface{}{
				"record_id": r.ID.String(),
				"expected":  r.ContentHash.String(),
				"computed":  contentHash.String(),
			})
	}

	verificationHash := VerificationHash(r.EncryptedPayload, r.ContentHash)
	if !verificationHash.Equal(r.VerificationHash) {
		return errors.NewIntegrityViolation("VERIFICATION_HASH_MISMATCH",
			"recomputed verification hash does not match stored hash").
			WithDetails(map[string]interface{}{
				"record_id": r.ID.String(),
				"expected":  r.VerificationHash.String(),
				"computed":  verificationHash.String(),
			})
	}

	return nil
}
