package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// IdentityStatus tracks the KYC review lifecycle of a BFR-SIGN-ID.
type IdentityStatus string

const (
	IdentityStatusPending  IdentityStatus = "pending"
	IdentityStatusVerified IdentityStatus = "verified"
	IdentityStatusRejected IdentityStatus = "rejected"
	IdentityStatusExpired  IdentityStatus = "expired"
)

const (
	compositeIDPrefix   = "BFS"
	compositeTimeLayout = "20060102150405"

	tokenHexLen = 32
)

// tokenGroupLens is the 8-4-4-4-12 grouping of the derived token.
var tokenGroupLens = []int{8, 4, 4, 4, 12}

// Identity is a jurisdiction-aware pseudonymous signer identity. The raw
// national ID number is never stored; only the derived token survives.
type Identity struct {
	ID           string
	CompositeID  string
	Jurisdiction string
	Token        string
	OwnerUserID  string
	Status       IdentityStatus
	CreatedAt    time.Time
	VerifiedAt   *time.Time
}

// DeriveToken maps (jurisdiction, national ID number) to a fixed-length
// pseudonymous token. The derivation is a pure function: the same inputs
// always produce the same token, which is what allows later re-linkage
// without ever persisting the national ID itself.
func DeriveToken(jurisdiction, nationalID string) (string, error) {
	jurisdiction, err := NormalizeJurisdiction(jurisdiction)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(nationalID) == "" {
		return "", fmt.Errorf("%w: national id required", ErrIdentityFormat)
	}
	sum := sha256.Sum256([]byte(jurisdiction + ":" + nationalID))
	raw := hex.EncodeToString(sum[:])[:tokenHexLen]
	return groupToken(raw), nil
}

func groupToken(raw string) string {
	parts := make([]string, 0, len(tokenGroupLens))
	offset := 0
	for _, n := range tokenGroupLens {
		parts = append(parts, raw[offset:offset+n])
		offset += n
	}
	return strings.Join(parts, "-")
}

// NormalizeJurisdiction upper-cases and validates a 2-letter ISO country code.
func NormalizeJurisdiction(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return "", fmt.Errorf("%w: jurisdiction must be 2 letters", ErrIdentityFormat)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: jurisdiction must be 2 letters", ErrIdentityFormat)
		}
	}
	return code, nil
}

// FormatCompositeID renders the human-readable BFR-SIGN-ID. The timestamp is
// cosmetic (sortability); it plays no part in token derivation.
func FormatCompositeID(jurisdiction, token string, createdAt time.Time) string {
	return strings.Join([]string{
		compositeIDPrefix,
		jurisdiction,
		token,
		createdAt.UTC().Format(compositeTimeLayout),
	}, "-")
}

// ParseCompositeID decomposes a BFR-SIGN-ID back into its jurisdiction,
// derived token and creation timestamp. Malformed input fails with
// ErrIdentityFormat.
func ParseCompositeID(s string) (jurisdiction, token string, createdAt time.Time, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3+len(tokenGroupLens) {
		return "", "", time.Time{}, fmt.Errorf("%w: %q", ErrIdentityFormat, s)
	}
	if parts[0] != compositeIDPrefix {
		return "", "", time.Time{}, fmt.Errorf("%w: missing %s prefix", ErrIdentityFormat, compositeIDPrefix)
	}
	jurisdiction, err = NormalizeJurisdiction(parts[1])
	if err != nil {
		return "", "", time.Time{}, err
	}
	groups := parts[2 : 2+len(tokenGroupLens)]
	for i, g := range groups {
		if len(g) != tokenGroupLens[i] || !isLowerHex(g) {
			return "", "", time.Time{}, fmt.Errorf("%w: bad token group %q", ErrIdentityFormat, g)
		}
	}
	token = strings.Join(groups, "-")
	createdAt, terr := time.ParseInLocation(compositeTimeLayout, parts[len(parts)-1], time.UTC)
	if terr != nil {
		return "", "", time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrIdentityFormat, parts[len(parts)-1])
	}
	return jurisdiction, token, createdAt, nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return len(s) > 0
}
