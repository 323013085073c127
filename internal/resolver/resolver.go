// Package resolver maps an account's OU ancestry to the tenant (CID) that
// owns it.
package resolver

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/cidsync/internal/credentials"
)

// ErrOverlappingOUs indicates an OU is claimed by more than one tenant
// mapping. This is a configuration error; no priority order is applied.
var ErrOverlappingOUs = errors.New("organizational unit owned by multiple tenant mappings")

// Mapping associates a tenant CID with the OUs it owns and the credential
// record used to register accounts into it.
type Mapping struct {
	CID         string
	OUs         []string
	Credentials *credentials.Record
}

// FromRecords builds tenant mappings from fetched credential records.
func FromRecords(records []*credentials.Record) []Mapping {
	mappings := make([]Mapping, 0, len(records))
	for _, record := range records {
		mappings = append(mappings, Mapping{
			CID:         record.CID,
			OUs:         record.OUs,
			Credentials: record,
		})
	}
	return mappings
}

// ValidateMappings rejects configurations where an OU is owned by two
// tenants. Run before any reconciliation pass.
func ValidateMappings(mappings []Mapping) error {
	owners := make(map[string]string)
	for _, mapping := range mappings {
		for _, ou := range mapping.OUs {
			if owner, ok := owners[ou]; ok && owner != mapping.CID {
				return fmt.Errorf("%w: %s claimed by %s and %s", ErrOverlappingOUs, ou, owner, mapping.CID)
			}
			owners[ou] = mapping.CID
		}
	}
	return nil
}

// Resolve scans the ancestry from the account's nearest OU outward toward
// the root and returns the first mapping owning an OU in the chain. A more
// specific sub-OU assignment therefore overrides an ancestor's. The second
// return is false when no OU in the ancestry is owned by any mapping; that
// account is simply not a target of this system and must not be retried.
func Resolve(ancestry []string, mappings []Mapping) (*Mapping, bool) {
	// Ancestry arrives root-first, scan nearest-first.
	for i := len(ancestry) - 1; i >= 0; i-- {
		for j := range mappings {
			if owns(&mappings[j], ancestry[i]) {
				return &mappings[j], true
			}
		}
	}
	return nil, false
}

func owns(mapping *Mapping, ou string) bool {
	for _, owned := range mapping.OUs {
		if owned == ou {
			return true
		}
	}
	return false
}
