package models

import "strings"

// Provider is immutable reference data describing one supported external
// platform, e.g. "youtube", "facebook" or the sub-platform "facebook_page".
type Provider struct {
	Key         string `json:"provider"`
	DisplayName string `json:"name"`
	IsMain      bool   `json:"is_main"`
}

// FamilyKey returns the provider family this key belongs to. Families are a
// naming-prefix convention: "facebook_page" belongs to "facebook". A key
// without an underscore is its own family.
func (p Provider) FamilyKey() string {
	return ProviderFamily(p.Key)
}

// ProviderFamily extracts the family prefix from a provider key.
func ProviderFamily(key string) string {
	if i := strings.IndexByte(key, '_'); i > 0 {
		return key[:i]
	}
	return key
}

// InFamily reports whether the provider belongs to the given family. A key
// belongs to at most one family, its own prefix.
func (p Provider) InFamily(family string) bool {
	return p.FamilyKey() == family
}
