package identity

import "strings"

// Connector is the connector name embedded in dids and links minted by
// this store.
const Connector = "ephemeral"

// DID returns "did:discipl:<connector>:<ref>".
func DID(ref string) string {
	return "did:discipl:" + Connector + ":" + ref
}

// Link returns "link:discipl:<connector>:<claimID>".
func Link(claimID string) string {
	return "link:discipl:" + Connector + ":" + claimID
}

func IsDID(s string) bool  { return strings.HasPrefix(s, "did:discipl:") }
func IsLink(s string) bool { return strings.HasPrefix(s, "link:discipl:") }

// ReferenceFromDID strips the "did:discipl:<connector>:" prefix. Any other
// string is returned unchanged, so bare references are accepted too.
func ReferenceFromDID(s string) string {
	if !IsDID(s) {
		return s
	}
	return stripParts(s)
}

// ClaimIDFromLink strips the "link:discipl:<connector>:" prefix. Any other
// string is returned unchanged, so bare claim ids are accepted too.
func ClaimIDFromLink(s string) string {
	if !IsLink(s) {
		return s
	}
	return stripParts(s)
}

// stripParts drops the first three colon-separated fields. References
// themselves contain colons, so only the first three separators count.
func stripParts(s string) string {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}
