package stream

import "nuha.dev/guardian/internal/api"

// Sanitize drops member records without a usable userId and deduplicates the
// rest by userId, keeping the first occurrence in array order. Consumers can
// rely on snapshots being unique per member.
func Sanitize(raw []api.MemberLocation) []api.MemberLocation {
	out := make([]api.MemberLocation, 0, len(raw))
	seen := make(map[int64]struct{}, len(raw))
	for _, m := range raw {
		if m.UserID <= 0 {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m)
	}
	return out
}
