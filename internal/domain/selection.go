package domain

import "slices"

// SelectFiles narrows a catalog to the requested data years and caps the
// result at maxFiles. Empty years keeps every file; maxFiles <= 0 keeps all.
func SelectFiles(ids []FileIdentifier, years []int, maxFiles int) []FileIdentifier {
	selected := ids
	if len(years) > 0 {
		selected = Filter(ids, func(id FileIdentifier) bool {
			y, ok := id.Year()
			return ok && slices.Contains(years, y)
		})
	}
	if maxFiles > 0 && len(selected) > maxFiles {
		selected = selected[:maxFiles]
	}
	return selected
}
