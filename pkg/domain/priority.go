package domain

import "strings"

// Priority is stored capitalized (Low/Medium/High) and edited lowercase.
// Normalization happens at the service boundary; unknown values pass
// through trimmed since priority is conventionally free-form.

// StoragePriority converts an editing-surface priority to its stored form.
func StoragePriority(p string) string {
	p = strings.TrimSpace(p)
	switch strings.ToLower(p) {
	case "low":
		return "Low"
	case "medium":
		return "Medium"
	case "high":
		return "High"
	}
	return p
}

// EditPriority converts a stored priority to its editing-surface form.
func EditPriority(p string) string {
	p = strings.TrimSpace(p)
	switch p {
	case "Low", "Medium", "High":
		return strings.ToLower(p)
	}
	return p
}
