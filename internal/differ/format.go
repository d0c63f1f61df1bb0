package differ

import (
	"fmt"
	"strings"
)

// Format renders a change list as the human-readable block embedded in
// defacement alerts. Returns "" when there is nothing to report.
func Format(changes []Change) string {
	if len(changes) == 0 {
		return ""
	}

	var metadata, structural, content []Change
	for _, c := range changes {
		switch c.Type {
		case TitleChanged, RedirectChanged:
			metadata = append(metadata, c)
		case Added, Removed, Moved:
			structural = append(structural, c)
		default:
			content = append(content, c)
		}
	}

	lines := []string{"Changes detected:\n"}

	if len(metadata) > 0 {
		lines = append(lines, "Metadata Changes:")
		for _, c := range metadata {
			lines = append(lines, fmt.Sprintf("  • %s", c.Details))
		}
		lines = append(lines, "")
	}

	if len(structural) > 0 {
		lines = append(lines, "Structural Changes:")
		for _, c := range structural {
			switch c.Type {
			case Added:
				lines = append(lines, fmt.Sprintf("  ➕ Added: %s", c.URL))
				lines = append(lines, fmt.Sprintf("     Path: %s", pathString(c.Path)))
			case Removed:
				lines = append(lines, fmt.Sprintf("  ❌ Removed: %s", c.URL))
				lines = append(lines, fmt.Sprintf("     Path: %s", pathString(c.Path)))
			case Moved:
				lines = append(lines, fmt.Sprintf("   Moved: %s", c.URL))
				lines = append(lines, fmt.Sprintf("     Old path: %s", strings.Join(c.OldPath, " → ")))
				lines = append(lines, fmt.Sprintf("     New path: %s", strings.Join(c.NewPath, " → ")))
			}
		}
		lines = append(lines, "")
	}

	if len(content) > 0 {
		lines = append(lines, "Content Changes:")
		for _, c := range content {
			switch c.Type {
			case ContentChanged:
				lines = append(lines, fmt.Sprintf("   Content changed: %s", c.URL))
				lines = append(lines, fmt.Sprintf("     Path: %s", pathString(c.Path)))
				if c.Details != "" {
					lines = append(lines, fmt.Sprintf("     Details: %s", c.Details))
				}
			case StatusChanged:
				lines = append(lines, fmt.Sprintf("   Status: %s", c.Details))
				lines = append(lines, fmt.Sprintf("     Path: %s", pathString(c.Path)))
			case SizeChanged:
				lines = append(lines, fmt.Sprintf("   Size: %s", c.Details))
				lines = append(lines, fmt.Sprintf("     Path: %s", pathString(c.Path)))
			}
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

func pathString(path []string) string {
	if len(path) == 0 {
		return "root"
	}
	return strings.Join(path, " → ")
}
