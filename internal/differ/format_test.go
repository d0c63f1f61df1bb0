package differ

import (
	"strings"
	"testing"
)

func TestFormatEmpty(t *testing.T) {
	if got := Format(nil); got != "" {
		t.Errorf("Format(nil) = %q, want empty", got)
	}
	if got := Format([]Change{}); got != "" {
		t.Errorf("Format(empty) = %q, want empty", got)
	}
}

func TestFormatGroupsSections(t *testing.T) {
	changes := []Change{
		{Type: TitleChanged, Details: "Page title changed from 'A' to 'B'"},
		{Type: Added, URL: "https://evil.com/x.js", Path: []string{"https://site.test/", "https://evil.com/x.js"}},
		{Type: Removed, URL: "https://site.test/legal.html"},
		{Type: SizeChanged, URL: "https://site.test/a.js", Details: "Size changed from 100 to 250 bytes (diff: 150 bytes)", Path: []string{"https://site.test/", "https://site.test/a.js"}},
		{Type: StatusChanged, URL: "https://site.test/a.js", Details: "Status changed from 200 to 404"},
		{Type: ContentChanged, URL: "https://site.test/b.js", Details: "Content changed but size is same (possible suspicious change)"},
	}

	want := strings.Join([]string{
		"Changes detected:\n",
		"Metadata Changes:",
		"  • Page title changed from 'A' to 'B'",
		"",
		"Structural Changes:",
		"  ➕ Added: https://evil.com/x.js",
		"     Path: https://site.test/ → https://evil.com/x.js",
		"  ❌ Removed: https://site.test/legal.html",
		"     Path: root",
		"",
		"Content Changes:",
		"   Size: Size changed from 100 to 250 bytes (diff: 150 bytes)",
		"     Path: https://site.test/ → https://site.test/a.js",
		"   Status: Status changed from 200 to 404",
		"     Path: root",
		"   Content changed: https://site.test/b.js",
		"     Path: root",
		"",
	}, "\n")

	if got := Format(changes); got != want {
		t.Errorf("Format mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatMoved(t *testing.T) {
	changes := []Change{
		{
			Type:    Moved,
			URL:     "https://site.test/w.js",
			Details: "Resource moved within the tree",
			OldPath: []string{"https://site.test/", "https://site.test/old", "https://site.test/w.js"},
			NewPath: []string{"https://site.test/", "https://site.test/w.js"},
		},
	}

	want := strings.Join([]string{
		"Changes detected:\n",
		"Structural Changes:",
		"   Moved: https://site.test/w.js",
		"     Old path: https://site.test/ → https://site.test/old → https://site.test/w.js",
		"     New path: https://site.test/ → https://site.test/w.js",
		"",
	}, "\n")

	if got := Format(changes); got != want {
		t.Errorf("Format mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatEndToEnd(t *testing.T) {
	oldCap := snap("https://target/index", "T", "", node("https://target/index"))
	newCap := snap("https://target/index", "T", "",
		node("https://target/index", node("https://evil.com/x.js")))

	got := Format(New(100, nil).Analyze(oldCap, newCap))
	want := "Changes detected:\n\nStructural Changes:\n  ➕ Added: https://evil.com/x.js\n     Path: https://target/index → https://evil.com/x.js\n"
	if got != want {
		t.Errorf("formatted = %q, want %q", got, want)
	}
}
