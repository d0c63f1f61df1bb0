package capture

import (
	"strings"
	"testing"
)

func n(url string, children ...*Node) *Node {
	return &Node{URL: url, Children: children}
}

func TestRender(t *testing.T) {
	roots := []*Node{
		n("https://a.test/",
			n("https://a.test/app.js"),
			n("https://a.test/style.css",
				n("https://a.test/font.svg"))),
		n("https://b.test/pixel"),
	}

	want := strings.Join([]string{
		"├── https://a.test/",
		"│   ├── https://a.test/app.js",
		"│   └── https://a.test/style.css",
		"│       └── https://a.test/font.svg",
		"└── https://b.test/pixel",
	}, "\n")

	if got := Render(roots); got != want {
		t.Errorf("Render mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := Render(nil); got != "" {
		t.Errorf("Render(nil) = %q, want empty", got)
	}
}

func TestFlattenBreaksCycle(t *testing.T) {
	a := n("https://a.test/")
	b := n("https://b.test/")
	a.Children = []*Node{b}
	b.Children = []*Node{a}

	flat := flattenForest([]*Node{a})
	if len(flat) != 1 {
		t.Fatalf("roots = %d, want 1", len(flat))
	}
	child := flat[0].Children[0]
	if child.URL != "https://b.test/" || child.IsCycle {
		t.Fatalf("first child = %+v, want full b node", child)
	}
	if len(child.Children) != 1 {
		t.Fatalf("b children = %d, want 1", len(child.Children))
	}
	stub := child.Children[0]
	if !stub.IsCycle || stub.URL != "https://a.test/" || len(stub.Children) != 0 {
		t.Errorf("cycle stub = %+v, want bare is_cycle marker for a", stub)
	}
}

func TestFlattenSiblingsMayRepeatURL(t *testing.T) {
	shared := n("https://cdn.test/lib.js")
	root := n("https://a.test/", shared, shared)

	flat := flattenForest([]*Node{root})
	kids := flat[0].Children
	if len(kids) != 2 {
		t.Fatalf("children = %d, want 2", len(kids))
	}
	for i, k := range kids {
		if k.IsCycle {
			t.Errorf("child %d marked cycle; only ancestor repeats are cycles", i)
		}
	}
}

func TestFlattenCopies(t *testing.T) {
	orig := &Node{URL: "https://a.test/", RedirectChain: []string{"https://b.test/"}}
	flat := flattenForest([]*Node{orig})

	flat[0].RedirectChain[0] = "mutated"
	if orig.RedirectChain[0] != "https://b.test/" {
		t.Error("flatten shares redirect chain backing array with original")
	}
}
