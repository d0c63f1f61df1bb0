package capture

import "strings"

// Node is one fetched resource in a capture's request forest. Size and Hash
// describe the body the browser actually received; ContentLength is the
// header the server claimed. Pointer fields are nil when the capture carried
// no value, and the differ treats nil and a value differently, so they must
// not collapse to zero.
type Node struct {
	URL           string   `json:"url"`
	Referer       string   `json:"referer,omitempty"`
	Size          *int64   `json:"size,omitempty"`
	ContentLength *int64   `json:"content_length,omitempty"`
	Hash          string   `json:"hash,omitempty"`
	Status        *int     `json:"status,omitempty"`
	IsRedirect    bool     `json:"is_redirect,omitempty"`
	RedirectChain []string `json:"redirect_chain,omitempty"`
	IsCycle       bool     `json:"is_cycle,omitempty"`
	Children      []*Node  `json:"children,omitempty"`
}

// flattenForest copies a forest into a cycle-free form. Redirect loops and
// referer cycles are legal in the raw graph; a URL revisited on its own
// ancestor path becomes a stub node marked IsCycle so the copy can be
// marshalled and walked without guards.
func flattenForest(roots []*Node) []*Node {
	if len(roots) == 0 {
		return nil
	}
	out := make([]*Node, 0, len(roots))
	onPath := make(map[string]bool)
	for _, r := range roots {
		out = append(out, r.flatten(onPath))
	}
	return out
}

func (n *Node) flatten(onPath map[string]bool) *Node {
	if onPath[n.URL] {
		return &Node{URL: n.URL, IsCycle: true}
	}
	onPath[n.URL] = true
	defer delete(onPath, n.URL)

	out := &Node{
		URL:           n.URL,
		Referer:       n.Referer,
		Size:          n.Size,
		ContentLength: n.ContentLength,
		Hash:          n.Hash,
		Status:        n.Status,
		IsRedirect:    n.IsRedirect,
		RedirectChain: append([]string(nil), n.RedirectChain...),
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, child.flatten(onPath))
	}
	return out
}

// Render draws the forest as an ASCII tree, one URL per line. The text is
// stored next to the capture state and shown in defacement mail.
func Render(roots []*Node) string {
	return strings.Join(renderLines(roots, ""), "\n")
}

func renderLines(nodes []*Node, indent string) []string {
	var lines []string
	for i, n := range nodes {
		prefix, childIndent := indent+"├── ", indent+"│   "
		if i == len(nodes)-1 {
			prefix, childIndent = indent+"└── ", indent+"    "
		}
		lines = append(lines, prefix+n.URL)
		if len(n.Children) > 0 {
			lines = append(lines, renderLines(n.Children, childIndent)...)
		}
	}
	return lines
}
