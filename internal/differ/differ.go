// Package differ compares two page captures and reports the changes that
// matter for defacement detection. Comparison is structural: children are
// grouped under their parent's normalized URL and matched by normalized URL,
// so cache-busting query strings do not read as changes.
package differ

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/ojulabs/oju/internal/capture"
)

// ChangeType labels one kind of detected change.
type ChangeType string

const (
	Added           ChangeType = "added"
	Removed         ChangeType = "removed"
	Moved           ChangeType = "moved"
	ContentChanged  ChangeType = "content_changed"
	StatusChanged   ChangeType = "status_changed"
	SizeChanged     ChangeType = "size_changed"
	TitleChanged    ChangeType = "title_changed"
	RedirectChanged ChangeType = "redirect_changed"
)

// Change is one detected difference. Path is the root-to-node URL chain on
// the side where the node exists (new side preferred). OldPath and NewPath
// are set only for moved resources.
type Change struct {
	Type    ChangeType `json:"type"`
	URL     string     `json:"url"`
	Old     string     `json:"old,omitempty"`
	New     string     `json:"new,omitempty"`
	Details string     `json:"details,omitempty"`
	Path    []string   `json:"path,omitempty"`
	OldPath []string   `json:"old_path,omitempty"`
	NewPath []string   `json:"new_path,omitempty"`
}

// Differ holds the comparison settings, loaded from the scan criteria. A
// zero tolerance still tolerates byte-identical sizes only.
type Differ struct {
	SizeTolerance int64
	Whitelist     map[string]struct{}

	// CompareHashes also reports same-size content changes by body hash.
	// Off by default: dynamic pages churn hashes on every load.
	CompareHashes bool
}

// New builds a Differ with the given byte tolerance and exact-hostname
// whitelist.
func New(sizeTolerance int64, whitelist []string) *Differ {
	d := &Differ{SizeTolerance: sizeTolerance, Whitelist: make(map[string]struct{}, len(whitelist))}
	for _, h := range whitelist {
		d.Whitelist[h] = struct{}{}
	}
	return d
}

// analysis carries the per-comparison caches.
type analysis struct {
	d      *Differ
	oldCap *capture.Capture
	newCap *capture.Capture

	oldNodes map[string]*capture.Node
	newNodes map[string]*capture.Node
	oldPaths map[string][]string
	newPaths map[string][]string
	oldOrder []string

	metadata   []Change
	structural []Change
	content    []Change
}

// Analyze compares the baseline capture against the new one and returns the
// flat change list: metadata first, then structural additions and removals,
// then content-level changes.
func (d *Differ) Analyze(oldCap, newCap *capture.Capture) []Change {
	a := &analysis{
		d:        d,
		oldCap:   oldCap,
		newCap:   newCap,
		oldNodes: make(map[string]*capture.Node),
		newNodes: make(map[string]*capture.Node),
		oldPaths: make(map[string][]string),
		newPaths: make(map[string][]string),
	}
	a.oldOrder = buildCaches(oldCap.Roots, a.oldNodes, a.oldPaths, nil)
	buildCaches(newCap.Roots, a.newNodes, a.newPaths, nil)

	a.compareMetadata()
	a.compareStructure()

	out := make([]Change, 0, len(a.metadata)+len(a.structural)+len(a.content))
	out = append(out, a.metadata...)
	out = append(out, a.structural...)
	out = append(out, a.content...)
	return out
}

// buildCaches walks a forest depth first, recording each URL's node and its
// root-to-node path. A URL seen twice keeps the later sighting. The returned
// slice lists URLs in first-seen order.
func buildCaches(roots []*capture.Node, nodes map[string]*capture.Node, paths map[string][]string, parentPath []string) []string {
	var order []string
	var walk func(list []*capture.Node, prefix []string)
	walk = func(list []*capture.Node, prefix []string) {
		for _, n := range list {
			if _, seen := nodes[n.URL]; !seen {
				order = append(order, n.URL)
			}
			nodes[n.URL] = n
			path := make([]string, 0, len(prefix)+1)
			path = append(path, prefix...)
			path = append(path, n.URL)
			paths[n.URL] = path
			if len(n.Children) > 0 {
				walk(n.Children, path)
			}
		}
	}
	walk(roots, parentPath)
	return order
}

func (a *analysis) compareMetadata() {
	if a.oldCap.Title != a.newCap.Title {
		a.metadata = append(a.metadata, Change{
			Type:    TitleChanged,
			Old:     a.oldCap.Title,
			New:     a.newCap.Title,
			Details: fmt.Sprintf("Page title changed from '%s' to '%s'", a.oldCap.Title, a.newCap.Title),
		})
	}
	if a.oldCap.LastRedirectedURL != a.newCap.LastRedirectedURL {
		a.metadata = append(a.metadata, Change{
			Type:    RedirectChanged,
			Old:     a.oldCap.LastRedirectedURL,
			New:     a.newCap.LastRedirectedURL,
			Details: fmt.Sprintf("Final redirect changed from '%s' to '%s'", a.oldCap.LastRedirectedURL, a.newCap.LastRedirectedURL),
		})
	}
}

// compareStructure groups both trees by normalized parent URL and diffs each
// parent's children. Parent keys are visited in sorted order so repeated
// comparisons of the same captures emit identical change lists.
func (a *analysis) compareStructure() {
	oldParents := parentChildrenMap(a.oldCap.Roots)
	newParents := parentChildrenMap(a.newCap.Roots)

	keys := make(map[string]struct{}, len(oldParents)+len(newParents))
	for k := range oldParents {
		keys[k] = struct{}{}
	}
	for k := range newParents {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		oldChildren := oldParents[key]
		newChildren := newParents[key]

		switch {
		case len(oldChildren) == 0:
			parentURL := a.parentURLFor(key, a.newCap)
			for _, child := range newChildren {
				a.reportAdded(child, parentURL)
			}
		case len(newChildren) == 0:
			parentURL := a.parentURLFor(key, a.oldCap)
			for _, child := range oldChildren {
				a.reportRemoved(child, parentURL)
			}
		default:
			a.compareChildren(key, oldChildren, newChildren)
		}
	}
}

// rootParent is the pseudo-parent key for top-level nodes.
const rootParent = "root"

// parentURLFor resolves the parent key used for suppression checks: root
// nodes borrow the capture's main URL so top-level blobs can be judged.
func (a *analysis) parentURLFor(key string, c *capture.Capture) string {
	if key == rootParent {
		return c.URL
	}
	return key
}

func (a *analysis) compareChildren(key string, oldChildren, newChildren []*capture.Node) {
	parentURL := a.parentURLFor(key, a.newCap)

	oldNorm := normalizeChildren(oldChildren)
	newNorm := normalizeChildren(newChildren)

	for _, k := range newNorm.keys {
		if _, ok := oldNorm.vals[k]; !ok {
			a.reportAdded(newNorm.vals[k], parentURL)
		}
	}
	for _, k := range oldNorm.keys {
		if _, ok := newNorm.vals[k]; !ok {
			a.reportRemoved(oldNorm.vals[k], parentURL)
		}
	}
	for _, k := range oldNorm.keys {
		if newChild, ok := newNorm.vals[k]; ok {
			a.compareContent(oldNorm.vals[k], newChild, parentURL)
		}
	}
}

func (a *analysis) reportAdded(child *capture.Node, parentURL string) {
	if !a.shouldReport(child.URL, parentURL) {
		return
	}
	a.structural = append(a.structural, Change{
		Type: Added,
		URL:  child.URL,
		Path: a.newPaths[child.URL],
	})
}

func (a *analysis) reportRemoved(child *capture.Node, parentURL string) {
	if !a.shouldReport(child.URL, parentURL) {
		return
	}
	a.structural = append(a.structural, Change{
		Type: Removed,
		URL:  child.URL,
		Path: a.oldPaths[child.URL],
	})
}

// compareContent diffs two nodes matched by normalized URL. Suppression is
// judged on the old node's raw URL.
func (a *analysis) compareContent(oldNode, newNode *capture.Node, parentURL string) {
	u := oldNode.URL
	if !a.shouldReport(u, parentURL) {
		return
	}

	path := a.newPaths[u]
	if path == nil {
		path = a.oldPaths[u]
	}

	var sizeDiff int64 = -1
	if oldNode.Size != nil && newNode.Size != nil {
		sizeDiff = *newNode.Size - *oldNode.Size
		if sizeDiff < 0 {
			sizeDiff = -sizeDiff
		}
		if sizeDiff > a.d.SizeTolerance {
			a.content = append(a.content, Change{
				Type:    SizeChanged,
				URL:     u,
				Old:     fmt.Sprintf("%d", *oldNode.Size),
				New:     fmt.Sprintf("%d", *newNode.Size),
				Details: fmt.Sprintf("Size changed from %d to %d bytes (diff: %d bytes)", *oldNode.Size, *newNode.Size, sizeDiff),
				Path:    path,
			})
		}
	}

	if a.d.CompareHashes && oldNode.Hash != newNode.Hash && sizeDiff == 0 {
		a.content = append(a.content, Change{
			Type:    ContentChanged,
			URL:     u,
			Old:     oldNode.Hash,
			New:     newNode.Hash,
			Details: "Content changed but size is same (possible suspicious change)",
			Path:    path,
		})
	}

	if oldNode.Status != nil && newNode.Status != nil &&
		*oldNode.Status != *newNode.Status && *oldNode.Status != -1 && *newNode.Status != -1 {
		a.content = append(a.content, Change{
			Type:    StatusChanged,
			URL:     u,
			Old:     fmt.Sprintf("%d", *oldNode.Status),
			New:     fmt.Sprintf("%d", *newNode.Status),
			Details: fmt.Sprintf("Status changed from %d to %d", *oldNode.Status, *newNode.Status),
			Path:    path,
		})
	}
}

// DetectMoved lists resources present in both captures whose root-to-node
// path changed. Computed on demand; Analyze does not emit these because
// ordinary layout shuffles would swamp the report.
func (d *Differ) DetectMoved(oldCap, newCap *capture.Capture) []Change {
	a := &analysis{
		d:        d,
		oldCap:   oldCap,
		newCap:   newCap,
		oldNodes: make(map[string]*capture.Node),
		newNodes: make(map[string]*capture.Node),
		oldPaths: make(map[string][]string),
		newPaths: make(map[string][]string),
	}
	a.oldOrder = buildCaches(oldCap.Roots, a.oldNodes, a.oldPaths, nil)
	buildCaches(newCap.Roots, a.newNodes, a.newPaths, nil)

	var moved []Change
	for _, u := range a.oldOrder {
		if _, ok := a.newNodes[u]; !ok {
			continue
		}
		oldPath, newPath := a.oldPaths[u], a.newPaths[u]
		if len(oldPath) == 0 || len(newPath) == 0 || equalPaths(oldPath, newPath) {
			continue
		}
		if !a.shouldReport(u, "") {
			continue
		}
		moved = append(moved, Change{
			Type:    Moved,
			URL:     u,
			Details: "Resource moved within the tree",
			Path:    newPath,
			OldPath: oldPath,
			NewPath: newPath,
		})
	}
	return moved
}

func equalPaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// shouldReport applies the suppression rules: whitelisted hosts, font files,
// and blob URLs embedding their parent's host never count as changes.
func (a *analysis) shouldReport(rawURL, parentURL string) bool {
	if a.d.isWhitelisted(rawURL) {
		return false
	}
	if isFontFile(rawURL) {
		return false
	}
	if isIgnorableBlob(rawURL, parentURL) {
		return false
	}
	return true
}

func (d *Differ) isWhitelisted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := d.Whitelist[u.Host]
	return ok
}

var fontExtensions = map[string]bool{"woff2": true, "woff": true, "ttf": true, "eot": true, "otf": true}

func isFontFile(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	seg := u.Path
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	i := strings.LastIndex(seg, ".")
	if i < 0 {
		return false
	}
	return fontExtensions[seg[i+1:]]
}

// isIgnorableBlob reports whether rawURL is a blob: URL whose embedded
// origin matches the parent's host. Those are page-generated objects, not
// injected resources.
func isIgnorableBlob(rawURL, parentURL string) bool {
	if !strings.HasPrefix(rawURL, "blob:") || parentURL == "" {
		return false
	}
	embedded, err := url.Parse(strings.TrimPrefix(rawURL, "blob:"))
	if err != nil {
		return false
	}
	parent, err := url.Parse(parentURL)
	if err != nil {
		return false
	}
	return embedded.Host == parent.Host
}

// normalizeURL strips query and fragment, keeping scheme, host, and path.
// Opaque URLs (blob:, data:) keep their opaque part so distinct blobs stay
// distinct.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Opaque != "" {
		return u.Scheme + "://" + u.Opaque
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// normMap is an insertion-ordered map of normalized URL to node. A repeated
// normalized URL keeps its first position but the last node wins.
type normMap struct {
	keys []string
	vals map[string]*capture.Node
}

func normalizeChildren(children []*capture.Node) *normMap {
	m := &normMap{vals: make(map[string]*capture.Node, len(children))}
	for _, c := range children {
		k := normalizeURL(c.URL)
		if _, ok := m.vals[k]; !ok {
			m.keys = append(m.keys, k)
		}
		m.vals[k] = c
	}
	return m
}

// parentChildrenMap groups every node in the forest under its parent's
// normalized URL. Top-level nodes group under the "root" pseudo-parent.
func parentChildrenMap(roots []*capture.Node) map[string][]*capture.Node {
	out := make(map[string][]*capture.Node)
	var walk func(n *capture.Node, parentURL string)
	walk = func(n *capture.Node, parentURL string) {
		key := rootParent
		if parentURL != "" {
			key = normalizeURL(parentURL)
		}
		out[key] = append(out[key], n)
		for _, child := range n.Children {
			walk(child, n.URL)
		}
	}
	for _, r := range roots {
		walk(r, "")
	}
	return out
}
