package capture

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Subset of the HAR 1.2 format the forest builder reads.
type harDoc struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Pages   []harPage  `json:"pages"`
	Entries []harEntry `json:"entries"`
}

type harPage struct {
	Title string `json:"title"`
}

type harEntry struct {
	Request  harRequest  `json:"request"`
	Response harResponse `json:"response"`
}

type harRequest struct {
	URL     string      `json:"url"`
	Headers []harHeader `json:"headers"`
}

type harResponse struct {
	Status  int         `json:"status"`
	Headers []harHeader `json:"headers"`
	Content harContent  `json:"content"`
}

type harContent struct {
	Text     string `json:"text"`
	Encoding string `json:"encoding"`
}

type harHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var redirectStatuses = map[int]bool{301: true, 302: true, 303: true, 307: true, 308: true}

// parseForest decodes raw HAR JSON and links its entries into a request
// forest. Roots come out in first-seen entry order so repeated captures of
// an unchanged page serialize identically.
func parseForest(raw []byte) ([]*Node, string, error) {
	var doc harDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", err
	}
	title := ""
	if len(doc.Log.Pages) > 0 {
		title = doc.Log.Pages[0].Title
	}
	return buildForest(&doc.Log), title, nil
}

func buildForest(log *harLog) []*Node {
	if len(log.Entries) == 0 {
		return nil
	}

	nodes := make(map[string]*Node, len(log.Entries))
	order := make([]string, 0, len(log.Entries))
	refererOf := make(map[string]string)
	redirectTo := make(map[string]string)

	for i := range log.Entries {
		n := processEntry(&log.Entries[i], nodes, &order)
		if n == nil {
			continue
		}
		if n.Referer != "" {
			refererOf[n.URL] = n.Referer
		}
		if n.IsRedirect && len(n.RedirectChain) > 0 {
			redirectTo[n.URL] = n.RedirectChain[0]
		}
	}

	return link(nodes, order, redirectTo, refererOf)
}

// processEntry folds one HAR entry into the node table. The same URL fetched
// twice keeps a single node: the referer sticks from the first sighting,
// body fields take the latest response, and redirect targets accumulate.
func processEntry(e *harEntry, nodes map[string]*Node, order *[]string) *Node {
	url := e.Request.URL
	if url == "" {
		return nil
	}

	n := nodes[url]
	if n == nil {
		n = &Node{URL: url, Referer: headerValue(e.Request.Headers, "referer")}
		nodes[url] = n
		*order = append(*order, url)
	}

	n.Hash, n.Size = hashAndSize(e.Response.Content.Text, e.Response.Content.Encoding)
	n.ContentLength = contentLength(e.Response.Headers)
	status := e.Response.Status
	n.Status = &status

	if redirectStatuses[status] {
		if loc := headerValue(e.Response.Headers, "location"); loc != "" {
			n.IsRedirect = true
			n.RedirectChain = append(n.RedirectChain, loc)
		}
	}
	return n
}

// link builds parent edges. A redirect source hangs under its target, walked
// transitively to the end of the chain; whatever the chain lands on is then
// attached under its referer, or becomes a root when it has none.
func link(nodes map[string]*Node, order []string, redirectTo, refererOf map[string]string) []*Node {
	var roots []*Node
	placed := make(map[string]bool)

	for _, url := range order {
		current := nodes[url]

		walked := make(map[string]bool)
		for redirectTo[current.URL] != "" && !walked[current.URL] {
			walked[current.URL] = true
			target := nodes[redirectTo[current.URL]]
			if target == nil {
				break
			}
			if !hasChild(target, current) {
				target.Children = append(target.Children, current)
			}
			current = target
		}

		if placed[current.URL] {
			continue
		}
		var parent *Node
		if pu := refererOf[current.URL]; pu != "" {
			parent = nodes[pu]
		}
		if parent != nil {
			if !hasChild(parent, current) {
				parent.Children = append(parent.Children, current)
			}
		} else if !containsNode(roots, current) {
			roots = append(roots, current)
		}
		placed[current.URL] = true
	}
	return roots
}

func hasChild(parent, child *Node) bool {
	return containsNode(parent.Children, child)
}

func containsNode(list []*Node, n *Node) bool {
	for _, c := range list {
		if c == n {
			return true
		}
	}
	return false
}

// hashAndSize digests the body the browser saw. An empty body yields no
// hash and a nil size, which the differ reads as "content unknown".
func hashAndSize(text, encoding string) (string, *int64) {
	if text == "" {
		return "", nil
	}
	var data []byte
	if encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return "", nil
		}
		data = decoded
	} else {
		data = []byte(text)
	}
	sum := sha256.Sum256(data)
	size := int64(len(data))
	return hex.EncodeToString(sum[:]), &size
}

// contentLength reads the response header; absent, zero, or unparseable
// values come back nil.
func contentLength(headers []harHeader) *int64 {
	v := headerValue(headers, "content-length")
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n == 0 {
		return nil
	}
	return &n
}

// headerValue is case-insensitive; a repeated header keeps the last value.
func headerValue(headers []harHeader, name string) string {
	v := ""
	for i := range headers {
		if strings.EqualFold(headers[i].Name, name) {
			v = headers[i].Value
		}
	}
	return v
}
