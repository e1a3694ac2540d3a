package extract

import (
	"strings"

	"golang.org/x/net/html"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// ExtractHTMLText walks the parsed DOM collecting visible text nodes,
// skipping <script>/<style> subtrees — the "HTML item text extraction"
// component spec.md §4.3 calls for, adopted from the pack's use of
// golang.org/x/net/html for exactly this kind of DOM-walk extraction
// rather than a regex tag-stripper.
func ExtractHTMLText(r *strings.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", gatewayerrors.Wrap(gatewayerrors.ErrCodeExtractFailed, err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), nil
}
