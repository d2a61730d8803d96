package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/akkash/testbro-sub001/profile"
)

// maxPromptContext bounds the markdown page context embedded in the prompt.
const maxPromptContext = 4000

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
}

var promptPolicy = bluemonday.UGCPolicy()

// buildPrompt assembles the single completion request: the original
// element profile plus a markdown rendition of the live page, asking for a
// strict JSON array of replacement candidates.
func buildPrompt(original *profile.ElementProfile, pageHTML, testName string) string {
	profJSON, _ := json.MarshalIndent(original, "", "  ")

	pageContext := pageMarkdown(pageHTML)
	if len(pageContext) > maxPromptContext {
		pageContext = pageContext[:maxPromptContext]
	}

	var b strings.Builder
	b.WriteString("A browser UI test step failed because its CSS selector no longer matches any element.\n")
	if testName != "" {
		fmt.Fprintf(&b, "Test step: %s\n", testName)
	}
	b.WriteString("\nProfile of the element as it used to be:\n```json\n")
	b.Write(profJSON)
	b.WriteString("\n```\n\nCurrent page content (markdown, truncated):\n")
	b.WriteString(pageContext)
	b.WriteString("\n\nPropose up to 3 replacement CSS selectors for the same logical element on the current page. ")
	b.WriteString("Respond with ONLY a JSON array, no prose:\n")
	b.WriteString(`[{"selector": "...", "confidence": 0.0, "reasoning": "..."}]`)
	return b.String()
}

// pageMarkdown converts page HTML into compact markdown: scripts, styles
// and hidden nodes are pruned, the rest is sanitised and converted.
func pageMarkdown(pageHTML string) string {
	pruned := pruneHTML(pageHTML)
	clean := promptPolicy.Sanitize(pruned)
	md, err := htmltomarkdown.ConvertString(clean)
	if err != nil {
		// Fall back to the sanitised HTML; the model copes.
		return clean
	}
	return strings.TrimSpace(md)
}

// pruneHTML drops script/style/noscript subtrees and nodes hidden via
// inline style, then re-renders the document.
func pruneHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	pruneNode(doc)
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return s
	}
	return buf.String()
}

func pruneNode(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if shouldDrop(c) {
			n.RemoveChild(c)
			continue
		}
		pruneNode(c)
	}
}

func shouldDrop(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Iframe:
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}
