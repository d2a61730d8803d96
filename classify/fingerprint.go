package classify

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint generates a structural hash of the DOM: tags + depth,
// ignoring text content and attribute values. Two renders of the same page
// structure hash identically even when content differs, so a changed
// fingerprint signals a structural UI change rather than a data change.
func Fingerprint(html []byte) string {
	skeleton := extractSkeleton(html)
	h := sha256.Sum256([]byte(skeleton))
	return fmt.Sprintf("%x", h[:16]) // 128-bit fingerprint is enough
}

// extractSkeleton strips all text content and attributes, leaving only
// the tag structure with nesting depth.
func extractSkeleton(html []byte) string {
	var b strings.Builder
	inTag := false
	inAttr := false
	tagName := strings.Builder{}
	isClosing := false
	depth := 0

	for i := 0; i < len(html); i++ {
		ch := html[i]

		if ch == '<' {
			inTag = true
			inAttr = false
			tagName.Reset()
			isClosing = false
			if i+1 < len(html) && html[i+1] == '/' {
				isClosing = true
				i++ // skip /
			}
			continue
		}

		if inTag {
			if ch == '>' {
				inTag = false
				name := strings.ToLower(tagName.String())
				if name == "" || name == "!" || name[0] == '?' {
					continue
				}
				if isVoidElement(name) {
					fmt.Fprintf(&b, "%d:%s;", depth, name)
					continue
				}
				if isClosing {
					depth--
					if depth < 0 {
						depth = 0
					}
				} else {
					fmt.Fprintf(&b, "%d:%s;", depth, name)
					depth++
				}
			} else if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
				inAttr = true
			} else if !inAttr {
				tagName.WriteByte(ch)
			}
		}
	}

	return b.String()
}

func isVoidElement(name string) bool {
	switch name {
	case "area", "base", "br", "col", "embed", "hr", "img", "input",
		"link", "meta", "param", "source", "track", "wbr":
		return true
	}
	return false
}
