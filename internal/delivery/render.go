// internal/delivery/render.go
package delivery

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// RenderText prepares a server reply for text-only front-ends. Replies that
// contain HTML markup are converted to markdown; plain text passes through
// unchanged. Conversion failures fall back to the original reply.
func RenderText(reply string) string {
	if !looksLikeHTML(reply) {
		return reply
	}
	md, err := htmltomarkdown.ConvertString(reply)
	if err != nil {
		return reply
	}
	return strings.TrimSpace(md)
}

// looksLikeHTML is a cheap heuristic: a closing tag or common block-level
// opening tag is enough to route through the converter.
func looksLikeHTML(s string) bool {
	if !strings.Contains(s, "<") {
		return false
	}
	for _, tag := range []string{"</", "<p>", "<p ", "<div", "<br", "<ul", "<ol", "<pre", "<h1", "<h2", "<h3", "<a "} {
		if strings.Contains(s, tag) {
			return true
		}
	}
	return false
}

// Chunk splits a reply into pieces no longer than limit runes, preferring
// paragraph then line boundaries. Transports with hard message size caps
// send each chunk separately.
func Chunk(reply string, limit int) []string {
	if limit <= 0 || len([]rune(reply)) <= limit {
		return []string{reply}
	}

	var chunks []string
	rest := reply
	for len([]rune(rest)) > limit {
		runes := []rune(rest)
		window := string(runes[:limit])

		cut := strings.LastIndex(window, "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, "\n")
		}
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}

		chunks = append(chunks, strings.TrimRight(rest[:cut], "\n "))
		rest = strings.TrimLeft(rest[cut:], "\n ")
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
