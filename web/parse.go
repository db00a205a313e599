package web

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of the named attribute of n, or "" if n does not
// carry it.
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// ForEachNode applies a function to the given node and each of its
// descendants.
func ForEachNode(node *html.Node, fn func(n *html.Node) error) error {
	var iter func(n *html.Node) error
	iter = func(n *html.Node) error {
		err := fn(n)
		if err != nil {
			return err
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			err := iter(c)
			if err != nil {
				return err
			}
		}

		return nil
	}

	return iter(node)
}

// audioMetaProperties are the Open Graph properties that point at a page's
// audio stream.
var audioMetaProperties = map[string]bool{
	"og:audio":            true,
	"og:audio:url":        true,
	"og:audio:secure_url": true,
}

// EmbeddedMediaURLs returns the urls of all audio embedded in the given html
// document, in priority order: Open Graph audio metadata first, then
// <audio src> and <source src> elements, each in document order. Urls are
// returned as written and may be relative.
func EmbeddedMediaURLs(doc *html.Node) []string {
	var meta, embedded []string
	seen := map[string]bool{}

	add := func(dst *[]string, u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		*dst = append(*dst, u)
	}

	ForEachNode(doc, func(n *html.Node) error {
		if n.Type != html.ElementNode {
			return nil
		}

		switch n.Data {
		case "meta":
			if audioMetaProperties[Attr(n, "property")] {
				add(&meta, Attr(n, "content"))
			}
		case "audio", "source":
			add(&embedded, Attr(n, "src"))
		}
		return nil
	})

	return append(meta, embedded...)
}
