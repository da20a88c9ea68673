package importer

import (
	"regexp"
	"strings"
)

// wikilinkRe matches [[Target]] and [[Target|alias]] links.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// WikiLink is a single [[...]] reference found in a note body.
type WikiLink struct {
	// Target is the linked name, e.g. "Pizza Palace" in [[Pizza Palace|the usual spot]].
	Target string

	// Alias is the display text after the pipe, or "" when absent.
	Alias string

	// Raw is the full matched text including brackets.
	Raw string
}

// ExtractWikiLinks returns the wiki links in body, deduplicated by
// case-insensitive target. The first spelling of each target wins.
func ExtractWikiLinks(body string) []WikiLink {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool)
	var links []WikiLink
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		if target == "" {
			continue
		}
		key := strings.ToLower(target)
		if seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, WikiLink{
			Target: target,
			Alias:  strings.TrimSpace(m[2]),
			Raw:    m[0],
		})
	}
	return links
}

// StripWikiLinks replaces every wiki link in body with its display text:
// the alias when one is given, the target otherwise. The returned body
// reads as plain prose, which is what the ingestion pipeline expects.
func StripWikiLinks(body string) string {
	return wikilinkRe.ReplaceAllStringFunc(body, func(raw string) string {
		m := wikilinkRe.FindStringSubmatch(raw)
		if m == nil {
			return raw
		}
		if alias := strings.TrimSpace(m[2]); alias != "" {
			return alias
		}
		return strings.TrimSpace(m[1])
	})
}
