package importer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/memvault/memvault/pkg/types"
)

// ParsedFile is one markdown note, parsed and ready for ingestion.
type ParsedFile struct {
	// Path is the absolute filesystem path to the file.
	Path string

	// RelativePath is the path relative to the import root directory.
	RelativePath string

	// Title comes from the frontmatter, the first H1 heading, or the
	// file name, in that order of preference.
	Title string

	// Content is the memory text to ingest: title heading plus the body
	// with frontmatter and wiki-link brackets stripped.
	Content string

	// FrontMatter holds the raw YAML frontmatter key/value pairs.
	FrontMatter map[string]interface{}

	// Tags is the merged set of frontmatter tags and inline #tags.
	Tags []string

	// Origin is the frontmatter "origin" value, passed through unvalidated.
	// The ingestion pipeline applies the write-origin default and rejects
	// unknown values.
	Origin types.Origin

	// Agent is the frontmatter "agent" value, or "" for owner notes.
	Agent string

	// WikiLinks are the [[...]] references found in the body.
	WikiLinks []WikiLink

	// Timestamp is the frontmatter date, or zero when absent.
	Timestamp time.Time
}

// ParseMarkdownFile parses one markdown note. relativePath appears in
// error messages and import provenance; it never influences parsing.
func ParseMarkdownFile(content []byte, absolutePath, relativePath string) (*ParsedFile, error) {
	text := string(content)

	fm, body, err := splitFrontmatter(text)
	if err != nil {
		return nil, fmt.Errorf("frontmatter parse error in %s: %w", relativePath, err)
	}

	title := extractString(fm, "title", "")
	if title == "" {
		title = extractH1(body)
	}
	if title == "" {
		title = titleFromPath(relativePath)
	}

	tags := mergeTags(extractTags(fm), extractInlineTags(body))
	wikiLinks := ExtractWikiLinks(body)

	return &ParsedFile{
		Path:         absolutePath,
		RelativePath: relativePath,
		Title:        title,
		Content:      buildContent(title, StripWikiLinks(body), tags),
		FrontMatter:  fm,
		Tags:         tags,
		Origin:       types.Origin(extractString(fm, "origin", "")),
		Agent:        extractString(fm, "agent", ""),
		WikiLinks:    wikiLinks,
		Timestamp:    extractTimestamp(fm),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters)
// from the markdown body. Returns an empty map and the full text when no
// frontmatter is found.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		// No closing delimiter; treat the entire file as body.
		return map[string]interface{}{}, text, nil
	}

	fmText := strings.Join(lines[1:closeIdx], "\n")
	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return map[string]interface{}{}, text, fmt.Errorf("invalid YAML: %w", err)
	}

	body := strings.Join(lines[closeIdx+1:], "\n")
	return fm, body, nil
}

// titleFromPath derives a readable title from the file name.
func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// extractH1 returns the text of the first ATX heading (# ...) in the body.
func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// extractTags reads frontmatter tags. Handles both list and
// comma-separated string forms.
func extractTags(fm map[string]interface{}) []string {
	raw, ok := fm["tags"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []interface{}:
		var tags []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		if v == "" {
			return nil
		}
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	}
	return nil
}

// extractTimestamp reads a date field from frontmatter, trying several
// common layouts.
func extractTimestamp(fm map[string]interface{}) time.Time {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
	}

	for _, key := range []string{"date", "created", "created_at", "updated_at"} {
		raw, ok := fm[key]
		if !ok {
			continue
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case time.Time:
			return v
		default:
			s = fmt.Sprintf("%v", v)
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// extractString pulls a string value from frontmatter by key with a default.
func extractString(fm map[string]interface{}, key, defaultVal string) string {
	v, ok := fm[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return defaultVal
}

// inlineTagRe finds #hashtag patterns in body text.
var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// extractInlineTags finds #hashtag patterns in body text.
func extractInlineTags(body string) []string {
	matches := inlineTagRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool)
	var tags []string
	for _, m := range matches {
		tag := strings.TrimSpace(m[1])
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// mergeTags combines two tag slices deduplicating by lowercase value.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, tag := range append(a, b...) {
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			result = append(result, tag)
		}
	}
	return result
}

// buildContent assembles the memory text handed to the ingestion
// pipeline. It avoids prepending a duplicate title heading when the body
// already opens with a matching H1.
func buildContent(title, body string, tags []string) string {
	body = strings.TrimSpace(body)

	var parts []string
	if title != "" && !strings.HasPrefix(body, "# ") {
		parts = append(parts, fmt.Sprintf("# %s", title))
	}
	if body != "" {
		parts = append(parts, body)
	}
	if len(tags) > 0 {
		parts = append(parts, fmt.Sprintf("Tags: %s", strings.Join(tags, ", ")))
	}
	return strings.Join(parts, "\n\n")
}
