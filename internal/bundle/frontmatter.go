package bundle

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontmatterRe = regexp.MustCompile(`(?s)^---[ \t]*\r?\n(.*?)\r?\n---[ \t]*\r?\n(.*)$`)

// ParseFrontmatter splits a leading "---" YAML block from content. Scalar
// values are stringified; a block that is not valid YAML yields no fields
// but is still stripped from the body.
func ParseFrontmatter(content string) (map[string]string, string) {
	m := frontmatterRe.FindStringSubmatch(content)
	if m == nil {
		return map[string]string{}, content
	}
	body := strings.TrimSpace(m[2])

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(m[1]), &raw); err != nil {
		return map[string]string{}, body
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			fields[k] = strings.TrimSpace(val)
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			fields[k] = strings.Join(parts, ",")
		case map[string]any:
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return fields, body
}

// FrontmatterName is the display name declared in a SKILL.md header.
func FrontmatterName(fm map[string]string) string {
	for _, k := range []string{"displayName", "display-name", "name"} {
		if fm[k] != "" {
			return fm[k]
		}
	}
	return ""
}

// ReadmeInfo returns the first "# " heading and the first plain paragraph line after it.
func ReadmeInfo(content string) (title, description string) {
	for _, line := range strings.Split(content, "\n") {
		t := strings.TrimSpace(line)
		if title == "" {
			if strings.HasPrefix(t, "# ") {
				title = strings.TrimSpace(t[2:])
			}
			continue
		}
		if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "---") || strings.HasPrefix(t, ">") {
			continue
		}
		return title, t
	}
	return title, ""
}

// SkillReadme returns the SKILL.md body with its front-matter removed, or "".
func (b *Bundle) SkillReadme() string {
	p, ok := b.Find("SKILL.md")
	if !ok {
		return ""
	}
	_, body := ParseFrontmatter(b.Text[p])
	return body
}
