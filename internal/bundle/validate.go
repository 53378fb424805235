package bundle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError describes what a package is missing for its asset type.
type ValidationError struct {
	Message  string            `json:"message"`
	Missing  []string          `json:"missing"`
	Hint     string            `json:"hint,omitempty"`
	Required map[string]string `json:"required,omitempty"`
}

func (e *ValidationError) Error() string { return e.Message }

// Metadata is the caller-supplied subset that extracted values may fill in.
type Metadata struct {
	DisplayName string
	Description string
	Readme      string
}

const (
	present = "✅"
	absent  = "❌"
)

func mark(ok bool) string {
	if ok {
		return present
	}
	return absent
}

type pluginManifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Channels    []any  `json:"channels"`
}

// Validate checks the root files required by assetType and returns meta with
// empty fields filled from the package. Types without rules pass unchanged.
func Validate(assetType string, text map[string]string, meta Metadata) (Metadata, error) {
	out := meta
	var missing []string

	switch assetType {
	case "skill":
		skill, ok := text["SKILL.md"]
		if !ok {
			return meta, &ValidationError{
				Message:  "发布校验失败：缺少 SKILL.md",
				Missing:  []string{"SKILL.md"},
				Hint:     "请创建 SKILL.md，包含 frontmatter（name, description）和技能说明正文。",
				Required: map[string]string{"SKILL.md": absent},
			}
		}
		fm, body := ParseFrontmatter(skill)
		name := FrontmatterName(fm)
		if name == "" {
			missing = append(missing, "SKILL.md frontmatter: name")
		}
		if fm["description"] == "" {
			missing = append(missing, "SKILL.md frontmatter: description")
		}
		if body == "" {
			missing = append(missing, "SKILL.md 正文（frontmatter 之后的内容）")
		}
		if len(missing) > 0 {
			return meta, &ValidationError{
				Message: "SKILL.md 信息不完整",
				Missing: missing,
				Hint:    "SKILL.md 需要 frontmatter（name, description）和正文。",
				Required: map[string]string{
					"SKILL.md":    present,
					"name":        mark(name != ""),
					"description": mark(fm["description"] != ""),
					"body":        mark(body != ""),
				},
			}
		}
		fill(&out, name, fm["description"], body)

	case "plugin", "channel":
		raw, ok := text["openclaw.plugin.json"]
		if !ok {
			return meta, &ValidationError{
				Message: "缺少 openclaw.plugin.json",
				Missing: []string{"openclaw.plugin.json"},
				Hint:    fmt.Sprintf("%s 类型必须包含 openclaw.plugin.json。", assetType),
			}
		}
		var pm pluginManifest
		if err := json.Unmarshal([]byte(raw), &pm); err != nil {
			return meta, &ValidationError{
				Message: "openclaw.plugin.json JSON 格式错误",
				Missing: []string{"valid JSON"},
			}
		}
		if pm.ID == "" {
			missing = append(missing, "openclaw.plugin.json: id")
		}
		if assetType == "channel" && len(pm.Channels) == 0 {
			missing = append(missing, "openclaw.plugin.json: channels 数组")
		}
		readme, hasReadme := text["README.md"]
		if !hasReadme {
			missing = append(missing, "README.md")
		}
		if len(missing) > 0 {
			extra := ""
			if assetType == "channel" {
				extra = " + channels"
			}
			return meta, &ValidationError{
				Message: "发布校验失败：" + strings.Join(missing, "、"),
				Missing: missing,
				Hint:    fmt.Sprintf("%s 需要 openclaw.plugin.json（含 id%s）和 README.md。", assetType, extra),
			}
		}
		title, desc := ReadmeInfo(readme)
		fill(&out, firstNonEmpty(pm.Name, title), firstNonEmpty(pm.Description, desc), readme)
		if out.DisplayName == "" {
			missing = append(missing, "displayName")
		}
		if out.Description == "" {
			missing = append(missing, "description")
		}
		if len(missing) > 0 {
			return meta, &ValidationError{
				Message: "无法提取 " + strings.Join(missing, "、"),
				Missing: missing,
				Hint:    "请在 openclaw.plugin.json 添加 name/description，或确保 README.md 有标题和描述。",
			}
		}

	case "trigger", "experience":
		readme, ok := text["README.md"]
		if !ok {
			return meta, &ValidationError{
				Message: "缺少 README.md",
				Missing: []string{"README.md"},
				Hint:    fmt.Sprintf("%s 类型必须包含 README.md（标题 + 描述段落）。", assetType),
			}
		}
		title, desc := ReadmeInfo(readme)
		if title == "" {
			missing = append(missing, "README.md 标题（# xxx）")
		}
		if desc == "" {
			missing = append(missing, "README.md 描述段落")
		}
		if len(missing) > 0 {
			return meta, &ValidationError{
				Message: "README.md 信息不完整",
				Missing: missing,
				Hint:    "README.md 需要标题行（# 名称）和描述段落。",
				Required: map[string]string{
					"README.md":   present,
					"title":       mark(title != ""),
					"description": mark(desc != ""),
				},
			}
		}
		fill(&out, title, desc, readme)
	}
	return out, nil
}

func fill(m *Metadata, displayName, description, readme string) {
	m.DisplayName = firstNonEmpty(m.DisplayName, displayName)
	m.Description = firstNonEmpty(m.Description, description)
	m.Readme = firstNonEmpty(m.Readme, readme)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
