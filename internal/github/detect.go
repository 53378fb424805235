package github

import "strings"

// DetectAssetType guesses the marketplace type from repo description, topics
// and the head of the README. Rules are checked in priority order.
func DetectAssetType(description string, topics []string, readme string) string {
	if r := []rune(readme); len(r) > 1500 {
		readme = string(r[:1500])
	}
	text := strings.ToLower(description + " " + strings.Join(topics, " ") + " " + readme)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("channel", "adapter", "bridge", "通信"),
		has("websocket", "gateway") && has("ui", "desktop", "display", "avatar", "companion"),
		has("feishu", "telegram", "discord") && has("bot", "message"),
		has("desktop") && has("tts", "voice", "speech") && has("openclaw", "agent"):
		return "channel"
	case has("trigger", "watcher", "monitor", "监控", "触发"),
		has("webhook"),
		has("fswatch", "inotify", "file watch"):
		return "trigger"
	case has("plugin", "tool", "mcp", "插件"),
		has("api") && has("wrapper"):
		return "plugin"
	case has("config", "preset", "dotfile", "配置"),
		has("soul") && has("persona"):
		return "config"
	case has("template", "starter", "boilerplate", "模板"):
		return "template"
	}
	return "skill"
}
