package agent

import (
	"regexp"
	"strings"
)

// actionKeywords are the command prefixes of the simulator's action set,
// used when a response has no "Action:" section.
var actionKeywords = []string{
	"look around", "look at", "look in", "go to", "teleport to",
	"pick up", "put down", "move", "focus on",
	"open", "close", "pour", "dunk", "mix",
	"activate", "deactivate", "use", "connect", "disconnect", "read",
	"eat", "flush", "wait", "inventory", "task",
}

var (
	thinkLabel      = regexp.MustCompile(`(?i)think(?:ing)?:\s*`)
	actionLabel     = regexp.MustCompile(`(?i)action:\s*`)
	actionStop      = regexp.MustCompile(`(?i)think|thought`)
	trailingComment = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
)

// ParseResponse extracts the thought and the action from a model response
// in the "Think: ... Action: ..." format. Without an Action section the
// first line starting with a known command is used, then the last
// non-empty line. Trailing parenthetical remarks are stripped from the
// action.
func ParseResponse(response string) (thought, action string) {
	if loc := thinkLabel.FindStringIndex(response); loc != nil {
		rest := response[loc[1]:]
		if end := actionLabel.FindStringIndex(rest); end != nil {
			rest = rest[:end[0]]
		}
		thought = strings.TrimSpace(rest)
	}

	if loc := actionLabel.FindStringIndex(response); loc != nil {
		rest := response[loc[1]:]
		if end := actionStop.FindStringIndex(rest); end != nil {
			rest = rest[:end[0]]
		}
		line, _, _ := strings.Cut(strings.TrimSpace(rest), "\n")
		action = cleanAction(line)
	}
	if action != "" {
		return thought, action
	}

	lines := strings.Split(response, "\n")
	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, kw := range actionKeywords {
			if strings.HasPrefix(lower, kw) {
				return thought, cleanAction(line)
			}
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return thought, cleanAction(line)
		}
	}
	return thought, ""
}

func cleanAction(s string) string {
	return strings.TrimSpace(trailingComment.ReplaceAllString(strings.TrimSpace(s), ""))
}
