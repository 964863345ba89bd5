package prompts

import (
	"regexp"
	"strings"
)

// NameInstruction is appended to each agent's system prompt when name
// choosing is enabled.
const NameInstruction = "At the very start of your first message, choose a name " +
	"for yourself of 2-8 letters and introduce it in the form [name: YourName]."

var namePattern = regexp.MustCompile(`\[name:\s*([A-Za-z]{2,8})\s*\]`)

// ExtractChosenName pulls the self-chosen name out of an agent's first
// message, or "" when none matches.
func ExtractChosenName(firstMessage string) string {
	match := namePattern.FindStringSubmatch(firstMessage)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}
