package protocol

import "strings"

// Command is the ordered list of tokens of one input line.
type Command []string

// ParseCommand splits a line into a Command on single spaces. Consecutive
// spaces produce empty tokens and an empty line produces a single empty
// token, both are still valid commands.
func ParseCommand(line string) Command {
	return Command(strings.Split(line, " "))
}

// Name returns the first token of the command.
func (c Command) Name() string {
	if len(c) == 0 {
		return ""
	}

	return c[0]
}
