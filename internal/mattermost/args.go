package mattermost

import "strings"

// SplitCommand separates the command word of a slash command line from its
// arguments, e.g. `/question-create "Best colour" "Red" "Blue"`.
func SplitCommand(line string) (string, []string) {
	line = strings.TrimSpace(line)
	end := strings.IndexAny(line, " \t\n\r")
	if end < 0 {
		return line, nil
	}
	return line[:end], ParseCommandArgs(line[end+1:])
}

// ParseCommandArgs splits command arguments on whitespace. Text enclosed in
// double quotes is kept as one argument.
func ParseCommandArgs(text string) []string {
	if text == "" {
		return nil
	}

	var args []string
	var current strings.Builder
	inQuotes := false

	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		char := text[i]

		switch char {
		case '"':
			inQuotes = !inQuotes
			if !inQuotes {
				flush()
			}
		case ' ', '\t', '\n', '\r':
			if inQuotes {
				current.WriteByte(char)
			} else {
				flush()
			}
		default:
			current.WriteByte(char)
		}
	}
	flush()

	return args
}
