package ai

import "unicode/utf8"

// MaxContentLength is the largest message content accepted, in characters.
const MaxContentLength = 100_000

// ValidateMessages checks a message list before any provider is contacted.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return ValidationError("messages must not be empty")
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return ValidationError("message %d: invalid role %q", i, m.Role)
		}
		if m.Content == "" {
			return ValidationError("message %d: content must not be empty", i)
		}
		if n := utf8.RuneCountInString(m.Content); n > MaxContentLength {
			return ValidationError("message %d: content is %d characters, limit is %d", i, n, MaxContentLength)
		}
	}
	return nil
}

// SplitSystem separates system messages from the conversation. Multiple
// system messages are joined with a blank line.
func SplitSystem(msgs []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
