package memory

// Present returns the message window shown to the model: the last max
// messages in arrival order, preceded by a synthetic system message
// carrying the running summary when one exists. The durable log is
// never modified; with max = 0 the window is the summary header alone.
func Present(state *SessionState, max int) []Message {
	tail := presentTail(state.Messages, max)

	window := make([]Message, 0, len(tail)+1)
	if state.Summary != "" {
		window = append(window, summaryMessage(state.Summary))
	}
	return append(window, tail...)
}

// presentTail selects the last max messages without copying contents.
func presentTail(messages []Message, max int) []Message {
	if max < 0 {
		max = 0
	}
	if len(messages) > max {
		return messages[len(messages)-max:]
	}
	return messages
}

// summaryMessage builds the transient summary header. It carries no id
// or timestamp because it never enters the durable log.
func summaryMessage(summary string) Message {
	return Message{
		Role:    RoleSystem,
		Content: "Summary of the conversation so far: " + summary,
	}
}
