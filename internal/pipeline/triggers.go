package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CommandKind classifies an inbound text.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandStatus
	CommandSearch
)

// Command is a recognized chat command.
type Command struct {
	Kind  CommandKind
	Query string
}

// Triggers is the fixed command vocabulary.
type Triggers struct {
	// Status phrases must match the whole trimmed text.
	Status []string
	// SearchPrefixes must be followed by whitespace and a query.
	SearchPrefixes []string
}

// DefaultTriggers is the Hebrew vocabulary of the bot.
var DefaultTriggers = Triggers{
	Status:         []string{"בדיקה"},
	SearchPrefixes: []string{"חפשי לי", "חפש לי"},
}

// Parse matches text against the vocabulary. Unrecognized text yields CommandNone.
func (t Triggers) Parse(text string) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{}
	}
	for _, phrase := range t.Status {
		if text == phrase {
			return Command{Kind: CommandStatus}
		}
	}
	for _, prefix := range t.SearchPrefixes {
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		rest := text[len(prefix):]
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsSpace(r) {
			continue
		}
		if query := strings.TrimSpace(rest); query != "" {
			return Command{Kind: CommandSearch, Query: query}
		}
	}
	return Command{}
}
