package convo

import "strings"

// Trigger is a recognized worker command.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerStart
	TriggerDone
	TriggerProblem
)

// Synonym tables for the three recognized replies. Matching is on the whole
// trimmed message, case-insensitive — a command word buried in a sentence is
// a comment, not a command.
var (
	startWords   = []string{"start", "ok", "yes", "begin", "go", "👍"}
	doneWords    = []string{"done", "complete", "completed", "finished", "finish", "✅"}
	problemWords = []string{"problem", "issue", "help", "stuck", "❌"}
)

// classify maps free text to a trigger. Returns TriggerNone for anything
// that is not a recognized command word.
func classify(text string) Trigger {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, "!.")
	switch {
	case matchWord(t, startWords):
		return TriggerStart
	case matchWord(t, doneWords):
		return TriggerDone
	case matchWord(t, problemWords):
		return TriggerProblem
	}
	return TriggerNone
}

func matchWord(t string, words []string) bool {
	for _, w := range words {
		if t == w {
			return true
		}
	}
	return false
}

// actionTrigger maps a button action to its trigger.
func actionTrigger(action string) Trigger {
	switch action {
	case "start":
		return TriggerStart
	case "done":
		return TriggerDone
	case "problem":
		return TriggerProblem
	}
	return TriggerNone
}
