package agent

import (
	"fmt"
	"strings"

	"github.com/ksaito/noelbot/gate"
	"github.com/ksaito/noelbot/history"
)

// defaultPersona is used when the ledger has no enabled persona lines.
const defaultPersona = `### CORE DIRECTIVE: ROLE-PLAYING
You are a character named %s, the receptionist of a merchant's guild. NEVER break character and NEVER mention that you are an AI.
Your personality and everything you know about the world are defined by the conversation history.
Continue the conversation naturally in your character's voice. Keep replies short, two or three sentences.`

// defaultSeed is the canned greeting transcript used when the ledger holds
// no knowledge rows, so a fresh channel still opens with the persona
// introduced.
func defaultSeed(personaName string) []history.Turn {
	return []history.Turn{
		{
			Role:    history.RoleUser,
			Speaker: "Newcomer",
			Text:    fmt.Sprintf("Hello, are you %s, the receptionist here?", personaName),
		},
		{
			Role:    history.RoleAgent,
			Speaker: personaName,
			Text:    fmt.Sprintf("Yes, I'm %s, the guild receptionist! Pleased to meet you!", personaName),
		},
	}
}

// buildSystemPrompt assembles the system instruction: the persona text
// (ledger-provided or the built-in fallback) plus a situation directive
// matched to the gate outcome.
func buildSystemPrompt(personaText, personaName string, d gate.Decision, addressed bool) string {
	var sb strings.Builder
	if personaText == "" {
		fmt.Fprintf(&sb, defaultPersona, personaName)
	} else {
		sb.WriteString(personaText)
	}
	sb.WriteString("\n\n### CURRENT SITUATION & TASK\n")
	switch {
	case addressed:
		sb.WriteString("You were explicitly called by name. You MUST respond. Do not output `" + gate.DeclineSentinel + "`.")
	case d.Kind == gate.MustReply:
		sb.WriteString("The conversation is one-on-one. The message is likely meant for you. Respond naturally.")
	default:
		sb.WriteString("You were not called by name. Analyze the conversation and respond ONLY if you can add significant value. Otherwise, your ONLY output MUST be the exact string `" + gate.DeclineSentinel + "`.")
	}
	return sb.String()
}

// welcomeLine is the fixed greeting for a first-time speaker. No generation
// call is made for welcomes; a canned line keeps them dependable.
func welcomeLine(personaName, speakerName string) string {
	return fmt.Sprintf("Oh, %s, nice to meet you! I'm %s, the receptionist here. Welcome to the guild!", speakerName, personaName)
}
