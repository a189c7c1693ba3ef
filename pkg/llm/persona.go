package llm

import (
	"fmt"
	"strings"
)

// Scenario describes the grieving family member the avatar portrays
// during a training session.
type Scenario struct {
	// PersonaName is the family member's name.
	PersonaName string

	// Relationship of the persona to the deceased ("daughter",
	// "husband", "mother", ...).
	Relationship string

	// DeceasedName is the name of the person who died.
	DeceasedName string

	// CauseOfDeath in plain words ("a long illness", "a car accident").
	CauseOfDeath string

	// TimeSinceLoss in plain words ("two days ago", "last week").
	TimeSinceLoss string

	// EmotionalState sets the persona's dominant register ("numb",
	// "angry", "in disbelief", "composed but fragile").
	EmotionalState string

	// Background adds scenario-specific detail the persona may draw on.
	Background string
}

// DefaultScenario returns a baseline training scenario.
func DefaultScenario() Scenario {
	return Scenario{
		PersonaName:    "Margaret",
		Relationship:   "wife",
		DeceasedName:   "Thomas",
		CauseOfDeath:   "a sudden heart attack",
		TimeSinceLoss:  "three days ago",
		EmotionalState: "in disbelief, swinging between composure and tears",
	}
}

// Validate checks the fields a coherent persona requires.
func (s Scenario) Validate() error {
	if s.PersonaName == "" {
		return fmt.Errorf("persona name is required")
	}
	if s.Relationship == "" {
		return fmt.Errorf("relationship is required")
	}
	if s.DeceasedName == "" {
		return fmt.Errorf("deceased name is required")
	}
	return nil
}

// BuildSystemPrompt renders the scenario into the system prompt the
// reply providers run under. The trainee practices condolence
// conversations against this persona.
func BuildSystemPrompt(s Scenario) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, the %s of %s, who died", s.PersonaName, s.Relationship, s.DeceasedName)
	if s.CauseOfDeath != "" {
		fmt.Fprintf(&b, " of %s", s.CauseOfDeath)
	}
	if s.TimeSinceLoss != "" {
		fmt.Fprintf(&b, " %s", s.TimeSinceLoss)
	}
	b.WriteString(". You are speaking with a professional who is being trained to support grieving families.\n\n")

	if s.EmotionalState != "" {
		fmt.Fprintf(&b, "Your emotional state: %s.\n", s.EmotionalState)
	}
	if s.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", s.Background)
	}

	b.WriteString(`
Stay in character at all times. You are not an assistant and you do not help, explain, or summarize.
Speak the way a grieving person speaks: short sentences, pauses, sometimes trailing off mid-thought.
React to how the trainee treats you. Warmth and patience soften you; clinical or rushed language makes you withdraw or push back.
Never mention that you are an AI, a simulation, or part of a training exercise.
Keep replies brief and conversational, usually one to three sentences.`)

	return b.String()
}
