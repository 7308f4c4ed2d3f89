package pedagogy

import (
	"fmt"
	"strings"
)

// Filter classification labels returned by the topic classifier.
const (
	labelGreeting = "GREETING"
	labelOffTopic = "OFF_TOPIC"
	labelOnTopic  = "ON_TOPIC"
)

// Filter values carried on a Decision.
const (
	FilterGreeting = "greeting"
	FilterOffTopic = "off_topic"
)

const topicFilterSystemPrompt = `You classify a student's message to a coding tutor.
Reply with exactly one word:
GREETING - the message is only a greeting or social pleasantry with no question.
OFF_TOPIC - the message is unrelated to programming, computer science, or the mathematics behind them.
ON_TOPIC - anything else, including vague or partial questions about code or maths.`

const hintLevelSystemPrompt = `You pick how much help a coding tutor should give for a student's question.
The message starts with the student's skill levels (1 weakest, 5 strongest); the same question warrants more help for a weaker student.
Reply with exactly one digit:
1 - a nudge: the student asked a broad or exploratory question.
2 - a guiding question: the student is working on a problem and needs direction.
3 - a concrete hint: the student is stuck on a specific error or step.
4 - a worked explanation: the student is blocked after repeated attempts or asks for a full explanation.`

const difficultySystemPrompt = `You rate the difficulty of a student's question for a coding tutor.
Reply with exactly two digits separated by a comma: programming difficulty, maths difficulty.
Each digit is 1 (trivial) to 5 (advanced). Use 1 for a dimension the question does not touch.`

func greetingResponse(displayName string) string {
	return fmt.Sprintf(
		"Hi %s! I'm your coding tutor. Ask me anything about programming or the maths behind it and we'll work through it together.",
		displayName,
	)
}

func offTopicResponse(displayName string) string {
	return fmt.Sprintf(
		"Sorry %s, that's outside what I can help with. I'm here for programming and maths questions - bring me one of those and let's dig in!",
		displayName,
	)
}

// hintInstructions maps a hint level to the Socratic depth description
// embedded in the tutor system prompt.
var hintInstructions = map[int]string{
	1: "Give only a gentle nudge: ask one question that points the student at the right concept. Never reveal the approach or any code.",
	2: "Ask guiding questions that narrow the problem down. You may name the relevant concept but not the solution.",
	3: "Give a concrete hint: identify the mistake or the next step, with a short illustrative fragment if needed. Do not write the full solution.",
	4: "Explain the solution step by step, including code where it helps, and finish by checking the student's understanding.",
}

// SystemPrompt builds the tutor system prompt for the given hint level and
// rounded student levels.
func SystemPrompt(hintLevel, programmingLevel, mathsLevel int) string {
	if hintLevel < 1 {
		hintLevel = 1
	}
	if hintLevel > 4 {
		hintLevel = 4
	}

	var b strings.Builder
	b.WriteString("You are a patient coding tutor. You teach by guiding, not by handing out answers.\n")
	fmt.Fprintf(&b, "The student's programming level is %d/5 and maths level is %d/5; pitch vocabulary and examples accordingly.\n", programmingLevel, mathsLevel)
	fmt.Fprintf(&b, "Help level %d: %s\n", hintLevel, hintInstructions[hintLevel])
	b.WriteString("Keep answers focused on the student's question. Use fenced code blocks for code.")
	return b.String()
}
