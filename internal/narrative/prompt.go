package narrative

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Yates-Labs/kalki/internal/engine"
)

const (
	// DebateReferenceChars bounds each reference argument quoted in a
	// debate evaluation prompt.
	DebateReferenceChars = 400

	// StoryExampleChars bounds each example story quoted in a story prompt.
	StoryExampleChars = 500

	// MinStoryWords is the lower bound on requested story length.
	MinStoryWords = 100
)

// ChatMessages lays out a system prompt, prior turns and the new user input
// as a chat sequence.
func ChatMessages(system string, history []engine.ChatTurn, input string) []Message {
	msgs := make([]Message, 0, 2*len(history)+2)
	if system != "" {
		msgs = append(msgs, SystemMessage(system))
	}
	for _, turn := range history {
		msgs = append(msgs, UserMessage(turn.User), AssistantMessage(turn.AI))
	}
	return append(msgs, UserMessage(input))
}

// ConflictSystemPrompt frames the conflict-resolution simulation.
func ConflictSystemPrompt(conflict engine.ConflictType, role engine.Role, faction engine.Faction, tension int) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are simulating a conflict resolution scenario for %s. ", conflict.Context()))
	b.WriteString(fmt.Sprintf("The user is playing as a %s %s. ", role, faction.Description()))
	b.WriteString(fmt.Sprintf("Current tension level is %d/100. ", tension))
	b.WriteString("Provide realistic consequences to the user's actions, detailing how they affect the conflict. ")
	b.WriteString("Include decisions other parties might make in response. ")
	b.WriteString("If the user makes choices that would realistically escalate tensions, reflect that in your response. ")
	b.WriteString("If they make de-escalatory choices, show progress toward resolution. ")
	b.WriteString("Maintain historical accuracy while allowing for counterfactual scenarios based on user choices. ")
	b.WriteString("Important: Include both positive and negative developments as appropriate to the context - not all conflicts resolve easily, ")
	b.WriteString("and diplomatic efforts can backfire or be undermined by external factors.")

	return b.String()
}

// KalkiDraftPrompt asks the evaluator for the four rubric scores in the
// structured `LABEL: n` layout. When explain is set the model is also asked
// to justify each score.
func KalkiDraftPrompt(transcript string, explain bool) string {
	var b strings.Builder

	b.WriteString("Evaluate the user's conflict resolution approach based on the KALKI scoring system:\n\n")
	b.WriteString("1. EMPATHY (0-30): Did the user consider multiple perspectives? Score higher if they demonstrated understanding of all sides.\n")
	b.WriteString("   - Low (0-10): Showed no understanding of opposing viewpoints\n")
	b.WriteString("   - Medium (11-20): Some acknowledgment of other perspectives\n")
	b.WriteString("   - High (21-30): Deep understanding of multiple viewpoints\n\n")
	b.WriteString("2. DIPLOMATIC SKILL (0-30): Did the user promote peaceful negotiation? Score higher for constructive dialogue and compromise.\n")
	b.WriteString("   - Low (0-10): Confrontational or inflexible approach\n")
	b.WriteString("   - Medium (11-20): Some attempt at negotiation but with limitations\n")
	b.WriteString("   - High (21-30): Skilled diplomacy with concrete proposals\n\n")
	b.WriteString("3. HISTORICAL ACCURACY (0-20): Were the user's decisions informed by real-world lessons? Score higher for realistic approaches.\n")
	b.WriteString("   - Low (0-7): Historically inaccurate or unrealistic\n")
	b.WriteString("   - Medium (8-14): Generally aligned with historical context\n")
	b.WriteString("   - High (15-20): Sophisticated understanding of historical dynamics\n\n")
	b.WriteString("4. ETHICAL BALANCE (0-20): Did the user avoid bias and maintain ethical principles? Score higher for fair solutions.\n")
	b.WriteString("   - Low (0-7): One-sided or ethically questionable approach\n")
	b.WriteString("   - Medium (8-14): Some ethical considerations but with gaps\n")
	b.WriteString("   - High (15-20): Strong ethical framework with consistent principles\n\n")

	if explain {
		b.WriteString("Based on the conversation below, provide numeric scores for each category and a brief explanation of each score.\n\n")
	} else {
		b.WriteString("Based on the conversation below, provide numeric scores for each category.\n\n")
	}
	b.WriteString(strings.TrimRight(transcript, "\n"))
	b.WriteString("\n\n")

	b.WriteString("IMPORTANT: Be critical and realistic in your assessment. Not all approaches succeed, and failed attempts should receive appropriate scores.\n")
	b.WriteString("Respond in this exact format (with ONLY the scores and no additional text):\n")
	for _, c := range engine.Categories {
		b.WriteString(fmt.Sprintf("%s: [score]\n", c.DraftLabel()))
	}

	return b.String()
}

// EvaluationPrompt is the whole-conversation rubric prompt, optionally
// prefixed with the conflict being discussed.
func EvaluationPrompt(history []engine.ChatTurn, conflict engine.ConflictType) string {
	prompt := KalkiDraftPrompt(engine.Transcript(history), false)
	if conflict == "" {
		return prompt
	}
	return fmt.Sprintf("For context, this conversation is about %s.\n\n%s", conflict.Context(), prompt)
}

// RolePlaySetting describes the character the model plays.
type RolePlaySetting struct {
	Role           string
	Culture        string
	Era            string
	Tone           string
	Language       string
	IncludeEmotion bool
}

// RolePlaySystemPrompt frames a role-play conversation.
func RolePlaySystemPrompt(s RolePlaySetting) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are role-playing as a %s from the %s culture, ", s.Role, s.Culture))
	b.WriteString(fmt.Sprintf("during the %s era. You respond based on that role only. ", s.Era))
	b.WriteString(fmt.Sprintf("Maintain historical and cultural accuracy. Use a %s tone and write in %s. ", s.Tone, s.Language))
	if s.IncludeEmotion {
		b.WriteString("Include emotional and reflective thoughts as well.")
	}

	return strings.TrimSpace(b.String())
}

// ActionsPrompt asks for engine.RolePlayMenuSize next actions given the
// conversation so far and the latest scene.
func ActionsPrompt(history []engine.ChatTurn, scene string) string {
	var b strings.Builder

	b.WriteString("Based on the following role-playing conversation and the current scene, ")
	b.WriteString(fmt.Sprintf("suggest %d specific, contextually relevant actions the user could take next. ", engine.RolePlayMenuSize))
	b.WriteString("These should be clear, concise phrases (5-10 words each) that would make sense given the narrative context.\n\n")
	b.WriteString(fmt.Sprintf("Conversation so far:\n%s\n\n", engine.Transcript(history)))
	b.WriteString(fmt.Sprintf("Current scene:\n%s\n\n", scene))
	b.WriteString(fmt.Sprintf("Generate %d contextually relevant actions the user could take next. ", engine.RolePlayMenuSize))
	b.WriteString("Format each action on a new line with no numbering or bullets. ")
	b.WriteString("Each action should be a specific, clear phrase that makes sense in the current context.")

	return b.String()
}

// DebateTopicPrompt requests a fresh ethical dilemma.
func DebateTopicPrompt() string {
	return "Generate a culturally sensitive real-world ethical dilemma that sparks debate. " +
		"The topic should encourage players to take sides and argue with historical, ethical, or empathetic reasoning."
}

// DebateSystemPrompt frames the model as a debate partner on dilemma.
func DebateSystemPrompt(dilemma string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are an AI debate partner discussing the following ethical dilemma:\n%s\n\n", dilemma))
	b.WriteString("Maintain a thoughtful, challenging stance in the debate. ")
	b.WriteString("Consider ethical principles, cultural contexts, and historical precedents in your reasoning.")

	return b.String()
}

// DebateCriteria are scored 0-10 by the debate evaluator, in prompt order.
var DebateCriteria = []string{
	"Historical accuracy",
	"Ethical reasoning",
	"Cultural empathy",
	"Logical structure",
	"Evidence-based reasoning",
}

// DebateEvaluationPrompt grades one debate response against the dilemma,
// quoting retrieved reference arguments when available.
func DebateEvaluationPrompt(dilemma, response string, references []ContextChunk) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Debate Prompt:\n%s\n\n", dilemma))
	b.WriteString(fmt.Sprintf("Debate Response:\n%s\n\n", response))

	if len(references) > 0 {
		b.WriteString("Here are reference arguments for context:\n")
		for i, ref := range sortByScore(references) {
			b.WriteString(fmt.Sprintf("Example %d:\n%s...\n\n", i+1, truncate(ref.Text, DebateReferenceChars)))
		}
	}

	b.WriteString("Evaluate the debate based on:\n")
	for i, c := range DebateCriteria {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
	}
	b.WriteString("\nGive a short evaluation.\n")
	b.WriteString("Then provide a score from 0-10 for each criteria.\n")
	b.WriteString("Finally, suggest one improvement idea.\n\n")
	b.WriteString("Format your answer exactly as:\n")
	b.WriteString("Evaluation: <text>\n")
	b.WriteString("Scores:\n")
	for _, c := range DebateCriteria {
		b.WriteString(fmt.Sprintf("%s: <number>\n", c))
	}
	b.WriteString("Suggestion: <text>")

	return b.String()
}

// StoryBrief is what a generated story must satisfy.
type StoryBrief struct {
	Culture   string
	Theme     string
	Tone      string
	Language  string
	MaxLength int
}

// MinWords is the lower word bound requested from the model.
func (s StoryBrief) MinWords() int {
	return max(MinStoryWords, s.MaxLength/2)
}

// StoryPrompt builds the story request, quoting retrieved examples as
// inspiration.
func StoryPrompt(brief StoryBrief, examples []ContextChunk) string {
	var b strings.Builder

	if len(examples) > 0 {
		b.WriteString("Here are some examples of similar stories for inspiration (DO NOT copy these directly):\n\n")
		for i, ex := range sortByScore(examples) {
			b.WriteString(fmt.Sprintf("Example %d:\n%s...\n\n", i+1, truncate(ex.Text, StoryExampleChars)))
		}
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("Generate an authentic and engaging story from %s culture. ", brief.Culture))
	if brief.Theme != "" {
		b.WriteString(fmt.Sprintf("Theme: %s. ", brief.Theme))
	}
	b.WriteString(fmt.Sprintf("Use a %s tone. ", brief.Tone))
	b.WriteString(fmt.Sprintf("Ensure the story is between %d and %d words long. ", brief.MinWords(), brief.MaxLength))
	b.WriteString(fmt.Sprintf("Write the story in %s. ", brief.Language))
	b.WriteString("Make this story unique and different from the examples.")

	return b.String()
}

// AnalysisMessages asks the evaluator to score a user's logged responses
// with the descriptive rubric used by results aggregation.
func AnalysisMessages(responses []string) []Message {
	var sys strings.Builder
	sys.WriteString("You are a KALKI scoring system expert. Analyze the user's roleplay responses and provide scores based on:\n\n")
	sys.WriteString("1. Empathy (0-30): Did the user consider multiple perspectives?\n")
	sys.WriteString("2. Diplomatic Skill (0-30): Did the responses promote peaceful negotiation?\n")
	sys.WriteString("3. Historical Accuracy (0-20): Were the responses based on real-world historical lessons?\n")
	sys.WriteString("4. Ethical Balance (0-20): Did the user avoid bias and consider ethical implications?\n\n")
	sys.WriteString("Provide numerical scores and specific feedback for each category. Be fair and objective.")

	var user strings.Builder
	user.WriteString("Here are the user's roleplay responses to analyze:\n\n")
	for i, r := range responses {
		user.WriteString(fmt.Sprintf("Response %d:\n%s\n\n", i+1, strings.TrimSpace(r)))
	}
	user.WriteString("Provide KALKI scores and feedback.")

	return []Message{SystemMessage(sys.String()), UserMessage(user.String())}
}

// ImprovementMessages asks for concrete suggestions given an analysis.
func ImprovementMessages(analysis string) []Message {
	return []Message{
		SystemMessage("Based on the KALKI scores, provide 3-5 specific suggestions for improvement."),
		UserMessage(fmt.Sprintf("KALKI Analysis: %s\n\nProvide concise improvement suggestions.", analysis)),
	}
}

// SummaryMessages asks for a short encouraging performance summary.
func SummaryMessages(total int, analysis string) []Message {
	return []Message{
		SystemMessage("Create a brief, encouraging summary of the user's KALKI performance."),
		UserMessage(fmt.Sprintf("Total Score: %d/100\nAnalysis: %s", total, analysis)),
	}
}

// sortByScore orders chunks by relevance, highest first, without mutating
// the input.
func sortByScore(chunks []ContextChunk) []ContextChunk {
	sorted := make([]ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	return sorted
}
