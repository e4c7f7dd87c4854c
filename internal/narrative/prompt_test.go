package narrative

import (
	"strings"
	"testing"

	"github.com/Yates-Labs/kalki/internal/engine"
)

func TestChatMessages_Order(t *testing.T) {
	history := []engine.ChatTurn{
		{User: "I call for talks", AI: "Both sides hesitate."},
		{User: "I offer guarantees", AI: "A delegate nods."},
	}

	msgs := ChatMessages("sys", history, "Let us sign")
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}

	wantRoles := []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser, RoleAssistant, RoleUser}
	for i, r := range wantRoles {
		if msgs[i].Role != r {
			t.Errorf("message %d: expected role %s, got %s", i, r, msgs[i].Role)
		}
	}
	if msgs[5].Content != "Let us sign" {
		t.Errorf("last message should be the new input, got %q", msgs[5].Content)
	}

	if got := ChatMessages("", nil, "hi"); len(got) != 1 || got[0].Role != RoleUser {
		t.Errorf("expected lone user message without system prompt, got %+v", got)
	}
}

func TestConflictSystemPrompt(t *testing.T) {
	prompt := ConflictSystemPrompt(engine.ConflictNorthernIreland, engine.RoleMediator, engine.FactionNeutral, 73)

	for _, want := range []string{
		"the Northern Ireland conflict (The Troubles)",
		"playing as a mediator as a neutral third party",
		"Current tension level is 73/100.",
		"diplomatic efforts can backfire",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestKalkiDraftPrompt(t *testing.T) {
	transcript := engine.Transcript([]engine.ChatTurn{{User: "We need a ceasefire", AI: "The guns fall silent."}})

	prompt := KalkiDraftPrompt(transcript, true)
	if !strings.Contains(prompt, "User: We need a ceasefire\nAI: The guns fall silent.\n\nIMPORTANT") {
		t.Error("transcript not embedded before the closing instructions")
	}
	if !strings.Contains(prompt, "a brief explanation of each score") {
		t.Error("explain variant should ask for explanations")
	}
	if !strings.HasSuffix(prompt, "EMPATHY: [score]\nDIPLOMATIC_SKILL: [score]\nHISTORICAL_ACCURACY: [score]\nETHICAL_BALANCE: [score]\n") {
		t.Errorf("unexpected response format block:\n%s", prompt[len(prompt)-120:])
	}

	if strings.Contains(KalkiDraftPrompt(transcript, false), "explanation") {
		t.Error("score-only variant should not ask for explanations")
	}
}

func TestEvaluationPrompt_ContextPrefix(t *testing.T) {
	history := []engine.ChatTurn{{User: "a", AI: "b"}}

	withCtx := EvaluationPrompt(history, engine.ConflictRwanda)
	if !strings.HasPrefix(withCtx, "For context, this conversation is about the ethnic tensions in Rwanda") {
		t.Errorf("missing context prefix: %q", withCtx[:80])
	}

	without := EvaluationPrompt(history, "")
	if !strings.HasPrefix(without, "Evaluate the user's conflict resolution approach") {
		t.Errorf("unexpected prefix: %q", without[:80])
	}
}

func TestRolePlaySystemPrompt(t *testing.T) {
	s := RolePlaySetting{Role: "merchant", Culture: "Mughal", Era: "17th century", Tone: "wistful", Language: "English"}

	prompt := RolePlaySystemPrompt(s)
	if !strings.HasPrefix(prompt, "You are role-playing as a merchant from the Mughal culture, during the 17th century era.") {
		t.Errorf("unexpected prompt: %s", prompt)
	}
	if strings.Contains(prompt, "emotional") {
		t.Error("emotion clause present without IncludeEmotion")
	}

	s.IncludeEmotion = true
	if !strings.HasSuffix(RolePlaySystemPrompt(s), "Include emotional and reflective thoughts as well.") {
		t.Error("emotion clause missing")
	}
}

func TestActionsPrompt(t *testing.T) {
	prompt := ActionsPrompt([]engine.ChatTurn{{User: "Greetings", AI: "Welcome, traveller."}}, "The bazaar is crowded.")

	if !strings.Contains(prompt, "suggest 4 specific") {
		t.Error("menu size missing")
	}
	if !strings.Contains(prompt, "Current scene:\nThe bazaar is crowded.") {
		t.Error("scene missing")
	}
	if !strings.Contains(prompt, "no numbering or bullets") {
		t.Error("format instruction missing")
	}
}

func TestDebateEvaluationPrompt(t *testing.T) {
	long := strings.Repeat("x", 1000)
	refs := []ContextChunk{
		{ID: "low", Text: "low relevance", Score: 0.2},
		{ID: "high", Text: long, Score: 0.9},
	}

	prompt := DebateEvaluationPrompt("Should relics be returned?", "Yes, with consent.", refs)

	if !strings.Contains(prompt, "Example 1:\n"+strings.Repeat("x", DebateReferenceChars)+"...") {
		t.Error("highest scoring reference should come first, truncated")
	}
	if !strings.Contains(prompt, "Example 2:\nlow relevance...") {
		t.Error("second reference missing")
	}
	for _, c := range DebateCriteria {
		if !strings.Contains(prompt, c+": <number>") {
			t.Errorf("criterion %q missing from format block", c)
		}
	}
	if !strings.HasSuffix(prompt, "Suggestion: <text>") {
		t.Error("format block should end with the suggestion line")
	}

	if strings.Contains(DebateEvaluationPrompt("p", "r", nil), "reference arguments") {
		t.Error("reference header present without references")
	}
}

func TestStoryPrompt(t *testing.T) {
	brief := StoryBrief{Culture: "Yoruba", Theme: "harvest", Tone: "joyful", Language: "English", MaxLength: 150}

	prompt := StoryPrompt(brief, []ContextChunk{{ID: "Yoruba-story-1", Text: "Once, in Ile-Ife...", Score: 0.7}})
	for _, want := range []string{
		"DO NOT copy these directly",
		"Example 1:\nOnce, in Ile-Ife......",
		"story from Yoruba culture. Theme: harvest. Use a joyful tone.",
		"between 100 and 150 words long",
		"Write the story in English.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	noTheme := StoryPrompt(StoryBrief{Culture: "Ainu", Tone: "calm", Language: "Japanese", MaxLength: 800}, nil)
	if strings.Contains(noTheme, "Theme:") {
		t.Error("empty theme should be omitted")
	}
	if !strings.Contains(noTheme, "between 400 and 800 words") {
		t.Error("min words should be half of max length")
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := "héllo"
	if got := truncate(s, 2); got != "h" {
		t.Errorf("expected cut before multi-byte rune, got %q", got)
	}
	if got := truncate(s, 100); got != s {
		t.Errorf("short strings unchanged, got %q", got)
	}
}

func TestResultsMessages(t *testing.T) {
	analysis := AnalysisMessages([]string{"I proposed a truce", "  We should listen  "})
	if len(analysis) != 2 || analysis[0].Role != RoleSystem {
		t.Fatalf("unexpected analysis messages: %+v", analysis)
	}
	if !strings.Contains(analysis[1].Content, "Response 2:\nWe should listen\n") {
		t.Errorf("responses not listed: %q", analysis[1].Content)
	}

	summary := SummaryMessages(72, "solid")
	if summary[1].Content != "Total Score: 72/100\nAnalysis: solid" {
		t.Errorf("unexpected summary content: %q", summary[1].Content)
	}

	improve := ImprovementMessages("solid")
	if !strings.Contains(improve[0].Content, "3-5 specific suggestions") {
		t.Error("improvement system prompt missing")
	}
}
