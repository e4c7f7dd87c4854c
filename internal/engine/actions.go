package engine

import "strings"

// ActionMenuSize is the length of a conflict-mode action menu.
const ActionMenuSize = 7

// RolePlayMenuSize is the length of a role-play action menu.
const RolePlayMenuSize = 4

var commonActions = []string{"Negotiate", "Make public statement", "Propose solution"}

type actionTier struct {
	above   int // tier applies when tension > above
	sides   []string
	neutral []string
}

var actionTiers = []actionTier{
	{
		above:   80,
		sides:   []string{"Mobilize military forces", "Issue ultimatum", "Cut diplomatic ties", "Seek international support"},
		neutral: []string{"Call emergency meeting", "Propose sanctions", "Threaten to withdraw mediation", "Appeal to international community"},
	},
	{
		above:   60,
		sides:   []string{"Show of force", "Recall ambassador", "Implement trade restrictions", "Appeal to allies"},
		neutral: []string{"Impose deadline", "Threaten economic consequences", "Propose neutral peacekeeping force", "Convene regional summit"},
	},
	{
		above:   40,
		sides:   []string{"Request international mediation", "Hold protest rally", "Release intelligence information", "Open back-channel talks"},
		neutral: []string{"Hold private talks", "Propose confidence-building measures", "Offer economic incentives", "Facilitate prisoner exchange"},
	},
	{
		above:   20,
		sides:   []string{"Propose joint committee", "Offer minor concession", "Initiate cultural exchange", "Announce goodwill gesture"},
		neutral: []string{"Organize peace conference", "Propose step-by-step process", "Suggest third-party verification", "Draft framework agreement"},
	},
	{
		above:   -1,
		sides:   []string{"Sign agreement", "Make symbolic gesture", "Form joint institution", "Pledge economic cooperation"},
		neutral: []string{"Draft peace treaty", "Celebrate progress", "Establish monitoring mechanism", "Plan reconstruction fund"},
	},
}

// NextActions returns the conflict-mode menu: the three common actions
// followed by four actions for the tension tier and faction. The role
// does not change the menu.
func NextActions(tension int, faction Faction, _ Role) []string {
	tier := actionTiers[len(actionTiers)-1]
	for _, t := range actionTiers {
		if tension > t.above {
			tier = t
			break
		}
	}

	specific := tier.sides
	if faction == FactionNeutral {
		specific = tier.neutral
	}

	actions := make([]string, 0, ActionMenuSize)
	actions = append(actions, commonActions...)
	actions = append(actions, specific...)
	return actions
}

// ActionMenu is a role-play action menu with its provenance.
type ActionMenu struct {
	Actions  []string
	Fallback bool
	Reason   string
}

const actionPadding = "Continue the conversation..."

var fallbackRolePlayActions = []string{
	"Ask a follow-up question",
	"Share your perspective",
	"Request more information",
	"Change the subject",
}

// FallbackActionMenu is used when the LLM could not produce a menu.
func FallbackActionMenu(reason string) ActionMenu {
	actions := make([]string, len(fallbackRolePlayActions))
	copy(actions, fallbackRolePlayActions)
	return ActionMenu{Actions: actions, Fallback: true, Reason: reason}
}

// ParseActionList turns one-action-per-line LLM output into exactly
// RolePlayMenuSize actions. Blank lines are skipped, leading list markers
// are removed, extra lines are dropped and short lists are padded.
func ParseActionList(text string) ActionMenu {
	actions := make([]string, 0, RolePlayMenuSize)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(stripListMarker(strings.TrimSpace(line)))
		if line == "" {
			continue
		}
		actions = append(actions, line)
		if len(actions) == RolePlayMenuSize {
			break
		}
	}

	menu := ActionMenu{Actions: actions}
	if len(actions) < RolePlayMenuSize {
		menu.Reason = "padded short action list"
	}
	for len(menu.Actions) < RolePlayMenuSize {
		menu.Actions = append(menu.Actions, actionPadding)
	}
	return menu
}
