package gate

import "strings"

// Intent is the resolved meaning of a human response. Resolution is
// deterministic and keyword based; nothing in this layer calls a model.
type Intent string

const (
	IntentApprove        Intent = "approve"
	IntentDeny           Intent = "deny"
	IntentApproveExplain Intent = "approve+explain"
	IntentExplainOnly    Intent = "explain-only"
	IntentHistory        Intent = "history"
	IntentPlan           Intent = "plan"
	IntentAmbiguous      Intent = "ambiguous"
)

var (
	approvalWords = []string{
		"y", "yes", "ok", "sure", "go", "approved", "confirm",
		"agreed", "yep", "yup", "execute", "proceed",
	}
	approvalPhrases = []string{"do it", "go ahead", "looks good", "run it"}
	denialWords     = []string{
		"n", "no", "skip", "stop", "hold", "wait", "cancel", "abort", "deny",
	}
	denialPhrases = []string{"don't", "not yet"}
	explainHints  = []string{
		"why", "explain", "what does", "how does", "reason",
		"tell me", "walk me through",
	}
	historyHints = []string{"history", "what did we do", "show the log"}
	planHints    = []string{"plan", "what's the plan", "what is the plan"}
)

// ResolveIntent maps raw human text to an intent. An unrecognized response
// resolves to ambiguous, which the gate treats as a question and re-prompts
// without consuming the approval opportunity.
func ResolveIntent(raw string) Intent {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return IntentAmbiguous
	}
	words := strings.Fields(text)

	approve := containsWord(words, text, approvalWords) || containsPhrase(text, approvalPhrases)
	deny := containsWord(words, text, denialWords) || containsPhrase(text, denialPhrases)
	explain := containsPhrase(text, explainHints)

	switch {
	case containsPhrase(text, historyHints):
		return IntentHistory
	case containsPhrase(text, planHints):
		return IntentPlan
	case approve && explain:
		return IntentApproveExplain
	case deny:
		// Denial wins over a simultaneous approval word; "no, go away"
		// must never release a command.
		return IntentDeny
	case approve:
		return IntentApprove
	case explain:
		return IntentExplainOnly
	default:
		return IntentAmbiguous
	}
}

func containsWord(words []string, text string, list []string) bool {
	for _, w := range list {
		if w == text {
			return true
		}
		for _, tok := range words {
			if strings.Trim(tok, ".,!?") == w {
				return true
			}
		}
	}
	return false
}

func containsPhrase(text string, list []string) bool {
	for _, p := range list {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
