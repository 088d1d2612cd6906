package classifier

import (
	"fmt"
	"strings"

	"github.com/xaenox/triage-bot/internal/models"
)

// DefaultContextMessages is how many prior messages go into the prompt.
const DefaultContextMessages = 3

const categoryGuide = `Categories:
1. CRISIS - Suicidal thoughts, self-harm, immediate danger to self or others
   Subcategories: suicide, self_harm, despair, abuse
2. EMPLOYMENT - Job loss, unemployment, career stress, financial pressure from lack of work
   Subcategories: job_loss, job_seeking, financial_stress, workplace_conflict, feeling_like_burden
3. RELATIONSHIP - Partner issues, family conflict, infidelity, breakup, parenting struggles
   Subcategories: infidelity, breakup, conflict, emotional_distance
4. MENTAL_HEALTH - Depression, anxiety, trauma, paranoia, emotional distress
   Subcategories: severe_depression, moderate_depression, anxiety, trauma, treatment_not_working, self_esteem
5. TECH_ISSUE - App malfunction, login problems, technical errors
   Subcategories: app_error, login_issue, feature_broken
6. GENERAL - Casual conversation, greetings, check-ins, positive updates
   Subcategories: greeting, positive, casual, gratitude`

const disambiguationRules = `Disambiguation rules:
- "not working": "I'm not working" / "I haven't been working" -> EMPLOYMENT; "therapy's not working" / "medication isn't working" -> MENTAL_HEALTH (treatment ineffective); "the app is not working" -> TECH_ISSUE. Money, bills or a partner depending on income point to EMPLOYMENT; button, screen, error or login point to TECH_ISSUE.
- "not good" / "not well": with emotional context or as a short reply to a feelings question -> MENTAL_HEALTH; casual "not bad" -> GENERAL.
- "can't do this": "can't do this anymore" / "can't go on" -> CRISIS; "can't do this job" -> EMPLOYMENT; "can't figure this out" -> GENERAL.
- "feeling down": for weeks or a while -> MENTAL_HEALTH; with a cold or the flu -> GENERAL.
- "I'm lost": in life -> MENTAL_HEALTH; on a page or the site -> TECH_ISSUE; in the conversation -> GENERAL.
- "broken": inside or emotionally -> MENTAL_HEALTH; phone or laptop -> TECH_ISSUE; a bone -> GENERAL.
- "I need help": with any self-harm mention -> CRISIS; with anxiety or depression -> MENTAL_HEALTH; logging in -> TECH_ISSUE.
- "nothing works": after trying everything or coping strategies -> MENTAL_HEALTH; on the site -> TECH_ISSUE.
- "I'm done": with life -> CRISIS; with this job -> EMPLOYMENT; with homework -> GENERAL.`

const responseFormat = `Respond with ONLY a JSON object:
{
  "category": "EMPLOYMENT",
  "subcategory": "feeling_like_burden",
  "confidence": 0.95,
  "reasoning": "why this category was chosen",
  "ambiguous_phrase": "not working",
  "disambiguation": "employment (personal status) not tech issue",
  "emotional_intensity": 8,
  "suggested_response": "acknowledge_job_loss"
}

Always choose CRISIS if there is any indication of self-harm or suicide.
Confidence should be 0.9+ for clear cases and 0.6-0.8 for ambiguous ones.
Emotional intensity: 10 = crisis, 8-9 = severe distress, 5-7 = moderate, 1-4 = mild.`

// BuildPrompt renders the classification prompt for text with the last n
// messages of context.
func BuildPrompt(text string, convCtx models.ConversationContext, n int) string {
	if n <= 0 {
		n = DefaultContextMessages
	}

	recent := convCtx.RecentMessages
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		who := "User"
		if m.Role == models.RoleAssistant {
			who = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", who, m.Text))
	}
	history := strings.Join(lines, "\n")
	if history == "" {
		history = "No previous conversation"
	}

	var profile string
	if p := convCtx.UserProfile; p != nil {
		topics := "none yet"
		if len(p.RecurringTopics) > 0 {
			topics = strings.Join(p.RecurringTopics, ", ")
		}
		profile = fmt.Sprintf("User's recurring topics: %s\n", topics)
		if p.EmotionalBaseline != "" {
			profile += fmt.Sprintf("User's emotional baseline: %s\n", p.EmotionalBaseline)
		}
	}

	return fmt.Sprintf(`You are a support assistant analyzing a user message to determine its primary concern.

Current user message:
%q

Recent conversation context:
%s

%s
Classify this message into ONE primary category. Pay special attention to ambiguous phrases that could have multiple meanings.

%s

%s

%s`, text, history, profile, categoryGuide, disambiguationRules, responseFormat)
}
