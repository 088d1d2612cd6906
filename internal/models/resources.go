package models

// CrisisResources is the user-facing crisis text. It is kept byte-stable
// for compliance review; do not reword it.
const CrisisResources = `I'm really concerned about what you've shared. Please know that you don't have to face this alone.

Immediate Support:
988 Suicide & Crisis Lifeline: Call or text 988 (24/7)
Crisis Text Line: Text HOME to 741741

You deserve support right now. Can you reach out to one of these resources or someone you trust?`

// ClarifyingQuestion is asked when a classification is below its category threshold.
const ClarifyingQuestion = "Can you tell me more about what you mean by that? I want to make sure I understand you correctly."
