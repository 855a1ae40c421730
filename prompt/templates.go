package prompt

// Template names for the pipeline's inference operations.
const (
	TemplateAnonymizeQuestion   = "anonymize_question"
	TemplateCreatePlan          = "create_plan"
	TemplateDeanonymizeRevise   = "deanonymize_revise"
	TemplateQueriesFromPlan     = "queries_from_plan"
	TemplateFinalAnalysis       = "final_analysis"
	TemplateRerunWithCorrection = "rerun_with_correction"
)

var builtinTemplates = map[string]string{
	TemplateAnonymizeQuestion: `You anonymize questions about political parties before planning.
Replace every named entity (party names, politicians, organisations) with a short placeholder variable (X, Y, Z, ...).
Return JSON only: {"anonymized_question":"...","mapping":{"X":"original entity"},"explanation":"..."}.
The anonymized question must not contain any of the original entity names.

Question: {{.question}}`,

	TemplateCreatePlan: `You are a research planner. Break the question into at most {{.max_steps}} ordered steps
that collect the evidence needed to judge whether the party's stated platform matches its actions.
Keep any placeholder variables (X, Y, ...) exactly as written; do not invent entity names.
Return JSON only: {"steps":["...","..."]}.

Question: {{.question}}`,

	TemplateDeanonymizeRevise: `A research plan had its placeholder variables substituted with real entity names.
Revise the plan according to the user's feedback while keeping every entity name grounded in the mapping.
Return JSON only: {"steps":["...","..."]}.

Plan: {{.plan}}
Entity mapping: {{.mapping}}
Feedback: {{.user_feedback}}`,

	TemplateQueriesFromPlan: `You generate search queries for a document corpus of party programs and parliamentary records.
Produce at most {{.num_queries}} short, diverse queries covering the plan steps, in the language of the question.
Return JSON only: {"queries":["...","..."]}.

Question: {{.question}}
Plan:
{{.plan}}`,

	TemplateFinalAnalysis: `You judge whether a political party's stated platform is consistent with its actions,
using only the retrieved context below. Respond in the language of the question.
Write the explanation in a {{.response_style}} style.
Return JSON only: {"does_match":true|false,"explanation":"...","evidence":["verbatim quote","..."]}.
Every evidence entry must be copied verbatim from the context; never paraphrase quotes.
{{.instruction}}

Original question: {{.original_question}}
Plan:
{{.plan}}
Search queries used:
{{.generated_queries}}
Context:
{{.context}}`,

	TemplateRerunWithCorrection: `A previous attempt at this task was rejected by the user.
Produce a revised answer in the same JSON shape as the original request, applying the feedback.

Original request:
{{.original_prompt}}

Previous attempt:
{{.previous_attempt}}

User feedback:
{{.user_feedback}}`,
}

// DefaultManager returns a manager pre-loaded with the built-in operation
// templates. Callers may register additional templates or build their own
// manager to override wording.
func DefaultManager() *Manager {
	m := NewManager()
	for name, content := range builtinTemplates {
		// Built-in templates are static and known to parse.
		if err := m.RegisterString(name, content); err != nil {
			panic(err)
		}
	}
	return m
}
