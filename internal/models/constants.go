package models

const (
	NumberRegex        = `-?\d+(\.\d+)?`
	SectionNumberRegex = `^(\d+\.\d+)`
	ContextSeparator   = "\n---\n"
	SourcesHeader      = "\n\n**Sources:**\n"
)

// User-facing fallback strings.
const (
	FallbackAnswer        = "I'm sorry, I couldn't generate an answer for that question."
	FallbackStepGuidance  = "I'm sorry, I couldn't generate guidance for that question."
	SimilarQuestionFailed = "Unable to generate a similar question. Please try again."
	GuardedAnswer         = "I can help guide you through this, but I won't provide the direct answer. Let me explain the concepts and steps instead."
	NoIndexWarning        = "⚠️ No vector store found! Course materials have not been indexed yet."
	NotConfiguredWarning  = "⚠️ The tutor's language model is not configured. Set OPENAI_API_KEY to enable answers."
	DefaultStepHint       = "Try checking your work and try again."
)

var (
	SystemPromptTemplate = `You are a patient math tutor helping a student with course material.
Use the provided context from the course PDFs when it is relevant.
Never state the final numeric or symbolic answer to the student's problem, and never complete a step for them.
Guide with explanations, questions and hints instead.

Context:
{{.context}}`

	ConceptualPromptTemplate = `The student needs help understanding a concept.
Explain the question's goal and core concept clearly.
Break down the fundamental ideas in simple terms.
Use analogies where helpful.
Do not solve the problem.
Question: {{.question}}`

	ApplicationPromptTemplate = `The student understands the basic concept but needs help applying it.
Explain how to connect the dots between theory and application.
Describe the approach to this type of problem.
Identify key insights needed to make progress.
Do not give the final answer.
Question: {{.question}}`

	StepByStepPromptTemplate = `The student wants a detailed, step-by-step explanation.
Break down the solution into precise, sequential steps.
Explain the reasoning behind each step.
Highlight important techniques and strategies.
Do not solve any step outright; let the student carry out each one.
Question: {{.question}}`

	GeneralPromptTemplate = `Please provide a detailed and helpful answer to the following question: {{.question}}`

	TurnQueryTemplate = `Question: {{.question}}
Student input: {{.input}}
Help mode: {{.mode}}`

	MetaQueryTemplate = `Question: {{.question}}
Student question: {{.input}}
Help mode: {{.mode}}
Previous context: {{.previous}}

Instructions:
1. Answer their specific question about this step.
2. Give helpful guidance without giving away the exact answer.
3. Focus on providing clear explanations and hints.
4. If they're asking about a specific concept, explain that concept.
5. If they're asking about how to proceed, guide them through the thought process.`

	StepQueryTemplate = `Question: {{.question}}
Current step: "{{.step}}"
Student question: {{.input}}
Help mode: {{.mode}}

Instructions:
1. Answer their specific question about this step.
2. Give helpful guidance without giving away the exact answer.
3. Focus only on this current step.`

	SimilarQuestionPromptTemplate = `Generate a similar math problem to the following, but with different numbers,
variables, or slight variations in the scenario. The new problem should:
1. Test the same mathematical concepts and skills
2. Have approximately the same difficulty level
3. Be clearly stated and unambiguous
4. Have a different solution than the original
5. Maintain the same mathematical structure and operations
6. Keep the same question format and style
7. If this is a {{.type}} type question, maintain the same step structure

Original Question: {{.question}}

New Similar Question:`
)

// Opening student inputs used to seed a conversation.
const (
	ConceptualOpening  = "Explain what the question is asking me to do. DO NOT explain how to solve the question."
	ApplicationOpening = "Explain how to solve the question, but DO NOT give the actual answer. Only explain."
)
