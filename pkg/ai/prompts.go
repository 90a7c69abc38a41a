package ai

const ExtractEntitiesPrompt = `
# Task
List the named entities and key concepts that the user question mentions or clearly implies.

# Rules
- Return each name once, in the spelling a knowledge graph would most likely use.
- Prefer specific names (people, organizations, products, places, works) over generic words.
- Do not invent facts that answer the question.
- Return at most %d names. Return an empty list when nothing qualifies.

# Question
%s
`

const DecomposePrompt = `
# Task
Split the user question into sub-questions that a search engine can answer one at a time.

# Question type
%s

# Rules
- For COMPOUND questions return independent sub-questions that can run in any order.
- For MULTI_HOP questions return the sub-questions in the order they must be answered;
  a later sub-question may refer to the answer of an earlier one.
- Keep every sub-question self-contained and short.
- Return at most %d sub-questions.

# Question
%s
`

const SynonymPrompt = `
# Task
Give up to %d alternative names, abbreviations or closely related terms for the entity below
that documents may use instead of its canonical name.

# Entity
%s
`

const ClassifyPrompt = `
# Task
Classify the structure of the user question.

# Labels
- SIMPLE: one lookup answers it.
- COMPOUND: several independent lookups whose answers are combined.
- MULTI_HOP: a chain of lookups where a later lookup needs the answer of an earlier one
  (for example "who founded the company that built X").

# Question
%s
`
