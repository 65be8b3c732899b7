package ai

// DefaultEntityTypes is the extraction type hint used when a prompt
// configuration supplies none. Types are free text everywhere else in
// the system; this list only steers the model.
var DefaultEntityTypes = []string{
	"ORGANIZATION", "PERSON", "LOCATION", "CONCEPT", "METHOD", "DATASET", "PRODUCT", "EVENT",
}

// ExtractPrompt is the default entity/relationship extraction template.
// Placeholders: {{entity_types}} is replaced with the comma-joined type
// list, {{examples}} with rendered worked examples (or removed).
const ExtractPrompt = `
# Task Context
You are a careful information extraction assistant. You will be given one chunk of a source document and must identify the entities it mentions and the relationships between them.

# Detailed Task Description & Rules
- Identify every distinct real-world entity mentioned in the chunk.
- Assign each entity one type. Prefer one of: {{entity_types}}. If none fits, choose a short descriptive type of your own.
- Keep entity labels exactly as they are most commonly written in the text; do not invent abbreviations or expansions.
- Identify directed relationships between the entities you extracted. Both endpoints of a relationship must appear in your entity list.
- Give each relationship a short type tag in natural casing (e.g. "trains_on", "published_by", "part_of").
- Do not extract relationships whose endpoints you did not extract as entities.
- If the chunk contains no extractable entities, return empty lists.

{{examples}}

# Output Formatting
Return a JSON object:
{
  "entities": [{"label": "<entity label>", "type": "<entity type>"}],
  "relationships": [{"source": "<entity label>", "target": "<entity label>", "type": "<relationship type>"}]
}
`

// ResolvePrompt is the default entity resolution template. Placeholder
// {{entities}} is replaced with the candidate listing, {{examples}}
// with rendered equivalence examples (or removed).
const ResolvePrompt = `
# Task Context
You are an assistant that identifies duplicate entities in a knowledge graph. You will be given a list of entity labels with their types.

# Background Data
{{entities}}

# Detailed Task Description & Rules
- Group labels that refer to the same real-world entity despite naming differences (case, abbreviations, legal suffixes, punctuation).
- Entities with distinct identities stay separate even when their names overlap (e.g. "Amazon" and "Amazon Web Services").
- Only group entities of the same type.
- Pick the most complete, most commonly used label as the canonical name of each group.
- Omit groups with a single member.

{{examples}}

# Output Formatting
Return a JSON object:
{
  "duplicates": [
    {
      "canonicalName": "<chosen final label>",
      "entities": ["<label1>", "<label2>"]
    }
  ]
}
`
