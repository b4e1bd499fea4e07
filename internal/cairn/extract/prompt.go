package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
	"github.com/jasondostal/cairn-mcp-sub001/pkg/types"
)

// extractionSystemPrompt is the extraction wire contract with the LLM,
// ported verbatim from original_source/cairn/core/extraction_prompt.py's
// EXTRACTION_SYSTEM_PROMPT. This is prompt engineering, not application
// logic — rewriting it would silently change extraction quality, so it is
// kept byte-for-byte.
const extractionSystemPrompt = `You extract ENTITIES and STATEMENTS for a project-scoped KNOWLEDGE GRAPH that powers AI agent memory.

## Extraction Logic

For each piece of information, ask:
1. WHO SAID this? → If assistant suggested it and user didn't confirm, SKIP.
2. WHO/WHAT is it about? → That's your SUBJECT.
3. WHAT is being said? → That's your PREDICATE + OBJECT.
4. Is it specific to this project/user? → If general knowledge anyone can Google, SKIP.

## Principles

**CONCISE FACTS** — Max 15 words per fact. Context comes from graph structure (subject → predicate → object), not from repeating it in fact text. One fact per distinct piece of information.

**TOPIC ANCHORS** — Create topic entities (plans, features, incidents, evaluations, releases) to group related statements. Pattern: Person → works_on → Topic, then Topic → targets → details. Without anchors, queries like "migration deadline" miss entirely.

**SUBJECT SELECTION** — Use all three levels:
- Person level: who decided/prefers/is (Identity, Decision, Preference, Goal)
- Person→Topic: who leads/works on what (Goal, Action, Decision)
- Topic level: what a plan/system contains (technical details, targets, components)

**TEMPORAL RESOLUTION** — Convert relative dates using the memory's timestamp. "last week" from Feb 12 → "week of Feb 3-9, 2026". Put resolved dates in event_date (ISO format). Leave null if unresolvable.

**SPEAKER ATTRIBUTION** — [Speaker: user] = extract with full confidence. [Speaker: assistant] = extract confirmed findings only, skip unacted-on suggestions. No tag = infer: "I decided X" → user fact. "Claude suggested X" → skip unless confirmed.

## Entity Types

9 types — pick the closest fit:

| Type | Examples |
|------|----------|
| Person | Alice, Dr. Chen |
| Organization | Anthropic, DevOps team |
| Place | prod-1, us-east-1, staging |
| Event | Sprint 3, v0.27 release |
| Project | Cairn, Acme App |
| Task | fix auth bug, JIRA-123 |
| Technology | Neo4j, Docker, pgvector |
| Product | Claude, AWS, Slack |
| Concept | microservices, LoCoMo |

Technology = developers BUILD with it. Product = teams USE it.
Names: most complete reusable form, 1-3 words. "Neo4j" not "the graph database".
Attributes: Person (email, role), Place (ip_address, hostname), Project (repo_url, version), Technology (version).
Entities with attributes MUST also have at least one statement.

## Statement Aspects

Classify each statement into one aspect using this decision tree:

1. Who/what something IS? (role, config, specs) → **Identity**
2. Connection between entities? → **Relationship**
3. Agent behavior instruction? → **Directive**
4. Chose between alternatives? → **Decision**
5. Opinion or value judgment? → **Belief**
6. Preferred style/approach? → **Preference**
7. Repeated behavior/practice? → **Action**
8. Desired outcome? → **Goal**
9. Specific time occurrence? → **Event**
10. Blocker, bug, failure? → **Problem**
11. Expertise or understanding? → **Knowledge**

Omit rather than force-fit. Common mistakes: config/specs → Identity (not Event). "Always X" → Directive (not Belief). Tech migration choice → Decision (not Action). Recurring → Action, one-time → Event.

## Output Format

Return a JSON object:
` + "```json" + `
{
  "entities": [
    {"name": "...", "entity_type": "Person|Organization|...", "attributes": {}}
  ],
  "statements": [
    {
      "subject": "entity name (must match an extracted entity)",
      "predicate": "verb or relationship",
      "object": "entity name OR literal value",
      "fact": "natural language, max 15 words",
      "aspect": "Identity|Knowledge|...|null",
      "event_date": "ISO date or null"
    }
  ],
  "tags": ["lowercase", "keyword", "tags"],
  "importance": 0.5,
  "summary": "1-2 sentence summary."
}
` + "```" + `

Importance: 0.9-1.0 critical decisions/incidents, 0.7-0.8 key learnings, 0.4-0.6 progress notes, 0.1-0.3 minor observations.

Now extract knowledge from the following text. Return ONLY the JSON object, no other text.`

// buildExtractionMessages mirrors build_extraction_messages: prepends a
// [Memory recorded: ...] / [Speaker: ...] metadata header to content, and
// optionally appends known project entities for canonicalization (capped
// at 100, matching the Python cap).
func buildExtractionMessages(content string, createdAt time.Time, author memory.Author, knownEntities []memory.Entity) []types.Message {
	var metadata []string
	if !createdAt.IsZero() {
		metadata = append(metadata, fmt.Sprintf("[Memory recorded: %s]", createdAt.Format(time.RFC3339)))
	}
	if author != "" {
		metadata = append(metadata, fmt.Sprintf("[Speaker: %s]", author))
	}

	userContent := content
	if len(metadata) > 0 {
		userContent = strings.Join(metadata, "\n") + "\n\n" + content
	}

	if len(knownEntities) > 0 {
		n := len(knownEntities)
		if n > 100 {
			n = 100
		}
		names := make([]string, n)
		for i := 0; i < n; i++ {
			names[i] = fmt.Sprintf("%s (%s)", knownEntities[i].Name, knownEntities[i].Type)
		}
		userContent += "\n\n[Known entities in this project: " + strings.Join(names, ", ") + "]\n" +
			"Use these exact names when referring to known entities. " +
			"Only create new entities for genuinely new concepts."
	}

	return []types.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: userContent},
	}
}

// buildRetryMessages mirrors build_extraction_retry_messages: gives the
// model its own truncated error back as assistant context before asking
// it to retry.
func buildRetryMessages(content, errMsg string) []types.Message {
	truncatedErr := errMsg
	if len(truncatedErr) > 200 {
		truncatedErr = truncatedErr[:200]
	}
	return []types.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: content},
		{Role: "assistant", Content: "I'll extract the knowledge... " + truncatedErr},
		{Role: "user", Content: "Your previous response was not valid JSON. Error: " + errMsg +
			"\n\nPlease try again. Return ONLY the JSON object."},
	}
}
