package memory

import (
	"strings"
	"time"
)

// MemoryType classifies the kind of content a [Memory] holds. The zero value is
// invalid; callers that don't specify one get [MemoryNote] at write time.
type MemoryType string

const (
	MemoryNote         MemoryType = "note"
	MemoryDecision     MemoryType = "decision"
	MemoryRule         MemoryType = "rule"
	MemoryCodeSnippet  MemoryType = "code-snippet"
	MemoryLearning     MemoryType = "learning"
	MemoryResearch     MemoryType = "research"
	MemoryDiscussion   MemoryType = "discussion"
	MemoryProgress     MemoryType = "progress"
	MemoryTask         MemoryType = "task"
	MemoryDebug        MemoryType = "debug"
	MemoryDesign       MemoryType = "design"
)

// validMemoryTypes is consulted by ValidMemoryType.
var validMemoryTypes = map[MemoryType]struct{}{
	MemoryNote: {}, MemoryDecision: {}, MemoryRule: {}, MemoryCodeSnippet: {},
	MemoryLearning: {}, MemoryResearch: {}, MemoryDiscussion: {}, MemoryProgress: {},
	MemoryTask: {}, MemoryDebug: {}, MemoryDesign: {},
}

// ValidMemoryType reports whether t is one of the eleven known memory types.
func ValidMemoryType(t MemoryType) bool {
	_, ok := validMemoryTypes[t]
	return ok
}

// Author identifies who produced a [Memory].
type Author string

const (
	AuthorUser          Author = "user"
	AuthorAssistant     Author = "assistant"
	AuthorCollaborative Author = "collaborative"
	AuthorSystem        Author = "system"
)

// GlobalProject is the reserved project name whose rule-type memories are
// visible from every other project (spec §3, Memory invariants).
const GlobalProject = "__global__"

// Memory is a single stored note, decision, rule, or other typed content
// owned by exactly one project (or GlobalProject for cross-project rules).
//
// A Memory's identity (ID) is immutable once created. Content is updated via
// Modify with ActionUpdate; a Memory is never hard-deleted, only marked
// inactive via Modify with ActionInactivate.
type Memory struct {
	ID int64

	// Project is the owning project name. Never empty.
	Project string

	Content string

	// Summary is an optional short description, typically produced by the
	// KnowledgeExtractor during async enrichment.
	Summary string

	Type MemoryType

	// Importance is in [0, 1]; higher values rank more heavily in the tag
	// signal and are surfaced preferentially when trimming results.
	Importance float64

	// Tags are user-supplied labels (set semantics — no duplicates).
	Tags []string

	// AutoTags are extractor-derived labels, disjoint in purpose from Tags
	// but unioned with them for display.
	AutoTags []string

	RelatedFiles []string
	SessionID    string
	Author       Author

	CreatedAt time.Time
	UpdatedAt time.Time

	// Active is false once the memory has been inactivated. Inactive
	// memories are excluded from every search signal but are never deleted.
	Active bool

	// InactiveReason explains why Active was flipped to false. Empty while
	// Active is true.
	InactiveReason string

	// Embedding is the L2-normalized content vector produced by the
	// configured Embedder. Its length must equal the store's configured
	// dimension whenever Active is true (spec §3 invariant).
	Embedding []float32
}

// Project is created lazily by the first Memory that references its name.
// Projects are soft-deleted only — there is no hard project delete in this
// core (deletion policy, if any, lives in the out-of-scope REST layer).
type Project struct {
	Name      string
	CreatedAt time.Time
}

// RelationKind enumerates the closed set of directed edge labels between two
// memories.
type RelationKind string

const (
	RelationRelated      RelationKind = "related"
	RelationExtends      RelationKind = "extends"
	RelationContradicts  RelationKind = "contradicts"
	RelationImplements   RelationKind = "implements"
	RelationDependsOn    RelationKind = "depends_on"
)

// MemoryRelation is a directed edge between two memories. No self-loops; at
// most one edge per (SourceID, TargetID, Relation) triple.
type MemoryRelation struct {
	SourceID  int64
	TargetID  int64
	Relation  RelationKind
	CreatedAt time.Time
}

// EntityType enumerates the closed set of knowledge-graph entity kinds.
type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityOrganization EntityType = "Organization"
	EntityPlace        EntityType = "Place"
	EntityEvent        EntityType = "Event"
	EntityProject      EntityType = "Project"
	EntityTask         EntityType = "Task"
	EntityTechnology   EntityType = "Technology"
	EntityProduct      EntityType = "Product"
	EntityConcept      EntityType = "Concept"
)

var validEntityTypes = map[string]EntityType{
	"person": EntityPerson, "organization": EntityOrganization, "place": EntityPlace,
	"event": EntityEvent, "project": EntityProject, "task": EntityTask,
	"technology": EntityTechnology, "product": EntityProduct, "concept": EntityConcept,
}

// ValidEntityType looks up s case-insensitively against the nine known
// entity types. This mirrors original_source/cairn/core/extraction.py's
// entity_type validator, which accepts any casing and rejects the rest.
func ValidEntityType(s string) (EntityType, bool) {
	t, ok := validEntityTypes[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// Entity is a named, typed node in the knowledge graph, shared across every
// statement that mentions it. Within a project, (Type, NameEmbedding) is
// approximately unique — near-duplicates are collapsed by cosine similarity
// above [postgres.DefaultEntityMergeThreshold] during resolution, not by this
// type itself.
type Entity struct {
	UUID string
	Name string
	Type EntityType

	// NameEmbedding is the L2-normalized embedding of Name, used for
	// similarity-based entity resolution.
	NameEmbedding []float32

	Project string

	// Attributes is free-form string metadata gathered across extractions
	// (e.g. role, status). An entity with non-empty Attributes must be
	// referenced by at least one Statement (spec §3 invariant) — enforced by
	// the extractor, not by this type.
	Attributes map[string]string

	CreatedAt time.Time
}

// Aspect is the closed vocabulary labeling what kind of fact a [Statement]
// carries.
type Aspect string

const (
	AspectIdentity     Aspect = "Identity"
	AspectKnowledge    Aspect = "Knowledge"
	AspectBelief       Aspect = "Belief"
	AspectPreference   Aspect = "Preference"
	AspectAction       Aspect = "Action"
	AspectGoal         Aspect = "Goal"
	AspectDirective    Aspect = "Directive"
	AspectDecision     Aspect = "Decision"
	AspectEvent        Aspect = "Event"
	AspectProblem      Aspect = "Problem"
	AspectRelationship Aspect = "Relationship"
)

var validAspects = map[string]Aspect{
	"identity": AspectIdentity, "knowledge": AspectKnowledge, "belief": AspectBelief,
	"preference": AspectPreference, "action": AspectAction, "goal": AspectGoal,
	"directive": AspectDirective, "decision": AspectDecision, "event": AspectEvent,
	"problem": AspectProblem, "relationship": AspectRelationship,
}

// ValidAspect looks up s case-insensitively against the eleven known aspect
// labels. Unknown aspects are silently filtered by callers (spec §8,
// "Unknown aspect values silently filtered") rather than surfaced as errors.
func ValidAspect(s string) (Aspect, bool) {
	a, ok := validAspects[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// MaxFactWords is the word cap enforced on Statement.Fact; longer facts are
// truncated, never rejected (spec §3, §8).
const MaxFactWords = 20

// TruncateFact truncates fact to at most MaxFactWords words.
func TruncateFact(fact string) string {
	words := strings.Fields(fact)
	if len(words) <= MaxFactWords {
		return fact
	}
	return strings.Join(words[:MaxFactWords], " ")
}

// Statement is a single extracted fact about a subject entity, scoped to the
// episode (Memory) it was extracted from. Invalidation marks a statement
// inactive without removing it — the audit trail of superseded facts is
// part of the knowledge graph's value.
type Statement struct {
	UUID string

	// Fact is natural-language text, truncated to MaxFactWords.
	Fact string

	// FactEmbedding is the L2-normalized embedding of Fact.
	FactEmbedding []float32

	Aspect  Aspect
	Project string

	// EpisodeID is the Memory.ID this statement was extracted from.
	EpisodeID int64

	ValidFrom time.Time

	// InvalidatedAt is nil while the statement is active.
	InvalidatedAt *time.Time

	// InvalidatedBy records why the statement was invalidated (e.g.
	// "extraction" when superseded by a contradiction, spec §4.11).
	InvalidatedBy string
}

// Active reports whether the statement has not been invalidated.
func (s Statement) Active() bool { return s.InvalidatedAt == nil }

// Triple is the (subject, predicate, object) edge attached to a Statement.
// SubjectEntityID is never empty; exactly one of ObjectEntityID or
// ObjectLiteral is set (spec §3 invariant).
type Triple struct {
	StatementID     string
	SubjectEntityID string
	Predicate       string
	ObjectEntityID  string
	ObjectLiteral   string
}

// IsEntityObject reports whether this triple's object is another entity
// rather than a literal value.
func (t Triple) IsEntityObject() bool { return t.ObjectEntityID != "" }

// Cluster groups related memories for visualization and browse. It is
// explicitly off the critical search path (spec §3); no MemoryStore or
// GraphProvider operation reads or writes it.
type Cluster struct {
	ID              int64
	Project         string
	Label           string
	Topic           string
	MemberMemoryIDs []int64
	Confidence      float64
	StaleAt         time.Time
}
