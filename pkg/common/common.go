package common

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// UUIDv5 namespaces for content-derived ids.
var (
	chunkIDSpace  = uuid.MustParse("6f1c2a0e-8e4b-5b3a-9d57-1f2c3b4a5d6e")
	entityIDSpace = uuid.MustParse("b3d1f0c4-2a7e-5c61-8e90-4d2f6a1b7c35")
)

// Chunk represents a contiguous span of source text. Chunks are produced by the
// ingestion pipeline and are immutable once written. Entities, the Vector Store
// and the Graph Store reference chunks by ID but never own them.
type Chunk struct {
	ID          string   `json:"chunk_id"`
	DocumentID  string   `json:"document_id"`
	Ordinal     int      `json:"ordinal"`
	Text        string   `json:"text"`
	SectionPath []string `json:"section_path,omitempty"`
}

// NewChunkID derives a stable chunk id from the document id, the ordinal index
// and the chunk text. The same input always yields the same id.
func NewChunkID(documentID string, ordinal int, text string) string {
	key := fmt.Sprintf("%s\x00%d\x00%s", documentID, ordinal, text)
	return uuid.NewSHA1(chunkIDSpace, []byte(key)).String()
}

// EnsureID fills in a content-derived ID when the chunk has none.
func (c *Chunk) EnsureID() {
	if c.ID == "" {
		c.ID = NewChunkID(c.DocumentID, c.Ordinal, c.Text)
	}
}

// Section is a heading node in a document's table of contents.
//
// The parent of a section is the section whose label equals this label with
// the last dotted segment removed ("1.2.3" -> "1.2"). A section whose parent
// label is absent from the document is a root.
type Section struct {
	HeadingLabel string `json:"heading_label"`
	Level        int    `json:"level"`
	Order        int    `json:"order"`
	DocumentID   string `json:"document_id"`
}

// ParentLabel returns the label of the parent section or "" for top-level labels.
func (s Section) ParentLabel() string {
	label := strings.TrimSuffix(strings.TrimSpace(s.HeadingLabel), ".")
	idx := strings.LastIndex(label, ".")
	if idx <= 0 {
		return ""
	}
	return label[:idx]
}

// SectionNode is a section linked into its document's forest.
type SectionNode struct {
	Section  Section
	Parent   *SectionNode
	Children []*SectionNode
}

// BuildSectionForest links sections into one forest per document and returns
// the roots ordered by document id and section order.
func BuildSectionForest(sections []Section) []*SectionNode {
	type docLabel struct {
		doc   string
		label string
	}

	nodes := make(map[docLabel]*SectionNode, len(sections))
	ordered := make([]*SectionNode, 0, len(sections))
	for _, s := range sections {
		key := docLabel{doc: s.DocumentID, label: strings.TrimSuffix(strings.TrimSpace(s.HeadingLabel), ".")}
		if _, ok := nodes[key]; ok {
			continue
		}
		n := &SectionNode{Section: s}
		nodes[key] = n
		ordered = append(ordered, n)
	}

	sortNodes := func(list []*SectionNode) {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].Section, list[j].Section
			if a.DocumentID != b.DocumentID {
				return a.DocumentID < b.DocumentID
			}
			if a.Order != b.Order {
				return a.Order < b.Order
			}
			return a.HeadingLabel < b.HeadingLabel
		})
	}
	sortNodes(ordered)

	roots := make([]*SectionNode, 0)
	for _, n := range ordered {
		parentLabel := n.Section.ParentLabel()
		parent, ok := nodes[docLabel{doc: n.Section.DocumentID, label: parentLabel}]
		if parentLabel == "" || !ok {
			roots = append(roots, n)
			continue
		}
		n.Parent = parent
		parent.Children = append(parent.Children, n)
	}
	return roots
}

// Entity is a typed, named concept extracted from the corpus. Multiple raw
// extractions may collapse onto one canonical entity; merged entities keep a
// redirect to their canonical ID and are never hard-deleted.
type Entity struct {
	ID            string    `json:"entity_id"`
	CanonicalName string    `json:"canonical_name"`
	Type          string    `json:"type"`
	Description   string    `json:"description,omitempty"`
	Embedding     []float32 `json:"-"`
}

// NewEntityID derives an entity id from its type and case-folded name, so
// repeated extractions of the same name land on the same id.
func NewEntityID(entityType, name string) string {
	key := strings.ToUpper(strings.TrimSpace(entityType)) + "\x00" + strings.ToLower(strings.Join(strings.Fields(name), " "))
	return uuid.NewSHA1(entityIDSpace, []byte(key)).String()
}

// EnsureID fills in a derived ID when the entity has none.
func (e *Entity) EnsureID() {
	if e.ID == "" {
		e.ID = NewEntityID(e.Type, e.CanonicalName)
	}
}

// EmbeddingText is the text an entity embedding is derived from.
func (e Entity) EmbeddingText() string {
	if e.Description == "" {
		return e.CanonicalName
	}
	return e.CanonicalName + ": " + e.Description
}

// Relation types whose edges carry no direction.
const (
	RelationCoOccursWith = "CO_OCCURS_WITH"
	RelationSimilarTo    = "SIMILAR_TO"
)

var symmetricRelationTypes = map[string]struct{}{
	RelationCoOccursWith: {},
	RelationSimilarTo:    {},
}

// IsSymmetricRelationType reports whether edges of the given type are undirected.
func IsSymmetricRelationType(t string) bool {
	_, ok := symmetricRelationTypes[strings.ToUpper(strings.TrimSpace(t))]
	return ok
}

// Relationship is a directed, typed edge between two entities. SourceChunkID is
// the provenance of the edge and is mandatory.
type Relationship struct {
	SourceEntityID string  `json:"source_entity_id"`
	TargetEntityID string  `json:"target_entity_id"`
	Type           string  `json:"type"`
	Weight         float64 `json:"weight"`
	Description    string  `json:"description,omitempty"`
	SourceChunkID  string  `json:"source_chunk_id"`
}

// RelationshipKey identifies a relationship for deduplication.
type RelationshipKey struct {
	Source string
	Target string
	Type   string
}

// Key returns the deduplication key. For symmetric types the endpoint pair is
// sorted so (A,B,T) and (B,A,T) produce the same key.
func (r Relationship) Key() RelationshipKey {
	src, tgt := r.SourceEntityID, r.TargetEntityID
	if IsSymmetricRelationType(r.Type) && tgt < src {
		src, tgt = tgt, src
	}
	return RelationshipKey{Source: src, Target: tgt, Type: r.Type}
}

// Canonical returns a copy with the endpoint pair sorted for symmetric types.
func (r Relationship) Canonical() Relationship {
	k := r.Key()
	r.SourceEntityID = k.Source
	r.TargetEntityID = k.Target
	return r
}

// Validate returns a ProvenanceError when the relationship lacks a source chunk.
func (r Relationship) Validate() error {
	if strings.TrimSpace(r.SourceChunkID) == "" {
		return &ProvenanceError{Kind: "relationship", Ref: r.SourceEntityID + "->" + r.TargetEntityID}
	}
	return nil
}

// MentionLink records that an entity was found in a chunk.
type MentionLink struct {
	EntityID      string `json:"entity_id"`
	SourceChunkID string `json:"source_chunk_id"`
}

// Validate returns a ProvenanceError when the link lacks a source chunk.
func (m MentionLink) Validate() error {
	if strings.TrimSpace(m.SourceChunkID) == "" {
		return &ProvenanceError{Kind: "mention", Ref: m.EntityID}
	}
	return nil
}

// ResolveRedirect follows an old_id -> canonical_id chain to its end. Cycles
// are cut at the first repeated id.
func ResolveRedirect(redirects map[string]string, id string) string {
	if len(redirects) == 0 {
		return id
	}
	seen := map[string]struct{}{id: {}}
	for {
		next, ok := redirects[id]
		if !ok || next == id {
			return id
		}
		if _, loop := seen[next]; loop {
			return id
		}
		seen[next] = struct{}{}
		id = next
	}
}
