package models

import (
	"encoding/json"
	"sort"
	"time"
)

// FieldState текущее состояние одного поля в материализованном снапшоте.
// Rev и Origin запоминают победившую дельту для детерминированного
// разрешения следующих конфликтов.
type FieldState struct {
	Value json.RawMessage `json:"value"`
	Rev   int64           `json:"rev"`
	Orig  string          `json:"orig"`
}

// TagState состояние одного тега в add-wins OR-set.
// Удаление не стирает тег физически, а оставляет маркер с ревизией,
// чтобы конкурентные удаления не терялись при слиянии.
type TagState struct {
	Present bool   `json:"present"`
	Rev     int64  `json:"rev"`
	Orig    string `json:"orig"`
}

// EntitySnapshot материализованное текущее состояние сущности -
// детерминированная свертка всех примененных ChangeRecord.
type EntitySnapshot struct {
	UpdatedAt   time.Time             `json:"updated_at"`
	Fields      map[string]FieldState `json:"fields"`
	Tags        map[string]TagState   `json:"tags,omitempty"`
	Vector      VersionVector         `json:"vector"`
	EntityID    string                `json:"entity_id"`
	EntityKind  string                `json:"entity_kind"`
	WorkspaceID string                `json:"workspace_id"`
	Deleted     bool                  `json:"deleted"`
}

// NewEntitySnapshot создает пустой снапшот для новой сущности.
func NewEntitySnapshot(entityID, entityKind, workspaceID string) *EntitySnapshot {
	return &EntitySnapshot{
		EntityID:    entityID,
		EntityKind:  entityKind,
		WorkspaceID: workspaceID,
		Fields:      make(map[string]FieldState),
		Tags:        make(map[string]TagState),
		Vector:      NewVersionVector(),
	}
}

// Clone создает глубокую копию снапшота.
func (s *EntitySnapshot) Clone() *EntitySnapshot {
	clone := &EntitySnapshot{
		EntityID:    s.EntityID,
		EntityKind:  s.EntityKind,
		WorkspaceID: s.WorkspaceID,
		Deleted:     s.Deleted,
		UpdatedAt:   s.UpdatedAt,
		Vector:      s.Vector.Clone(),
		Fields:      make(map[string]FieldState, len(s.Fields)),
		Tags:        make(map[string]TagState, len(s.Tags)),
	}
	for name, state := range s.Fields {
		value := make(json.RawMessage, len(state.Value))
		copy(value, state.Value)
		clone.Fields[name] = FieldState{Value: value, Rev: state.Rev, Orig: state.Orig}
	}
	for tag, state := range s.Tags {
		clone.Tags[tag] = state
	}
	return clone
}

// FieldRev возвращает текущую ревизию поля (0 если поле не установлено).
func (s *EntitySnapshot) FieldRev(name string) int64 {
	return s.Fields[name].Rev
}

// ActiveTags возвращает отсортированный список неудаленных тегов.
func (s *EntitySnapshot) ActiveTags() []string {
	tags := make([]string, 0, len(s.Tags))
	for tag, state := range s.Tags {
		if state.Present {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// FieldString декодирует строковое поле снапшота.
// Возвращает пустую строку, если поле отсутствует или имеет другой тип.
func (s *EntitySnapshot) FieldString(name string) string {
	state, ok := s.Fields[name]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(state.Value, &value); err != nil {
		return ""
	}
	return value
}
