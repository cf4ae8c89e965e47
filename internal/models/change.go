package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityKind константы для типов сущностей
const (
	KindTask      = "task"
	KindProject   = "project"
	KindTimeEntry = "time_entry"
)

// FieldDelta описывает изменение одного поля сущности.
// Rev - монотонный счетчик ревизий этого поля: автор берет текущую
// ревизию поля из своего снапшота и увеличивает на единицу.
type FieldDelta struct {
	Value json.RawMessage `json:"value"`
	Rev   int64           `json:"rev"`
}

// TagOp операция над тегом (добавление или удаление-маркер).
// Ревизия считается так же, как у полей: текущая ревизия тега + 1.
type TagOp struct {
	Tag string `json:"tag"`
	Rev int64  `json:"rev"`
}

// ChangeRecord представляет одну неизменяемую запись в журнале изменений.
// Это единица синхронизации: состояние сущности восстанавливается
// детерминированной сверткой всех ее записей в причинном порядке.
type ChangeRecord struct {
	WallClock   time.Time             `json:"wall_clock"` // только для tie-break и отображения, не для упорядочивания
	Fields      map[string]FieldDelta `json:"fields,omitempty"`
	Deps        VersionVector         `json:"deps"` // причинный предшественник: вектор, который должен быть включен до применения
	EntityID    string                `json:"entity_id"`
	EntityKind  string                `json:"entity_kind"`
	WorkspaceID string                `json:"workspace_id"`
	Origin      string                `json:"origin"` // client id устройства, создавшего запись
	TagsAdd     []TagOp               `json:"tags_add,omitempty"`
	TagsRemove  []TagOp               `json:"tags_remove,omitempty"`
	Seq         int64                 `json:"seq"` // локальный sequence number origin'а, монотонный
	Tombstone   bool                  `json:"tombstone,omitempty"`
}

// Key возвращает уникальный ключ записи в журнале.
// Пара (origin, seq) идентифицирует запись на всех репликах.
func (c *ChangeRecord) Key() string {
	return fmt.Sprintf("%s/%d", c.Origin, c.Seq)
}

// Clone создает глубокую копию записи.
func (c *ChangeRecord) Clone() *ChangeRecord {
	clone := &ChangeRecord{
		EntityID:    c.EntityID,
		EntityKind:  c.EntityKind,
		WorkspaceID: c.WorkspaceID,
		Origin:      c.Origin,
		Seq:         c.Seq,
		Deps:        c.Deps.Clone(),
		Tombstone:   c.Tombstone,
		WallClock:   c.WallClock,
	}
	if c.Fields != nil {
		clone.Fields = make(map[string]FieldDelta, len(c.Fields))
		for name, delta := range c.Fields {
			value := make(json.RawMessage, len(delta.Value))
			copy(value, delta.Value)
			clone.Fields[name] = FieldDelta{Value: value, Rev: delta.Rev}
		}
	}
	clone.TagsAdd = append([]TagOp(nil), c.TagsAdd...)
	clone.TagsRemove = append([]TagOp(nil), c.TagsRemove...)
	return clone
}

// Validate проверяет минимальную целостность записи перед применением.
func (c *ChangeRecord) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("change record: empty entity id")
	}
	if c.Origin == "" {
		return fmt.Errorf("change record: empty origin")
	}
	if c.Seq <= 0 {
		return fmt.Errorf("change record: non-positive seq %d", c.Seq)
	}
	if len(c.Fields) == 0 && len(c.TagsAdd) == 0 && len(c.TagsRemove) == 0 && !c.Tombstone {
		return fmt.Errorf("change record: empty mutation")
	}
	return nil
}
