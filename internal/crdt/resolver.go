// Package crdt реализует детерминированное разрешение конфликтов
// между конкурентными изменениями одной сущности.
//
// Правила слияния:
//   - поля: field-level last-writer-wins по счетчику ревизий поля;
//     при равных ревизиях побеждает лексикографически меньший origin id
//     (не wall-clock: часы устройств могут расходиться);
//   - tombstone против конкурентного редактирования: побеждает tombstone,
//     но дельта редактирования остается в журнале для ручного восстановления;
//   - теги: add-wins OR-set - конкурентные добавления объединяются,
//     удаление оставляет маркер со своей ревизией.
//
// Слияние чистое и детерминированное: клиент и сервер, применив одни и те же
// записи в любом допустимом порядке, сходятся к одному снапшоту без
// дополнительного round-trip арбитража. Для полей с неизвестной семантикой
// политика не падает, а закрывается тем же LWW правилом.
package crdt

import (
	"sort"

	"github.com/iudanet/tasksync/internal/models"
)

// FieldWins определяет, побеждает ли дельта (rev, origin) над текущим
// состоянием поля (oldRev, oldOrigin). Правило образует строгий тотальный
// порядок на конкурентных дельтах одного поля.
func FieldWins(rev int64, origin string, oldRev int64, oldOrigin string) bool {
	if rev != oldRev {
		return rev > oldRev
	}
	if origin == oldOrigin {
		// та же ревизия того же автора - дубликат, состояние не меняется
		return false
	}
	return origin < oldOrigin
}

// tagWins применяет правило слияния для тега: большая ревизия побеждает,
// при равных ревизиях add побеждает remove (add-wins), при одинаковом
// действии - меньший origin.
func tagWins(present bool, rev int64, origin string, old models.TagState) bool {
	if rev != old.Rev {
		return rev > old.Rev
	}
	if present != old.Present {
		return present
	}
	if origin == old.Orig {
		return false
	}
	return origin < old.Orig
}

// Fold применяет одну запись журнала к снапшоту сущности.
// Вызывающий обязан обеспечить причинный порядок (см. store.Apply);
// сама свертка коммутативна для конкурентных записей, поэтому порядок
// их применения не влияет на результат.
func Fold(snap *models.EntitySnapshot, rec *models.ChangeRecord) {
	snap.Vector.Set(rec.Origin, rec.Seq)

	// Tombstone необратим: сущность сохраняет идентичность и вектор,
	// но остается удаленной независимо от конкурентных правок.
	if rec.Tombstone {
		snap.Deleted = true
	}

	for name, delta := range rec.Fields {
		state := snap.Fields[name]
		if FieldWins(delta.Rev, rec.Origin, state.Rev, state.Orig) {
			snap.Fields[name] = models.FieldState{
				Value: delta.Value,
				Rev:   delta.Rev,
				Orig:  rec.Origin,
			}
		}
	}

	for _, op := range rec.TagsAdd {
		if tagWins(true, op.Rev, rec.Origin, snap.Tags[op.Tag]) {
			snap.Tags[op.Tag] = models.TagState{Present: true, Rev: op.Rev, Orig: rec.Origin}
		}
	}
	for _, op := range rec.TagsRemove {
		if tagWins(false, op.Rev, rec.Origin, snap.Tags[op.Tag]) {
			snap.Tags[op.Tag] = models.TagState{Present: false, Rev: op.Rev, Orig: rec.Origin}
		}
	}

	if rec.WallClock.After(snap.UpdatedAt) {
		snap.UpdatedAt = rec.WallClock
	}
}

// Merge объединяет две конкурентные записи одной сущности в одну
// результирующую запись относительно общего предка.
//
// Функция чистая и симметричная: Merge(a, b, ancestor) и Merge(b, a, ancestor)
// дают одинаковый результат, поэтому обе стороны могут вычислить слияние
// независимо. Дельты по непересекающимся полям коммутируют и попадают в
// результат обе; по совпадающим полям выбирается победитель по FieldWins.
func Merge(local, remote *models.ChangeRecord, ancestor *models.EntitySnapshot) *models.ChangeRecord {
	merged := &models.ChangeRecord{
		EntityID:    local.EntityID,
		EntityKind:  local.EntityKind,
		WorkspaceID: local.WorkspaceID,
		Fields:      make(map[string]models.FieldDelta),
		Deps:        ancestor.Vector.Clone(),
		Tombstone:   local.Tombstone || remote.Tombstone,
	}
	merged.Deps.Set(local.Origin, local.Seq)
	merged.Deps.Set(remote.Origin, remote.Seq)

	// Происхождение слитой записи детерминировано: меньший origin id,
	// чтобы обе реплики пометили результат одинаково.
	merged.Origin = local.Origin
	merged.Seq = local.Seq
	if remote.Origin < local.Origin {
		merged.Origin = remote.Origin
		merged.Seq = remote.Seq
	}

	fieldOrigins := make(map[string]string, len(local.Fields))
	for name, delta := range local.Fields {
		merged.Fields[name] = delta
		fieldOrigins[name] = local.Origin
	}
	for name, delta := range remote.Fields {
		existing, ok := merged.Fields[name]
		if !ok || FieldWins(delta.Rev, remote.Origin, existing.Rev, fieldOrigins[name]) {
			merged.Fields[name] = delta
			fieldOrigins[name] = remote.Origin
		}
	}

	merged.TagsAdd = mergeTagOps(local.TagsAdd, remote.TagsAdd)
	merged.TagsRemove = mergeTagOps(local.TagsRemove, remote.TagsRemove)

	if remote.WallClock.After(local.WallClock) {
		merged.WallClock = remote.WallClock
	} else {
		merged.WallClock = local.WallClock
	}
	return merged
}

// mergeTagOps объединяет операции над тегами, оставляя для каждого тега
// операцию с наибольшей ревизией.
func mergeTagOps(left, right []models.TagOp) []models.TagOp {
	if len(left) == 0 && len(right) == 0 {
		return nil
	}
	byTag := make(map[string]models.TagOp, len(left)+len(right))
	for _, op := range left {
		byTag[op.Tag] = op
	}
	for _, op := range right {
		if existing, ok := byTag[op.Tag]; !ok || op.Rev > existing.Rev {
			byTag[op.Tag] = op
		}
	}
	result := make([]models.TagOp, 0, len(byTag))
	for _, op := range byTag {
		result = append(result, op)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Tag < result[j].Tag })
	return result
}
