package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskKind — тип фоновой задачи, которую исполняет worker.
type TaskKind string

const (
	// TaskGenerate — сгенерировать изображение для GenerationJob.
	TaskGenerate TaskKind = "generate"

	// TaskPublish — опубликовать захваченный ScheduledPost.
	TaskPublish TaskKind = "publish"

	// TaskSyncAnalytics — обновить метрики одного опубликованного поста.
	TaskSyncAnalytics TaskKind = "sync_analytics"
)

// TaskRef — ссылка на задачу: что сделать и с какой сущностью.
// Сама задача состояния не несёт, всё читается из хранилища.
type TaskRef struct {
	Kind     TaskKind  `json:"kind"`
	EntityID uuid.UUID `json:"entity_id"`
}

func (r TaskRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.EntityID)
}
