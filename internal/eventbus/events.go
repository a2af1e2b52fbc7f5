package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrClosed возвращается при публикации в закрытую шину
var ErrClosed = errors.New("eventbus: шина закрыта")

// Типы событий мира
const (
	TypeBlockChanged = "BlockChanged"
	TypeChunkRebuilt = "ChunkRebuilt"
	TypeChunkApplied = "ChunkApplied"
)

// PayloadVersion версия схемы полезной нагрузки событий мира
const PayloadVersion = 1

// BlockChanged правка одного блока
type BlockChanged struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	Type      uint8  `json:"type"`
	Previous  uint8  `json:"previous"`
	Occupancy bool   `json:"occupancy_changed"` // Изменилась занятость, срезы пересчитаны
	Chunks    []int  `json:"chunks"`            // Затронутые чанки
	Cause     string `json:"cause,omitempty"`   // set | place | remove | brightness
}

// ChunkRebuilt итог сборки меша чанка
type ChunkRebuilt struct {
	Index         int    `json:"index"`
	Vertices      int    `json:"vertices"`
	Quads         int    `json:"quads"`
	DirtySlices   int    `json:"dirty_slices"`
	ShapesAdded   int    `json:"shapes_added"`
	ShapesRemoved int    `json:"shapes_removed"`
	Fingerprint   string `json:"fingerprint"`
}

// ChunkApplied содержимое чанка заменено целиком
type ChunkApplied struct {
	Index   int `json:"index"`
	Changed int `json:"changed"` // Изменённых блоков
}

// NewEnvelope упаковывает полезную нагрузку в конверт с новым UUID
func NewEnvelope(source, eventType, correlationID string, priority int, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventbus: сериализация %s: %w", eventType, err)
	}

	return &Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		EventType:     eventType,
		Version:       PayloadVersion,
		CorrelationID: correlationID,
		Priority:      priority,
		Payload:       data,
	}, nil
}

// Decode разбирает полезную нагрузку конверта в target
func (e *Envelope) Decode(target interface{}) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("eventbus: разбор %s: %w", e.EventType, err)
	}
	return nil
}
