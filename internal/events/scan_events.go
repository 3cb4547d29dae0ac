package events

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"recycloai/internal/models"
)

const (
	EventScanRecorded        = "scan.recorded"
	EventAchievementUnlocked = "achievement.unlocked"
)

// ScanRecordedEvent is emitted after a scan and its aggregate update commit
type ScanRecordedEvent struct {
	BaseEvent
	Scan      models.ScanRecord          `json:"scan"`
	Aggregate models.UserImpactAggregate `json:"aggregate"`
}

// NewScanRecordedEvent creates a scan recorded event
func NewScanRecordedEvent(scan models.ScanRecord, agg models.UserImpactAggregate) *ScanRecordedEvent {
	return &ScanRecordedEvent{
		BaseEvent: newBase(EventScanRecorded, scan.UserID),
		Scan:      scan,
		Aggregate: agg,
	}
}

// AchievementUnlockedEvent is emitted once per Locked to Unlocked transition
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID int64     `json:"achievement_id"`
	Name          string    `json:"name"`
	Icon          string    `json:"icon"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// NewAchievementUnlockedEvent creates an achievement unlocked event
func NewAchievementUnlockedEvent(userID string, def models.AchievementDefinition, unlockedAt time.Time) *AchievementUnlockedEvent {
	return &AchievementUnlockedEvent{
		BaseEvent:     newBase(EventAchievementUnlocked, userID),
		AchievementID: def.ID,
		Name:          def.Name,
		Icon:          def.Icon,
		UnlockedAt:    unlockedAt,
	}
}

func newBase(eventType, userID string) BaseEvent {
	return BaseEvent{
		EventID:   GenerateEventID(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
	}
}

// GenerateEventID returns a random event id
func GenerateEventID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + id.String()
}
