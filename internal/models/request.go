package models

import "time"

// Локальные статусы заявки (закрытое множество).
const (
	RequestStatusPending            = "PENDING"
	RequestStatusApproved           = "APPROVED"
	RequestStatusProcessing         = "PROCESSING"
	RequestStatusPartiallyAvailable = "PARTIALLY_AVAILABLE"
	RequestStatusCompleted          = "COMPLETED"
	RequestStatusDeclined           = "DECLINED"
	RequestStatusCancelled          = "CANCELLED"
	RequestStatusAnomalous          = "ANOMALOUS"
)

const (
	MediaKindMovie   = "movie"
	MediaKindShow    = "show"
	MediaKindEpisode = "episode"
)

// Источники изменения статуса в истории.
const (
	ChangeSourcePoll   = "poll"
	ChangeSourceAudit  = "audit"
	ChangeSourceManual = "manual"
)

type Request struct {
	ID             uint64
	ExternalID     uint64
	UserID         string
	MediaKind      string
	Title          string
	Year           *string
	SeasonEpisode  *string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastCheckedAt  *time.Time
	Notified       bool
	NotifiedAt     *time.Time
	CheckFailCount int32
	LastError      *string
	Version        int64
}

type StatusChangeEvent struct {
	ID        uint64
	RequestID uint64
	From      string
	To        string
	ChangedAt time.Time
	Source    string
	Note      *string
}

type ServiceHealth struct {
	ServiceName          string
	Healthy              bool
	ConsecutiveFailures  int32
	ConsecutiveSuccesses int32
	LastCheckedAt        time.Time
	LastHealthyAt        *time.Time
	LastError            *string
}

type RequestCreateInput struct {
	ExternalID    uint64
	UserID        string
	MediaKind     string
	Title         string
	Year          *string
	SeasonEpisode *string
}

// IsTerminal: из терминального статуса автоматических переходов нет.
func IsTerminal(status string) bool {
	switch status {
	case RequestStatusCompleted, RequestStatusDeclined, RequestStatusCancelled:
		return true
	}
	return false
}

func IsValidMediaKind(kind string) bool {
	switch kind {
	case MediaKindMovie, MediaKindShow, MediaKindEpisode:
		return true
	}
	return false
}

var forwardRank = map[string]int{
	RequestStatusPending:            0,
	RequestStatusApproved:           1,
	RequestStatusProcessing:         2,
	RequestStatusPartiallyAvailable: 3,
	RequestStatusCompleted:          4,
}

// CanTransition проверяет переход по фиксированному графу:
// Pending → Approved → Processing → PartiallyAvailable → Completed,
// из любого нетерминального — сразу в Declined/Cancelled.
// Терминальные статусы опрос перезаписывать не может (это дрейф, им
// занимается аудитор).
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	if IsTerminal(from) || from == RequestStatusAnomalous {
		return false
	}
	if to == RequestStatusDeclined || to == RequestStatusCancelled {
		return true
	}
	fr, okFrom := forwardRank[from]
	tr, okTo := forwardRank[to]
	if !okFrom || !okTo {
		return false
	}
	return tr > fr
}
