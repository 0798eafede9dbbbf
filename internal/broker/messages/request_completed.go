package messages

import "time"

// RequestCompleted — отрендеренное уведомление о завершённой заявке.
// Публикуется watcher-ом в Kafka ровно в момент успешного dispatch;
// api-бинарь доставляет его в webhook как есть.
type RequestCompleted struct {
	RequestID  uint64 `json:"request_id"`
	ExternalID uint64 `json:"external_id"`

	UserID        string  `json:"user_id"`
	MediaKind     string  `json:"media_kind"`
	Title         string  `json:"title"`
	Year          *string `json:"year,omitempty"`
	SeasonEpisode *string `json:"season_episode,omitempty"`

	CompletedAt    time.Time `json:"completed_at"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	Forced         bool      `json:"forced,omitempty"`
}
