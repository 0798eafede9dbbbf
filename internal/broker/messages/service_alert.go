package messages

import "time"

const (
	AlertKindDown      = "down"
	AlertKindRecovered = "recovered"
)

// ServiceAlert эмитится монитором здоровья ровно один раз на границе
// перехода healthy→unhealthy (и обратно), не на каждом фейле.
type ServiceAlert struct {
	ServiceName         string    `json:"service_name"`
	Kind                string    `json:"kind"`
	ConsecutiveFailures int32     `json:"consecutive_failures"`
	LastError           *string   `json:"last_error,omitempty"`
	At                  time.Time `json:"at"`
}
