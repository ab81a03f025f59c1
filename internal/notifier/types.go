package notifier

import "time"

type Config struct {
	RatePerSec  int           // default 3
	Burst       int           // default RatePerSec
	SendTimeout time.Duration // default 15s
	HistorySize int           // default 50
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
}
