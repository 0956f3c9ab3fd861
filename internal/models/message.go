package models

import "time"

// FetchTimestampHeader carries the ISO-8601 UTC fetch time on queue messages.
const FetchTimestampHeader = "fetch-timestamp"

// FetchMessage is one fetched player document travelling through the queue.
type FetchMessage struct {
	Battletag      string    `json:"battletag" validate:"required,max=32"`
	Platform       string    `json:"platform" validate:"required,oneof=pc console"`
	RawJSON        string    `json:"raw_json" validate:"required"`
	FetchTimestamp time.Time `json:"fetch_timestamp" validate:"required"`
}
