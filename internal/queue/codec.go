package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/owmeta/stats-api/internal/models"
)

// ErrBadMessage marks a delivery that cannot be decoded into a FetchMessage.
var ErrBadMessage = errors.New("undecodable queue message")

// messageNamespace scopes deterministic message IDs.
var messageNamespace = uuid.MustParse("6f0c8a8e-2b7e-4c53-9c1e-5d3f1a7b9e21")

var validate = validator.New()

type body struct {
	Battletag      string    `json:"battletag"`
	Platform       string    `json:"platform"`
	RawJSON        string    `json:"raw_json"`
	FetchTimestamp time.Time `json:"fetch_timestamp"`
}

// MessageID is stable for a (battletag, platform, fetch time) triple, so a
// re-published fetch carries the same ID.
func MessageID(msg models.FetchMessage) string {
	key := msg.Battletag + "|" + msg.Platform + "|" + msg.FetchTimestamp.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(messageNamespace, []byte(key)).String()
}

// Encode builds a persistent publishing for msg. The fetch time travels both
// as the fetch-timestamp header and in the body.
func Encode(msg models.FetchMessage) (amqp.Publishing, error) {
	ts := msg.FetchTimestamp.UTC()
	payload, err := json.Marshal(body{
		Battletag:      msg.Battletag,
		Platform:       msg.Platform,
		RawJSON:        msg.RawJSON,
		FetchTimestamp: ts,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode message: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    MessageID(msg),
		Timestamp:    ts,
		Headers: amqp.Table{
			models.FetchTimestampHeader: ts.Format(time.RFC3339Nano),
		},
		Body: payload,
	}, nil
}

// Decode turns a delivery back into a FetchMessage. The header timestamp wins
// over the body copy.
func Decode(d amqp.Delivery) (models.FetchMessage, error) {
	var b body
	if err := json.Unmarshal(d.Body, &b); err != nil {
		return models.FetchMessage{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	msg := models.FetchMessage{
		Battletag:      b.Battletag,
		Platform:       b.Platform,
		RawJSON:        b.RawJSON,
		FetchTimestamp: b.FetchTimestamp,
	}

	if raw, ok := d.Headers[models.FetchTimestampHeader]; ok {
		s, _ := raw.(string)
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return models.FetchMessage{}, fmt.Errorf("%w: bad %s header %q", ErrBadMessage, models.FetchTimestampHeader, s)
		}
		msg.FetchTimestamp = ts
	}
	if msg.FetchTimestamp.IsZero() {
		return models.FetchMessage{}, fmt.Errorf("%w: missing fetch timestamp", ErrBadMessage)
	}
	msg.FetchTimestamp = msg.FetchTimestamp.UTC()

	if err := validate.Struct(msg); err != nil {
		return models.FetchMessage{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return msg, nil
}
