package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Message is one entry read off a stream. Offset is the Redis stream entry
// ID; it accompanies the payload into dead-letter records.
type Message struct {
	Topic   string
	Offset  string
	Payload []byte
}

// Reader is a cursor-based pull consumer over a single stream. The cursor
// only moves when the caller acknowledges via Advance, so an entry that fails
// mid-processing is re-read on restart (at-least-once) and the ack boundary
// is an explicit decision point in the processing loop.
type Reader struct {
	redis  *redis.Client
	topic  string
	cursor string
	batch  int64
}

func NewReader(redisClient *redis.Client, topic string, batch int64) *Reader {
	if batch < 1 {
		batch = 1
	}
	return &Reader{
		redis:  redisClient,
		topic:  topic,
		cursor: "0-0",
		batch:  batch,
	}
}

// Fetch returns the next batch of entries after the cursor, oldest first.
// An empty slice means the stream is currently drained.
func (r *Reader) Fetch(ctx context.Context) ([]Message, error) {
	entries, err := r.redis.XRangeN(ctx, r.topic, nextID(r.cursor), "+", r.batch).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.topic, err)
	}

	msgs := make([]Message, 0, len(entries))
	for _, entry := range entries {
		payload, _ := entry.Values[payloadField].(string)
		msgs = append(msgs, Message{
			Topic:   r.topic,
			Offset:  entry.ID,
			Payload: []byte(payload),
		})
	}
	return msgs, nil
}

// Advance acknowledges everything up to and including offset.
func (r *Reader) Advance(offset string) {
	r.cursor = offset
}

func (r *Reader) Cursor() string {
	return r.cursor
}

// nextID returns the smallest stream ID strictly greater than id.
func nextID(id string) string {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return id
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return id
	}
	return ms + "-" + strconv.FormatUint(n+1, 10)
}
