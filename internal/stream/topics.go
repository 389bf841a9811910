package stream

import "strconv"

const (
	topicRawPrefix  = "metrics:raw:"
	TopicProcessed  = "metrics:processed"
	TopicAggregated = "metrics:aggregated"
	TopicAlerts     = "metrics:alerts"
	TopicDeadLetter = "metrics:deadletter"
)

// RawTopic names the stream backing one partition of the raw event log.
func RawTopic(partition int) string {
	return topicRawPrefix + strconv.Itoa(partition)
}
