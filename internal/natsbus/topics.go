package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicRunEvents carries the staged progress events of one council run.
func TopicRunEvents(runID string) string {
	return fmt.Sprintf("events.council.%s", runID)
}

// TopicScheduleEvents carries scheduled question outcomes.
func TopicScheduleEvents(scheduleID string) string {
	return fmt.Sprintf("events.schedule.%s", scheduleID)
}

const (
	// TopicAsk is the request/reply subject for putting a question to the
	// council from the command line.
	TopicAsk = "council.ask"

	TopicEventsAll      = "events.>"
	TopicEventsCouncil  = "events.council.*"
	TopicEventsSchedule = "events.schedule.*"
)
