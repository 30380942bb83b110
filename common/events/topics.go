package events

// Materials to logistics.
const (
	TopicReadyForCollection = "events:materials:ready_for_collection"
	TopicRequestUpdated     = "events:materials:updated"
	TopicRequestCancelled   = "events:materials:cancelled"
	TopicRequestOnHold      = "events:materials:on_hold"
)

// Logistics to materials.
const (
	TopicTaskAccepted  = "events:logistics:task_accepted"
	TopicTaskInTransit = "events:logistics:task_in_transit"
	TopicTaskDelivered = "events:logistics:task_delivered"
	TopicTaskException = "events:logistics:task_exception"
)

// TopicDeadLetter receives events no handler could decode or validate.
const TopicDeadLetter = "events:dlq"

// Event types carried in the envelope.
const (
	TypeReadyForCollection = "request.ready_for_collection"
	TypeRequestUpdated     = "request.updated"
	TypeRequestCancelled   = "request.cancelled"
	TypeRequestOnHold      = "request.on_hold"
	TypeTaskAccepted       = "task.accepted"
	TypeTaskInTransit      = "task.in_transit"
	TypeTaskDelivered      = "task.delivered"
	TypeTaskException      = "task.exception"
)

// Sources.
const (
	SourceMaterials = "materials"
	SourceLogistics = "logistics"
)

// MaterialsTopics are published by materials and consumed by logistics.
var MaterialsTopics = []string{
	TopicReadyForCollection,
	TopicRequestUpdated,
	TopicRequestCancelled,
	TopicRequestOnHold,
}

// LogisticsTopics are published by logistics and consumed by materials.
var LogisticsTopics = []string{
	TopicTaskAccepted,
	TopicTaskInTransit,
	TopicTaskDelivered,
	TopicTaskException,
}

// AllTopics returns every event topic including the dead-letter topic.
func AllTopics() []string {
	all := make([]string, 0, len(MaterialsTopics)+len(LogisticsTopics)+1)
	all = append(all, MaterialsTopics...)
	all = append(all, LogisticsTopics...)
	return append(all, TopicDeadLetter)
}

// TopicFor returns the topic that carries eventType, or "" if unknown.
func TopicFor(eventType string) string {
	newPayload, ok := registry[eventType]
	if !ok {
		return ""
	}
	return newPayload().Topic()
}
