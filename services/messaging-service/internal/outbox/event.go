package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types the messaging engine publishes.
const (
	EventAppointmentNoShow = "appointment.no_show.v1"
	EventMessageSent       = "message.sent.v1"
	EventMessageFailed     = "message.failed.v1"
)
