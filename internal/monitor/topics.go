package monitor

const (
	TopicReading   = "reading"
	TopicStatus    = "status"
	TopicLinkState = "link.state"
)
