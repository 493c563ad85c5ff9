package allocation

import "time"

const (
	DRY_RUN_KEY = "dryRun"

	EventPrefix = "allocation."
	Request     = EventPrefix + "request"
	Decided     = EventPrefix + "decided"
	CmdReload   = EventPrefix + "reload"
	CmdStop     = EventPrefix + "stop"
	CmdResume   = EventPrefix + "resume"
)

var (
	CommandTopics = map[string]struct{}{
		CmdReload: {},
		CmdStop:   {},
		CmdResume: {},
	}
)

// Event is one allocation request or command as received from the transport.
// Data holds the shipment facts as JSON.
type Event struct {
	Received  time.Time `json:"received"`
	Processed time.Time `json:"processed"`
	DryRun    bool      `json:"dryRun"`
	Topic     string    `json:"topic"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	Data      []byte    `json:"data"`
}

func IsCommand(topic string) bool {
	_, ok := CommandTopics[topic]
	return ok
}
