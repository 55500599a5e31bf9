package connectors

const (
	TopicConnStatus  = "conn.status"
	TopicMessage     = "link.message"
	TopicRawFrameIn  = "raw.frame.in"
	TopicRawFrameOut = "raw.frame.out"
)
