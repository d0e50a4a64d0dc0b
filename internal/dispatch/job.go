package dispatch

// HandlerID names the delayed batch worker that drains a bucket. It travels
// in the envelope's class field so a polyglot queue consumer can route it.
const HandlerID = "reindexq.batch"

// Job is the wire envelope handed to the external delayed queue. Ownership
// transfers on submission; this side keeps no reference.
type Job struct {
	JID        string        `json:"jid"`
	Queue      string        `json:"queue"`
	Class      string        `json:"class"`
	At         int64         `json:"at"`
	Args       []interface{} `json:"args"` // [resourceType, bucketTimestamp]
	EnqueuedAt int64         `json:"enqueued_at"`
}
