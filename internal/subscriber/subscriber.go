package subscriber

// Subscriber receives encoded location or event frames for a sender.
// Push reports true when the subscriber is closed and should be dropped.
type Subscriber interface {
	Push(sender string, d []byte) (closed bool)
}
