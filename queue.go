package phxsocket

// outbox is the FIFO of messages awaiting transmission. It is owned by the
// Socket's event loop and never accessed concurrently; the flush cycle
// removes items one at a time, in insertion order.
type outbox struct {
	items []*Message
}

func (q *outbox) push(msg *Message) {
	q.items = append(q.items, msg)
}

// pop removes and returns the head of the queue, or nil when empty.
func (q *outbox) pop() *Message {
	if len(q.items) == 0 {
		return nil
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg
}

func (q *outbox) len() int {
	return len(q.items)
}
