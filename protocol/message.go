package protocol

// Content is the optional payload of a Message.
type Content struct {
	Contents string
}

// Message is the unit of application data exchanged on a connection.
//
// Messages are encoded when they are sent, so changing one after handing it
// to a connection has no effect on what goes over the wire.
type Message struct {
	Sender    int64
	Recipient int64

	// Content is nil when the message carries no content at all.
	Content *Content
}

// NewMessage returns a Message carrying contents.
func NewMessage(sender, recipient int64, contents string) Message {
	return Message{
		Sender:    sender,
		Recipient: recipient,
		Content:   &Content{Contents: contents},
	}
}

// HasContent reports whether the message carries a Content, which may still
// hold an empty string.
func (m Message) HasContent() bool {
	return m.Content != nil
}

// GetContents returns the message contents, or "" if there is no Content.
func (m Message) GetContents() string {
	if m.Content == nil {
		return ""
	}

	return m.Content.Contents
}

// Equal reports whether m and o encode to the same Message.
func (m Message) Equal(o Message) bool {
	if m.Sender != o.Sender || m.Recipient != o.Recipient {
		return false
	}

	if m.Content == nil || o.Content == nil {
		return m.Content == nil && o.Content == nil
	}

	return m.Content.Contents == o.Content.Contents
}
