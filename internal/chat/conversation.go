package chat

import (
	"github.com/suPer8Hu/counsel-platform/internal/msgcrypt"
)

// MessageCipher is the encryption port used for message bodies.
type MessageCipher interface {
	Encrypt(plaintext string) (msgcrypt.Payload, error)
	Decrypt(p msgcrypt.Payload) (string, error)
}

// Payload returns the stored ciphertext in the form the cipher expects.
func (m *Message) Payload() msgcrypt.Payload {
	return msgcrypt.Payload{
		Ciphertext: m.ContentEnc,
		IV:         m.IV,
		Version:    m.EncVersion,
		Tag:        m.ContentHash,
	}
}

// HistoryEntry is one decrypted turn. Err is set, and Text holds the
// decryption marker, when the stored body could not be decrypted.
type HistoryEntry struct {
	MessageID uint64
	Role      Role
	Text      string
	Err       error
}

// Conversation is a room together with its messages in store order.
type Conversation struct {
	room     Room
	messages []Message
}

func NewConversation(room Room, messages []Message) *Conversation {
	return &Conversation{room: room, messages: messages}
}

func (c *Conversation) Room() Room { return c.room }

func (c *Conversation) Messages() []Message { return c.messages }

func (c *Conversation) IsActive() bool { return c.room.IsActive() }

// LastMessageID is the parent for the next appended message.
func (c *Conversation) LastMessageID() *uint64 {
	if len(c.messages) == 0 {
		return nil
	}
	id := c.messages[len(c.messages)-1].ID
	return &id
}

// Append records a stored message in the aggregate.
func (c *Conversation) Append(m Message) error {
	if !c.IsActive() {
		return ErrRoomNotActive
	}
	c.messages = append(c.messages, m)
	return nil
}

// PromptHistory decrypts every message in order. A message that fails to
// decrypt does not stop the rest.
func (c *Conversation) PromptHistory(dec MessageCipher) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(c.messages))
	for i := range c.messages {
		m := &c.messages[i]
		e := HistoryEntry{MessageID: m.ID, Role: m.Role}
		text, err := dec.Decrypt(m.Payload())
		if err != nil {
			e.Text = msgcrypt.DecryptionErrorMarker
			e.Err = err
		} else {
			e.Text = text
		}
		out = append(out, e)
	}
	return out
}
