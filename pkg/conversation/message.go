package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var uuid uuid.UUID
	if err := json.Unmarshal(data, &uuid); err != nil {
		return err
	}
	*id = NodeID(uuid)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

var NullNode NodeID = NodeID(uuid.Nil)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

type OwnerKind string

const (
	OwnerUser      OwnerKind = "user"
	OwnerCharacter OwnerKind = "character"
)

// Owner identifies who said a message. Characters are addressed by their
// index in the chat's participant list; the user always has index 0.
type Owner struct {
	Kind  OwnerKind `json:"kind"`
	Index int       `json:"index,omitempty"`
}

func UserOwner() Owner {
	return Owner{Kind: OwnerUser}
}

func CharacterOwner(index int) Owner {
	return Owner{Kind: OwnerCharacter, Index: index}
}

func (o Owner) IsUser() bool {
	return o.Kind == OwnerUser
}

// Participant returns the index of the owner in a [user, character...]
// participant list.
func (o Owner) Participant() int {
	if o.IsUser() {
		return 0
	}
	return o.Index + 1
}

func (o Owner) Role() Role {
	if o.IsUser() {
		return RoleUser
	}
	return RoleAssistant
}

func (o Owner) String() string {
	if o.IsUser() {
		return string(OwnerUser)
	}
	return fmt.Sprintf("%s(%d)", o.Kind, o.Index)
}

// Message is a single turn of the conversation. Apart from Text, a message
// does not change once created.
type Message struct {
	ID         NodeID    `json:"id"`
	Owner      Owner     `json:"owner"`
	Text       string    `json:"text"`
	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`
}

type MessageOption func(*Message)

func WithTime(time time.Time) MessageOption {
	return func(message *Message) {
		message.Time = time
		message.LastUpdate = time
	}
}

func WithID(id NodeID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func NewMessage(owner Owner, text string, options ...MessageOption) *Message {
	now := time.Now()
	ret := &Message{
		ID:         NewNodeID(),
		Owner:      owner,
		Text:       text,
		Time:       now,
		LastUpdate: now,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func NewUserMessage(text string, options ...MessageOption) *Message {
	return NewMessage(UserOwner(), text, options...)
}

// NewCharacterMessage trims the text, greetings from character cards often
// carry surrounding whitespace.
func NewCharacterMessage(index int, text string, options ...MessageOption) *Message {
	return NewMessage(CharacterOwner(index), strings.TrimSpace(text), options...)
}

// Sibling returns an empty message with the same owner, used as a fresh
// slot for a regeneration or an edit of the same turn.
func (m *Message) Sibling() *Message {
	return NewMessage(m.Owner, "")
}

func (m *Message) Role() Role {
	return m.Owner.Role()
}

func (m *Message) appendText(fragment string) {
	m.Text += fragment
	m.LastUpdate = time.Now()
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Owner, strings.TrimRight(m.Text, "\n"))
}
