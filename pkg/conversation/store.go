package conversation

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store owns the root of a conversation tree and serializes every access to
// it. The lock is held for the duration of a single traversal or mutation.
//
// Besides the tree, the store indexes every message by ID. Generation runs
// use the index to stream into the exact message they were started for,
// wherever the selection has moved in the meantime.
type Store struct {
	mu        sync.Mutex
	root      *Node
	index     map[NodeID]*Message
	responder Owner
}

type StoreOption func(*Store)

// WithResponder sets the owner of the placeholder messages created for the
// character's answers. Defaults to the first character.
func WithResponder(owner Owner) StoreOption {
	return func(s *Store) {
		s.responder = owner
	}
}

// NewStore creates a conversation whose root holds one alternative per
// greeting of the character.
func NewStore(greetings []string, options ...StoreOption) *Store {
	ret := &Store{
		root:      NewNode(),
		index:     map[NodeID]*Message{},
		responder: CharacterOwner(0),
	}
	for _, option := range options {
		option(ret)
	}

	for _, greeting := range greetings {
		msg := NewCharacterMessage(ret.responder.Index, greeting)
		ret.root.push(msg, NewNode())
		ret.index[msg.ID] = msg
	}

	log.Trace().Int("greetings", len(greetings)).Msg("conversation store created")
	return ret
}

func (s *Store) append(msg *Message) {
	s.root.Append(msg)
	s.index[msg.ID] = msg
}

// AppendUserTurn adds text as a user message, if it is not blank, followed
// by an empty character message. The ID of the character message is
// returned: it always needs to be generated. A blank text therefore asks
// the character to continue.
func (s *Store) AppendUserTurn(text string) (NodeID, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if text != "" {
		log.Trace().Int("length", len(text)).Msg("adding user message")
		s.append(NewUserMessage(text))
	}

	log.Trace().Msg("adding character response")
	response := NewMessage(s.responder, "")
	s.append(response)
	return response.ID, nil
}

// Advance selects the next alternative at depth. When a new alternative had
// to be created, its ID is returned with true.
func (s *Store) Advance(depth int) (NodeID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, created, err := s.root.Advance(depth)
	if err != nil {
		return NullNode, false, err
	}
	log.Trace().Int("depth", depth).Bool("created", created).Msg("advanced")
	if !created {
		return msg.ID, false, nil
	}
	s.index[msg.ID] = msg
	return msg.ID, true, nil
}

func (s *Store) Retreat(depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Trace().Int("depth", depth).Msg("retreating")
	return s.root.Retreat(depth)
}

// Edit adds text as a new alternative of the message at depth. Editing a
// user message creates an empty character response whose ID is returned
// with true.
func (s *Store) Edit(depth int, text string) (NodeID, bool, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.root.at(depth)
	if err != nil {
		return NullNode, false, err
	}
	response, created, err := s.root.Edit(depth, text, s.responder)
	if err != nil {
		return NullNode, false, err
	}
	edited := target.alternatives[target.selected]
	s.index[edited.ID] = edited

	log.Trace().Int("depth", depth).Bool("response", created).Msg("added edit")
	if !created {
		return NullNode, false, nil
	}
	s.index[response.ID] = response
	return response.ID, true, nil
}

// Remove deletes the selected alternative at depth and everything that
// follows it.
func (s *Store) Remove(depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.root.Remove(depth)
	if err != nil {
		return err
	}
	for _, msg := range removed {
		delete(s.index, msg.ID)
	}
	log.Trace().Int("depth", depth).Int("removed", len(removed)).Msg("removed alternative")
	return nil
}

// History returns a copy of the selected path, oldest message first.
func (s *Store) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := []Message{}
	s.root.Project(&history)
	return history
}

// HistoryStructure returns the position of the selected alternative at each
// depth of the selected path.
func (s *Store) HistoryStructure() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	structure := []Position{}
	s.root.ProjectStructure(&structure)
	return structure
}

// AppendToStreamingTail appends fragment to the last message of the
// selected path.
func (s *Store) AppendToStreamingTail(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.root.AppendToStreamingTail(fragment)
}

// AppendFragment appends fragment to the message with the given ID. It
// returns false if the message is not part of the conversation (anymore).
func (s *Store) AppendFragment(id NodeID, fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[id]
	if !ok {
		return false
	}
	msg.appendText(fragment)
	return true
}

// Message returns a copy of the message with the given ID.
func (s *Store) Message(id NodeID) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// Lineage returns copies of the messages leading to the message with the
// given ID, oldest first, without the message itself.
func (s *Store) Lineage(id NodeID) ([]Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return nil, false
	}
	path, ok := s.root.lineage(id)
	if !ok {
		return nil, false
	}
	ret := make([]Message, 0, len(path))
	for _, msg := range path {
		ret = append(ret, *msg)
	}
	return ret, true
}

// Check verifies the invariants of the whole tree.
func (s *Store) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.root.Check(); err != nil {
		return errors.Wrap(err, "conversation tree")
	}
	return nil
}
