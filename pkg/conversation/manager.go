// Package conversation provides the branching conversation between a user and a character.
//
// The conversation is a tree of turn slots (see Node). Every slot holds the
// alternatives that were generated or written for one turn, and the subtree
// following each alternative. Navigating between alternatives switches the
// branch that is displayed, regenerating a turn adds an alternative, editing
// a turn adds an alternative with new text.
//
// The Manager interface is the surface callers use. Store implements it on
// top of a single mutex guarded tree, so that a generation run streaming
// into the tree from another goroutine and a caller reading the history
// never observe a half-applied mutation.
package conversation

// Manager defines the operations on a branching conversation.
//
// Depths are zero-based distances from the root along the selected path.
// Operations that create an unanswered turn return its ID and true: the
// caller is expected to start a generation run for it.
type Manager interface {
	AppendUserTurn(text string) (NodeID, error)
	Advance(depth int) (NodeID, bool, error)
	Retreat(depth int) error
	Edit(depth int, text string) (NodeID, bool, error)
	Remove(depth int) error

	History() []Message
	HistoryStructure() []Position

	AppendFragment(id NodeID, fragment string) bool
	Message(id NodeID) (Message, bool)
	Lineage(id NodeID) ([]Message, bool)
}

var _ Manager = (*Store)(nil)
