package conversation

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidDepth is returned when a depth does not address a message on
	// the selected path.
	ErrInvalidDepth = errors.New("depth outside of the selected path")
)

// Node is one turn slot of a branching conversation.
//
// alternatives holds the candidate messages for the turn (regenerations and
// edits, all with the same owner), children[i] is the subtree that follows
// alternatives[i], and selected picks the active branch. The selected path
// is obtained by following selected from the root until an empty node.
//
// A node without alternatives also has no children. Such a node only ever
// appears at the end of a branch: it is the open slot the next message
// appended to that branch goes into.
type Node struct {
	alternatives []*Message
	children     []*Node
	selected     int
}

func NewNode() *Node {
	return &Node{}
}

// Position describes one depth of the selected path: Selected is the
// 1-based index of the active alternative, Count the number of alternatives.
type Position struct {
	Selected int `json:"selected"`
	Count    int `json:"count"`
}

func (n *Node) IsEmpty() bool {
	return len(n.alternatives) == 0
}

// Alternatives returns the messages stored at this node.
func (n *Node) Alternatives() []*Message {
	return n.alternatives
}

func (n *Node) Selected() int {
	return n.selected
}

// push adds a message together with its empty subtree.
func (n *Node) push(message *Message, child *Node) {
	n.alternatives = append(n.alternatives, message)
	n.children = append(n.children, child)
}

// Append adds message at the end of the selected path.
func (n *Node) Append(message *Message) {
	current := n
	for len(current.children) > 0 {
		current = current.children[current.selected]
	}
	current.push(message, NewNode())
}

// AppendToStreamingTail appends fragment to the last message of the selected
// path. The last message is the one whose child is still the open, childless
// stub created when the message was appended.
func (n *Node) AppendToStreamingTail(fragment string) {
	current := n
	for !current.IsEmpty() {
		child := current.children[current.selected]
		if len(child.children) == 0 {
			current.alternatives[current.selected].appendText(fragment)
			return
		}
		current = child
	}
}

// at walks depth levels down the selected path and returns the node found
// there. The node has to hold at least one message.
func (n *Node) at(depth int) (*Node, error) {
	if depth < 0 {
		return nil, errors.Wrapf(ErrInvalidDepth, "depth %d", depth)
	}
	current := n
	for i := 0; ; i++ {
		if current.IsEmpty() {
			return nil, errors.Wrapf(ErrInvalidDepth, "depth %d, path ends at %d", depth, i)
		}
		if i == depth {
			return current, nil
		}
		current = current.children[current.selected]
	}
}

// Advance selects the next alternative at depth. If the current alternative
// is the last one, a new empty sibling is created, selected and returned
// together with true: it has to be filled by a generation run. Moving to an
// already existing alternative returns false.
func (n *Node) Advance(depth int) (*Message, bool, error) {
	target, err := n.at(depth)
	if err != nil {
		return nil, false, err
	}

	if target.selected+1 < len(target.alternatives) {
		target.selected++
		return target.alternatives[target.selected], false, nil
	}

	sibling := target.alternatives[target.selected].Sibling()
	target.push(sibling, NewNode())
	target.selected = len(target.alternatives) - 1
	return sibling, true, nil
}

// Retreat selects the previous alternative at depth, staying on the first one.
func (n *Node) Retreat(depth int) error {
	target, err := n.at(depth)
	if err != nil {
		return err
	}
	if target.selected > 0 {
		target.selected--
	}
	return nil
}

// Edit stores text as a new alternative of the message at depth and selects
// it. The edited message starts a new, empty branch. When a user message is
// edited, the branch is seeded with an empty message owned by responder,
// which is returned together with true.
func (n *Node) Edit(depth int, text string, responder Owner) (*Message, bool, error) {
	target, err := n.at(depth)
	if err != nil {
		return nil, false, err
	}

	replaced := target.alternatives[target.selected]
	edit := replaced.Sibling()
	edit.Text = text

	child := NewNode()
	var response *Message
	if replaced.Owner.IsUser() {
		response = NewMessage(responder, "")
		child.push(response, NewNode())
	}

	target.push(edit, child)
	target.selected = len(target.alternatives) - 1
	return response, response != nil, nil
}

// Remove deletes the selected alternative at depth together with its
// subtree and returns every removed message. Removing the only alternative
// empties the node, which truncates the selected path there.
func (n *Node) Remove(depth int) ([]*Message, error) {
	target, err := n.at(depth)
	if err != nil {
		return nil, err
	}

	idx := target.selected
	removed := []*Message{target.alternatives[idx]}
	target.children[idx].collect(&removed)

	target.alternatives = append(target.alternatives[:idx], target.alternatives[idx+1:]...)
	target.children = append(target.children[:idx], target.children[idx+1:]...)
	if target.selected > 0 {
		target.selected--
	}
	return removed, nil
}

// collect appends every message of the subtree to into.
func (n *Node) collect(into *[]*Message) {
	for i, m := range n.alternatives {
		*into = append(*into, m)
		n.children[i].collect(into)
	}
}

// Project appends a copy of every message of the selected path to into,
// oldest first.
func (n *Node) Project(into *[]Message) {
	for current := n; !current.IsEmpty(); current = current.children[current.selected] {
		*into = append(*into, *current.alternatives[current.selected])
	}
}

// ProjectStructure appends one Position per depth of the selected path.
func (n *Node) ProjectStructure(into *[]Position) {
	for current := n; !current.IsEmpty(); current = current.children[current.selected] {
		*into = append(*into, Position{
			Selected: current.selected + 1,
			Count:    len(current.alternatives),
		})
	}
}

// lineage returns the messages leading to the message with the given id,
// excluding it, searching the whole tree and not only the selected path.
func (n *Node) lineage(id NodeID) ([]*Message, bool) {
	for i, m := range n.alternatives {
		if m.ID == id {
			return []*Message{}, true
		}
		if rest, ok := n.children[i].lineage(id); ok {
			return append([]*Message{m}, rest...), true
		}
	}
	return nil, false
}

// Check verifies the structural invariants of the subtree.
func (n *Node) Check() error {
	return n.check(0)
}

func (n *Node) check(depth int) error {
	if len(n.children) != len(n.alternatives) {
		return errors.Errorf("depth %d: %d children for %d alternatives", depth, len(n.children), len(n.alternatives))
	}
	if n.IsEmpty() {
		if n.selected != 0 {
			return errors.Errorf("depth %d: empty node selects %d", depth, n.selected)
		}
		return nil
	}
	if n.selected < 0 || n.selected >= len(n.alternatives) {
		return errors.Errorf("depth %d: selected %d out of %d alternatives", depth, n.selected, len(n.alternatives))
	}
	owner := n.alternatives[0].Owner
	for i, m := range n.alternatives {
		if m.Owner != owner {
			return errors.Errorf("depth %d: alternative %d owned by %s, expected %s", depth, i, m.Owner, owner)
		}
		if err := n.children[i].check(depth + 1); err != nil {
			return err
		}
	}
	return nil
}
