package lbot

// Node is a unit of work the Manager owns the lifecycle of: a node is
// constructed, Init is called once with the Environment it should wire
// its senders/receivers/services through, and Shutdown is called once
// during manager teardown in reverse registration order.
type Node interface {
	Name() string
	Init(env *Environment) error
	Shutdown()
}

// NodeBase provides the Name() half of Node for embedding; most nodes
// only need a name and otherwise implement Init/Shutdown directly.
type NodeBase struct {
	name string
}

func NewNodeBase(name string) NodeBase {
	return NodeBase{name: name}
}

func (b NodeBase) Name() string { return b.name }

// UniqueType lets a Node opt out of the Manager's default assumption that
// more than one instance of a given node type may coexist: AddNode
// rejects a second registration of a type whose Unique() returns true.
// Most nodes don't implement this and are treated as shareable.
type UniqueType interface {
	Unique() bool
}
