package lbot

// Cluster groups a set of Nodes that are always added to and torn down
// from a Manager together, mirroring the original source's cluster
// concept: a cluster's Init order is the slice order, its Shutdown order
// is the reverse, same as the Manager does for ungrouped nodes.
type Cluster interface {
	Name() string
	Nodes() []Node
}

// ClusterBase is a ready-to-embed Cluster: most clusters are just a named
// bundle of nodes built up front.
type ClusterBase struct {
	name  string
	nodes []Node
}

func NewClusterBase(name string, nodes ...Node) *ClusterBase {
	return &ClusterBase{name: name, nodes: nodes}
}

func (c *ClusterBase) Name() string { return c.name }

func (c *ClusterBase) Nodes() []Node { return c.nodes }

// AddNode appends n to the cluster. Only meaningful before the cluster is
// handed to a Manager; nodes already running are unaffected by later
// calls.
func (c *ClusterBase) AddNode(n Node) {
	c.nodes = append(c.nodes, n)
}
