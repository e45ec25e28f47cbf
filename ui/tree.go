// Package ui renders test hierarchies as text trees.
package ui

// Tree hierarchy symbols using box drawing characters
const (
	TreeBranch     = "├── " // Branch connector
	TreeLastBranch = "└── " // Last branch connector
	TreeContinue   = "│   " // Parent has more siblings below
	TreeIndent     = "    " // Parent was last, no vertical line needed
)

// BuildTreePrefix generates a tree prefix based on depth, position, and parent positions.
// parentIsLast[i] tells whether the ancestor at depth i+1 was the last of its siblings.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var prefix string
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			prefix += TreeIndent
		} else {
			prefix += TreeContinue
		}
	}

	if isLast {
		prefix += TreeLastBranch
	} else {
		prefix += TreeBranch
	}
	return prefix
}

// Node is one line of a rendered tree.
type Node struct {
	Prefix string
	Label  string
	Depth  int
	// Leaf is the index of the path ending at this node, or -1 for a node that only groups
	// other nodes.
	Leaf int
}

type trieNode struct {
	label    string
	leaf     int
	children []*trieNode
}

// Flatten renders paths as a tree, top down. Paths sharing leading elements share their
// group nodes, and siblings keep the order they first appeared in. The last element of a
// path always gets a node of its own, so equal titles stay visible.
func Flatten(paths [][]string) []Node {
	root := &trieNode{leaf: -1}
	for i, path := range paths {
		n := root
		for j, label := range path {
			var next *trieNode
			if j < len(path)-1 {
				for _, c := range n.children {
					if c.label == label && c.leaf == -1 {
						next = c
						break
					}
				}
			}
			if next == nil {
				next = &trieNode{label: label, leaf: -1}
				n.children = append(n.children, next)
			}
			n = next
		}
		if n != root {
			n.leaf = i
		}
	}

	var nodes []Node
	var walk func(n *trieNode, depth int, parents []bool)
	walk = func(n *trieNode, depth int, parents []bool) {
		for i, c := range n.children {
			last := i == len(n.children)-1
			nodes = append(nodes, Node{
				Prefix: BuildTreePrefix(depth, last, parents),
				Label:  c.label,
				Depth:  depth,
				Leaf:   c.leaf,
			})
			walk(c, depth+1, append(append([]bool{}, parents...), last))
		}
	}
	walk(root, 1, nil)
	return nodes
}
