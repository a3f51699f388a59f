// Package genlist is a genny template for an insertion-ordered, owned
// doubly linked list. It is never compiled directly; `go generate` in
// the h3 package specializes it for *prefixEntry.
package genlist

import "github.com/cheekybits/genny/generic"

// Value is the genny type parameter. It is substituted for a concrete
// element type when this file is run through genny.
type Value generic.Type

// Node is one link in the list.
type Node struct {
	Val        Value
	prev, next *Node
}

// List is an insertion-ordered doubly linked list of Value, with nodes
// owned by the list rather than held via raw external pointers (spec
// §9: "pointer graphs in the prefix list" re-architected as a sequence
// owned by the connection context).
type List struct {
	first, last *Node
	length      int
}

// PushBack appends v and returns the node that now owns it.
func (l *List) PushBack(v Value) *Node {
	n := &Node{Val: v}
	if l.last == nil {
		l.first = n
	} else {
		l.last.next = n
		n.prev = l.last
	}
	l.last = n
	l.length++
	return n
}

// Remove unlinks n from the list. It is a no-op if n is already detached.
func (l *List) Remove(n *Node) {
	if n.prev == nil && n.next == nil && l.first != n {
		return
	}
	if n.prev == nil {
		l.first = n.next
	} else {
		n.prev.next = n.next
	}
	if n.next == nil {
		l.last = n.prev
	} else {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
	l.length--
}

// Front returns the first node, or nil if the list is empty.
func (l *List) Front() *Node { return l.first }

// Len returns the number of nodes currently linked.
func (l *List) Len() int { return l.length }
