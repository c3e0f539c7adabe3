package topic

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// node is one level of a subscription trie keyed by topic level,
// including the literal strings "+" and "#" as ordinary keys.
type node struct {
	path string
	m    sync.RWMutex
	next map[string]*node
}

func newNode(path string) *node {
	return &node{path: path, next: make(map[string]*node)}
}

func (n *node) print(depth int, w io.Writer) {
	paths := n.paths()
	fmt.Fprintf(w, "%spath=%s, next=%v\n", strings.Repeat("\t", depth), n.path, paths)
	for _, path := range paths {
		n.next[path].print(depth+1, w)
	}
}

func (n *node) add(filter Filter) {
	n.m.Lock()
	defer n.m.Unlock()
	current := n
	for _, lvl := range filter.Levels {
		if _, ok := current.next[lvl]; !ok {
			current.next[lvl] = newNode(lvl)
		}
		current = current.next[lvl]
	}
}

func (n *node) remove(filter Filter) {
	current := n
	for _, lvl := range filter.Levels {
		next, ok := current.get(lvl)
		if !ok {
			return
		}
		if len(next.next) == 0 {
			current.m.Lock()
			delete(current.next, lvl)
			current.m.Unlock()
		}
		current = next
	}
}

func (n *node) get(path string) (*node, bool) {
	n.m.RLock()
	defer n.m.RUnlock()
	next, ok := n.next[path]
	return next, ok
}

// matchingFilters walks the trie against a topic Name, collecting the
// filter string of every branch that matches by the same wildcard
// rules as Match.
func (n *node) matchingFilters(name Name, prefix []string, out *[]string) {
	wild := !(name.Reserved && len(prefix) == 0)
	if next, ok := n.get(multiLevelWildcard); ok && wild {
		_ = next
		*out = append(*out, strings.Join(append(append([]string{}, prefix...), multiLevelWildcard), "/"))
	}
	if len(name.Levels) == 0 {
		if len(n.next) == 0 && len(prefix) > 0 {
			*out = append(*out, strings.Join(prefix, "/"))
		}
		return
	}
	head, rest := name.Levels[0], name.Levels[1:]
	if next, ok := n.get(head); ok {
		next.matchingFilters(Name{Levels: rest}, append(prefix, head), out)
	}
	if next, ok := n.get(singleLevelWildcard); ok && wild {
		next.matchingFilters(Name{Levels: rest}, append(prefix, singleLevelWildcard), out)
	}
}

func (n *node) paths() []string {
	var v []string
	for k := range n.next {
		v = append(v, k)
	}
	return v
}

func (n *node) Print(w io.Writer) {
	n.print(0, w)
}

// MemoryTrie is a subscription index keyed by topic level rather than
// scanned per-client. session.Session keeps the per-client list that
// publish routing scans; the broker's dispatcher keeps one MemoryTrie
// mirroring those subscriptions for its admin introspection view.
type MemoryTrie struct {
	root *node
}

func NewMemoryTrie() *MemoryTrie {
	return &MemoryTrie{root: newNode("")}
}

func (m *MemoryTrie) Print(w io.Writer) {
	m.root.Print(w)
}

func (m *MemoryTrie) Subscribe(filter Filter) {
	m.root.add(filter)
}

func (m *MemoryTrie) Unsubscribe(filter Filter) {
	m.root.remove(filter)
}

// MatchingFilters returns every filter string in the trie that
// matches the given topic name.
func (m *MemoryTrie) MatchingFilters(name Name) []string {
	var out []string
	m.root.matchingFilters(name, nil, &out)
	return out
}
