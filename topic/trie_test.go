package topic

import (
	"bytes"
	"sort"
	"testing"
)

func mustFilter(t *testing.T, raw string) Filter {
	t.Helper()
	f, err := ParseFilter(raw)
	if err != nil {
		t.Fatalf("ParseFilter(%q): %v", raw, err)
	}
	return f
}

func mustName(t *testing.T, raw string) Name {
	t.Helper()
	n, err := ParseName(raw)
	if err != nil {
		t.Fatalf("ParseName(%q): %v", raw, err)
	}
	return n
}

func TestMemoryTrieMatchingFilters(t *testing.T) {
	trie := NewMemoryTrie()
	trie.Subscribe(mustFilter(t, "1/2/3"))
	trie.Subscribe(mustFilter(t, "2/4"))
	trie.Subscribe(mustFilter(t, "2/+/#"))
	trie.Subscribe(mustFilter(t, "#"))

	cases := []struct {
		path string
		want []string
	}{
		{"1/2/3", []string{"1/2/3", "#"}},
		{"1/2/3/4", []string{"#"}},
		{"2/3/4", []string{"2/+/#", "#"}},
		{"2/3/4/5", []string{"2/+/#", "#"}},
	}
	for _, c := range cases {
		got := trie.MatchingFilters(mustName(t, c.path))
		sort.Strings(got)
		want := append([]string{}, c.want...)
		sort.Strings(want)
		if !equalStrings(got, want) {
			t.Errorf("path=%s: got %v, want %v", c.path, got, want)
		}
	}
}

func TestMemoryTrieUnsubscribe(t *testing.T) {
	trie := NewMemoryTrie()
	trie.Subscribe(mustFilter(t, "#"))
	trie.Subscribe(mustFilter(t, "2/4"))

	trie.Unsubscribe(mustFilter(t, "#"))
	if got := trie.MatchingFilters(mustName(t, "1/2/3")); len(got) != 0 {
		t.Errorf("expected no match after unsubscribing '#', got %v", got)
	}

	trie.Unsubscribe(mustFilter(t, "2/4"))
	if got := trie.MatchingFilters(mustName(t, "2/4")); len(got) != 0 {
		t.Errorf("expected no match after unsubscribing '2/4', got %v", got)
	}
}

func TestMemoryTriePrint(t *testing.T) {
	trie := NewMemoryTrie()
	trie.Subscribe(mustFilter(t, "a/b"))

	var buf bytes.Buffer
	trie.Print(&buf)
	if buf.Len() == 0 {
		t.Error("Print should write a non-empty tree dump")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
