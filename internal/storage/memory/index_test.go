package memory

import (
	"sort"
	"sync"
	"testing"
)

func TestIndex_AddRemove(t *testing.T) {
	idx := NewIndex()
	idx.Add("org-a", "t1")
	idx.Add("org-a", "t2")
	idx.Add("org-b", "t3")
	idx.Add("", "ignored")

	got := idx.Get("org-a")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Errorf("Get(org-a) = %v", got)
	}
	idx.Remove("org-a", "t1")
	if idx.Count("org-a") != 1 {
		t.Errorf("Count(org-a) = %d, want 1", idx.Count("org-a"))
	}
	if idx.Count("") != 0 {
		t.Error("empty key was indexed")
	}
}

func TestIndex_ConcurrentAdd(t *testing.T) {
	idx := NewIndex()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx.Add("org", string(rune('a'+i%26))+string(rune('a'+i/26)))
		}(i)
	}
	wg.Wait()
	if idx.Count("org") != 100 {
		t.Errorf("Count = %d, want 100", idx.Count("org"))
	}
}
