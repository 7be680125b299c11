package rpcsession

import "testing"

func TestPendingTableInsertTakeContains(t *testing.T) {
	p := newPendingTable()
	fired := false
	p.insert(uint64(1), func(res callResult) { fired = true })

	if !p.contains(uint64(1)) {
		t.Fatal("expected id to be pending")
	}
	if p.len() != 1 {
		t.Fatalf("len = %d, want 1", p.len())
	}

	comp, ok := p.take(uint64(1))
	if !ok {
		t.Fatal("expected take to find the entry")
	}
	comp(callResult{code: codeSuccess})
	if !fired {
		t.Fatal("expected completion to fire")
	}
	if p.contains(uint64(1)) {
		t.Fatal("expected entry to be gone after take")
	}
}

func TestPendingTableTakeMissingFails(t *testing.T) {
	p := newPendingTable()
	_, ok := p.take(uint64(99))
	if ok {
		t.Fatal("expected take on missing id to fail")
	}
}

func TestPendingTableDrain(t *testing.T) {
	p := newPendingTable()
	var codes []codeLike
	p.insert(uint64(1), func(res callResult) { codes = append(codes, res.code) })
	p.insert(uint64(2), func(res callResult) { codes = append(codes, res.code) })

	all := p.drain()
	if len(all) != 2 {
		t.Fatalf("drain returned %d entries, want 2", len(all))
	}
	for _, comp := range all {
		comp(callResult{code: codeCancelled})
	}
	if len(codes) != 2 {
		t.Fatalf("expected both completions to fire, got %d", len(codes))
	}
	if p.len() != 0 {
		t.Fatal("expected table empty after drain")
	}
}
