package breaker

import "testing"

func TestGate_DropsOverCapacity(t *testing.T) {
	g := NewGate(2)
	r1, ok1 := g.TryEnter("a")
	r2, ok2 := g.TryEnter("b")
	if !ok1 || !ok2 {
		t.Fatal("first two entries refused")
	}
	if _, ok := g.TryEnter("c"); ok {
		t.Fatal("third entry admitted over capacity")
	}
	if g.Active() != 2 {
		t.Errorf("Active() = %d, want 2", g.Active())
	}

	r1()
	r1() // double release is harmless
	if g.Active() != 1 {
		t.Errorf("Active() = %d after release, want 1", g.Active())
	}
	r3, ok := g.TryEnter("d")
	if !ok {
		t.Fatal("entry refused after release")
	}
	r2()
	r3()
	if g.Active() != 0 {
		t.Errorf("Active() = %d, want 0", g.Active())
	}
}

func TestGate_DefaultCapacity(t *testing.T) {
	if g := NewGate(0); g.Capacity() != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", g.Capacity(), DefaultCapacity)
	}
}
