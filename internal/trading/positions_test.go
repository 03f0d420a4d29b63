package trading

import (
	"testing"

	"predxarb/pkg/types"
)

func TestPositionBookHasMarket(t *testing.T) {
	b := NewPositionBook()
	b.Put(types.Position{ID: 1, MatchedID: "m1"})

	if !b.HasMarket("m1") {
		t.Error("expected m1 to be tracked")
	}
	if b.HasMarket("m2") {
		t.Error("expected m2 to be absent")
	}
}

func TestPositionBookCountAndCategory(t *testing.T) {
	b := NewPositionBook()
	b.Put(types.Position{ID: 1, MatchedID: "m1", Category: types.CategoryCrypto})
	b.Put(types.Position{ID: 2, MatchedID: "m2", Category: types.CategoryCrypto})
	b.Put(types.Position{ID: 3, MatchedID: "m3", Category: types.CategorySports})

	if b.Count() != 3 {
		t.Errorf("count = %d, want 3", b.Count())
	}
	if b.CountCategory(types.CategoryCrypto) != 2 {
		t.Errorf("crypto count = %d, want 2", b.CountCategory(types.CategoryCrypto))
	}
}

func TestPositionBookRemove(t *testing.T) {
	b := NewPositionBook()
	b.Put(types.Position{ID: 1, MatchedID: "m1"})
	b.Remove(1)

	if b.HasMarket("m1") {
		t.Error("expected position to be removed")
	}
}

func TestPositionBookLoadReplacesContents(t *testing.T) {
	b := NewPositionBook()
	b.Put(types.Position{ID: 99, MatchedID: "stale"})
	b.Load([]types.Position{{ID: 1, MatchedID: "m1"}})

	if b.HasMarket("stale") {
		t.Error("expected Load to replace, not merge")
	}
	if !b.HasMarket("m1") {
		t.Error("expected m1 to be present after Load")
	}
}
