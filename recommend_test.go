package fictora

import (
	"testing"
	"time"
)

func testCatalog() []Character {
	return []Character{
		{ID: 1, Name: "Aria", Traits: []string{"witty", "kind"}, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: 2, Name: "Borin", Traits: []string{"gruff", "loyal"}, CreatedAt: "2026-02-01T00:00:00Z"},
		{ID: 3, Name: "Cass", Traits: []string{"witty", "mysterious"}, CreatedAt: "2026-03-01T00:00:00Z"},
		{ID: 4, Name: "Dune", Traits: []string{"stoic"}, CreatedAt: "2025-12-01T00:00:00Z"},
	}
}

func scoreOf(scored []ScoredCharacter, id int64) (float64, bool) {
	for _, s := range scored {
		if s.Character.ID == id {
			return s.Score, true
		}
	}
	return 0, false
}

func TestRecommend(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	t.Run("preferred trait overlap scores strictly higher", func(t *testing.T) {
		catalog := []Character{
			{ID: 1, Name: "A", Traits: []string{"witty", "kind"}},
			{ID: 2, Name: "B", Traits: []string{"witty", "kind"}},
		}
		// Identical trait sets; preference matching is the only separator
		// once B also carries a preferred trait.
		catalog[1].Traits = []string{"witty", "brave"}
		sig := Signal{PreferredTraits: []string{"witty", "kind"}}

		scored := Recommend(catalog, sig, 0, now)
		a, _ := scoreOf(scored, 1)
		b, _ := scoreOf(scored, 2)
		if a <= b {
			t.Fatalf("score(A)=%v should be strictly higher than score(B)=%v", a, b)
		}
	})

	t.Run("favorites are excluded and feed similarity", func(t *testing.T) {
		sig := Signal{FavoriteIDs: []int64{1}} // Aria: witty, kind
		scored := Recommend(testCatalog(), sig, 0, now)

		if _, found := scoreOf(scored, 1); found {
			t.Fatal("favorited character must be excluded")
		}
		// Cass shares "witty" with the favorite; Borin shares nothing.
		cass, _ := scoreOf(scored, 3)
		borin, _ := scoreOf(scored, 2)
		if cass <= borin {
			t.Fatalf("score(Cass)=%v should exceed score(Borin)=%v", cass, borin)
		}
	})

	t.Run("old interactions boost rediscovery, recent ones do not", func(t *testing.T) {
		sig := Signal{History: map[int64]Interaction{
			2: {Count: 10, LastChatAt: now.Add(-8 * 24 * time.Hour)},
			4: {Count: 10, LastChatAt: now.Add(-1 * 24 * time.Hour)},
		}}
		scored := Recommend(testCatalog(), sig, 0, now)

		borin, _ := scoreOf(scored, 2)
		dune, _ := scoreOf(scored, 4)
		if borin != 1.0 {
			t.Fatalf("score(Borin)=%v, want 1.0 rediscovery boost", borin)
		}
		if dune != 0 {
			t.Fatalf("score(Dune)=%v, want 0 for a recent interaction", dune)
		}
	})

	t.Run("zero signal yields zero scores for everyone", func(t *testing.T) {
		scored := Recommend(testCatalog(), Signal{}, 0, now)
		if len(scored) != 4 {
			t.Fatalf("len = %d, want 4", len(scored))
		}
		for _, s := range scored {
			if s.Score != 0 {
				t.Fatalf("score(%s)=%v, want 0", s.Character.Name, s.Score)
			}
		}
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			scored := Recommend(testCatalog(), Signal{}, 0.5, now)
			for _, s := range scored {
				if s.Score < 0 || s.Score >= 0.5 {
					t.Fatalf("jittered score %v out of [0, 0.5)", s.Score)
				}
			}
		}
	})
}

func TestOrderings(t *testing.T) {
	t.Run("by newest", func(t *testing.T) {
		got := ByNewest(testCatalog())
		want := []int64{3, 2, 1, 4}
		for i, id := range want {
			if got[i].ID != id {
				t.Fatalf("position %d: id %d, want %d", i, got[i].ID, id)
			}
		}
	})

	t.Run("by id", func(t *testing.T) {
		shuffled := []Character{{ID: 3}, {ID: 1}, {ID: 2}}
		got := ByID(shuffled)
		for i, id := range []int64{1, 2, 3} {
			if got[i].ID != id {
				t.Fatalf("position %d: id %d, want %d", i, got[i].ID, id)
			}
		}
	})

	t.Run("by trait is case-insensitive", func(t *testing.T) {
		got := ByTrait(testCatalog(), "WITTY")
		if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
			t.Fatalf("ByTrait = %v", got)
		}
	})

	t.Run("orderings do not mutate the input", func(t *testing.T) {
		catalog := testCatalog()
		ByNewest(catalog)
		ByID(catalog)
		if catalog[0].ID != 1 {
			t.Fatal("input catalog was reordered")
		}
	})
}

func TestSearch(t *testing.T) {
	catalog := []Character{
		{ID: 1, Name: "Shadow", Backstory: "A quiet librarian.", Traits: []string{"calm"}},
		{ID: 2, Name: "Lumen", Backstory: "Hunts shadows for a living.", Traits: []string{"brave"}},
		{ID: 3, Name: "Pebble", Backstory: "Collects rocks.", Traits: []string{"shadowy"}},
	}

	t.Run("name outranks backstory outranks trait", func(t *testing.T) {
		got := Search(catalog, "shadow")
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 3 {
			t.Fatalf("order = %d,%d,%d", got[0].ID, got[1].ID, got[2].ID)
		}
	})

	t.Run("non-matching characters are omitted", func(t *testing.T) {
		got := Search(catalog, "librarian")
		if len(got) != 1 || got[0].ID != 1 {
			t.Fatalf("Search = %v", got)
		}
	})

	t.Run("empty query returns nothing", func(t *testing.T) {
		if got := Search(catalog, "   "); got != nil {
			t.Fatalf("Search = %v, want nil", got)
		}
	})
}
