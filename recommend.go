package fictora

import (
	"math/rand"
	"sort"
	"strings"
	"time"
)

// rediscoveryAge is how long a character must sit untouched before history
// counts toward its score again. Favors rediscovery over repetition.
const rediscoveryAge = 7 * 24 * time.Hour

// Interaction summarizes a user's history with one character.
type Interaction struct {
	Count      int
	LastChatAt time.Time
}

// Signal is the per-user input to the recommendation scorer. All fields are
// optional; a zero Signal yields a trait-neutral ordering.
type Signal struct {
	FavoriteIDs     []int64
	PreferredTraits []string
	History         map[int64]Interaction
}

// ScoredCharacter pairs a character with its relevance score.
type ScoredCharacter struct {
	Character Character
	Score     float64
}

// Recommend scores catalog against sig and returns the result ordered by
// descending score. Already-favorited characters are excluded. Trait overlap
// with favorites counts +1 per trait, overlap with explicit preferences +2
// per trait; characters last chatted with more than a week ago get a small
// boost proportional to interaction count. jitter > 0 adds up to that much
// random noise per entry so repeated calls do not return an identical stale
// ordering; pass 0 for a deterministic result.
func Recommend(catalog []Character, sig Signal, jitter float64, now time.Time) []ScoredCharacter {
	favorites := make(map[int64]struct{}, len(sig.FavoriteIDs))
	for _, id := range sig.FavoriteIDs {
		favorites[id] = struct{}{}
	}

	// Trait sets of the favorited characters, for similarity scoring.
	favoriteTraits := make(map[string]struct{})
	for _, c := range catalog {
		if _, fav := favorites[c.ID]; !fav {
			continue
		}
		for _, t := range c.Traits {
			favoriteTraits[strings.ToLower(t)] = struct{}{}
		}
	}

	preferred := make(map[string]struct{}, len(sig.PreferredTraits))
	for _, t := range sig.PreferredTraits {
		preferred[strings.ToLower(t)] = struct{}{}
	}

	out := make([]ScoredCharacter, 0, len(catalog))
	for _, c := range catalog {
		if _, fav := favorites[c.ID]; fav {
			continue
		}

		score := 0.0
		for _, t := range c.Traits {
			lt := strings.ToLower(t)
			if _, ok := favoriteTraits[lt]; ok {
				score += 1
			}
			if _, ok := preferred[lt]; ok {
				score += 2
			}
		}

		if h, ok := sig.History[c.ID]; ok && h.Count > 0 && now.Sub(h.LastChatAt) > rediscoveryAge {
			score += 0.1 * float64(h.Count)
		}

		if jitter > 0 {
			score += rand.Float64() * jitter
		}

		out = append(out, ScoredCharacter{Character: c, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// ByNewest orders a copy of catalog by creation date, newest first. Entries
// with equal dates keep their relative order.
func ByNewest(catalog []Character) []Character {
	out := make([]Character, len(catalog))
	copy(out, catalog)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// ByID orders a copy of catalog by ascending id.
func ByID(catalog []Character) []Character {
	out := make([]Character, len(catalog))
	copy(out, catalog)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByTrait returns the characters carrying trait (case-insensitive), in
// catalog order.
func ByTrait(catalog []Character, trait string) []Character {
	want := strings.ToLower(trait)
	var out []Character
	for _, c := range catalog {
		for _, t := range c.Traits {
			if strings.ToLower(t) == want {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Search ranks catalog by substring relevance to query: a name match
// outweighs a backstory match, which outweighs a trait match. Characters
// with no match at all are omitted. An empty query returns nil.
func Search(catalog []Character, query string) []Character {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	type hit struct {
		c      Character
		weight int
	}
	var hits []hit
	for _, c := range catalog {
		w := 0
		if strings.Contains(strings.ToLower(c.Name), q) {
			w += 3
		}
		if strings.Contains(strings.ToLower(c.Backstory), q) {
			w += 2
		}
		for _, t := range c.Traits {
			if strings.Contains(strings.ToLower(t), q) {
				w += 1
				break
			}
		}
		if w > 0 {
			hits = append(hits, hit{c: c, weight: w})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].weight > hits[j].weight })
	out := make([]Character, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out
}
