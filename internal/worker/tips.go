package worker

import (
	"math/rand"
	"sort"

	"github.com/eco-assistant/internal/types"
)

// TipPool maps a preference category to the messages sent for it
type TipPool map[string][]string

// DefaultTips is the built-in notification pool
var DefaultTips = TipPool{
	types.PrefRecycling: {
		"А вы знали, что значительная часть мирового океана загрязнена мусором?",
		"Один фантик на земле не приведёт к катастрофе, говорят миллионы людей!",
	},
	types.PrefEvents: {
		"Помогая природе, вы помогаете и себе!",
		"Чем больше людей будет заботиться о планете, тем дольше она будет жить.",
	},
	types.PrefShop: {
		"Здоровая пища продлевает жизнь!",
		"Химия никогда не будет лучше натуральных продуктов.",
	},
	types.PrefEcoRec: {
		"Стремление к знанию — залог успеха!",
		"А вы знали, что помогаете природе даже своим присутствием здесь?",
	},
}

// Categories returns the pool's categories in sorted order
func (p TipPool) Categories() []string {
	out := make([]string, 0, len(p))
	for c, msgs := range p {
		if len(msgs) > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// ChooseCategory picks a category with probability proportional to the
// user's weight. Only categories present in the pool are candidates; with
// no usable preference every pool category is. A non-positive total weight
// falls back to a uniform choice.
func ChooseCategory(rng *rand.Rand, prefs map[string]float64, pool TipPool) string {
	candidates := make([]string, 0, len(prefs))
	for c := range prefs {
		if len(pool[c]) > 0 {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		candidates = pool.Categories()
	}
	if len(candidates) == 0 {
		return ""
	}
	// Map order is random; sort so a seeded rng is reproducible.
	sort.Strings(candidates)

	total := 0.0
	for _, c := range candidates {
		if w := prefs[c]; w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return candidates[rng.Intn(len(candidates))]
	}

	r := rng.Float64() * total
	for _, c := range candidates {
		w := prefs[c]
		if w <= 0 {
			continue
		}
		if r < w {
			return c
		}
		r -= w
	}
	// Float rounding can leave r just above the last weight.
	for i := len(candidates) - 1; i >= 0; i-- {
		if prefs[candidates[i]] > 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// ChooseTip picks a message from the category uniformly
func ChooseTip(rng *rand.Rand, pool TipPool, category string) string {
	msgs := pool[category]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[rng.Intn(len(msgs))]
}
