package rank

import (
	"sort"

	"hapshi-bot/internal/ali"
)

// Weights tunes the scoring heuristic. Order volume dominates, rating is a
// moderate signal and price a mild penalty.
type Weights struct {
	Orders float64
	Rating float64
	Price  float64
}

// DefaultWeights mirrors the tuning the bot has shipped with.
var DefaultWeights = Weights{Orders: 0.6, Rating: 25, Price: 0.25}

// Scored is a product with the inputs and result of its score.
type Scored struct {
	Product ali.Product
	Score   float64
	Price   float64
	Orders  float64
	Rating  float64
	// Index is the position in the ranked input, used for stable ties.
	Index int
}

// Ranker orders products by score, best first.
type Ranker struct {
	weights Weights
}

// New creates a ranker. A zero Weights value selects DefaultWeights.
func New(w Weights) *Ranker {
	if w == (Weights{}) {
		w = DefaultWeights
	}
	return &Ranker{weights: w}
}

// Score computes the weighted score of a single product.
func (r *Ranker) Score(p ali.Product) float64 {
	return r.weights.Orders*p.Orders + r.weights.Rating*p.Rating - r.weights.Price*p.Price()
}

// Rank scores every product and sorts best first. Equal scores keep input
// order. Empty input yields nil.
func (r *Ranker) Rank(products []ali.Product) []Scored {
	if len(products) == 0 {
		return nil
	}
	scored := make([]Scored, 0, len(products))
	for i, p := range products {
		scored = append(scored, Scored{
			Product: p,
			Score:   r.Score(p),
			Price:   p.Price(),
			Orders:  p.Orders,
			Rating:  p.Rating,
			Index:   i,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// SelectTop returns the first n ranked products.
func (r *Ranker) SelectTop(products []ali.Product, n int) []Scored {
	ranked := r.Rank(products)
	if n < 0 {
		n = 0
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
