// Package market holds the simulated sale: the product being sold, the
// competing buyer bids and the live caller's offer.
//
// A Book is plain data. It is not safe for concurrent use; the negotiation
// orchestrator owns it from a single goroutine.
package market

import (
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/vango-go/vai-dealroom/pkg/core"
)

// Product is the operator-configured item for sale.
type Product struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Floor is the minimum acceptable sale price.
	Floor int `json:"floor" yaml:"floor"`
	// Target is the nominal ideal price. Always >= Floor.
	Target int `json:"target" yaml:"target"`
}

// Buyer is one simulated competing bidder.
type Buyer struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Offer int    `json:"offer"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
}

// Book is the in-memory market: product, buyers and the caller's offer.
type Book struct {
	product   Product
	buyers    []Buyer
	userOffer int
	rng       *rand.Rand
}

// New builds a book for product with one buyer per name. Buyer ids are
// assigned 1..n in order. rng drives offer reseeding; a nil rng uses a
// randomly seeded source.
func New(product Product, buyerNames []string, rng *rand.Rand) (*Book, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	b := &Book{rng: rng}
	for i, name := range buyerNames {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, core.NewInvalidRequestErrorWithParam("buyer name must not be empty", "buyers")
		}
		b.buyers = append(b.buyers, Buyer{ID: i + 1, Name: name})
	}
	if err := b.SetProductConfig(product.Floor, product.Target, product.Name, product.Description); err != nil {
		return nil, err
	}
	return b, nil
}

// Bounds returns the buyer offer range implied by a floor and target price.
func Bounds(floor, target int) (lo, hi int) {
	lo = max(1, floor*6/10)
	hi = (target*12 + 9) / 10
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// SetProductConfig replaces the product settings. A target below the floor
// is raised to the floor. Every buyer's bounds are recomputed and its offer
// reseeded inside them.
func (b *Book) SetProductConfig(floor, target int, name, description string) error {
	if floor < 0 {
		return core.NewInvalidRequestErrorWithParam("floor price must be >= 0", "floor")
	}
	if target < 0 {
		return core.NewInvalidRequestErrorWithParam("target price must be >= 0", "target")
	}
	if target < floor {
		target = floor
	}
	b.product = Product{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Floor:       floor,
		Target:      target,
	}
	b.Reseed()
	return nil
}

// Reseed recomputes buyer bounds from the current product and draws a new
// plausible spread of offers between 30% and 70% of the floor-target gap.
func (b *Book) Reseed() {
	lo, hi := Bounds(b.product.Floor, b.product.Target)
	spread := float64(b.product.Target - b.product.Floor)
	for i := range b.buyers {
		raw := math.Floor(float64(b.product.Floor) + spread*0.3 + b.rng.Float64()*spread*0.4)
		b.buyers[i].Min = lo
		b.buyers[i].Max = hi
		b.buyers[i].Offer = clamp(int(raw), lo, hi)
	}
}

// SetBuyerOffer sets a buyer's offer as given. It reports false and changes
// nothing when id is unknown.
func (b *Book) SetBuyerOffer(id, offer int) bool {
	for i := range b.buyers {
		if b.buyers[i].ID == id {
			b.buyers[i].Offer = offer
			return true
		}
	}
	return false
}

// BestBid returns the buyer with the highest offer. Equal offers resolve to
// the lowest buyer id. ok is false when there are no buyers.
func (b *Book) BestBid() (best Buyer, ok bool) {
	return bestOf(b.buyers)
}

// BestPrice returns the best bid's offer, or 0 with no buyers.
func (b *Book) BestPrice() int {
	best, ok := b.BestBid()
	if !ok {
		return 0
	}
	return best.Offer
}

// SetUserOffer stores the caller's offer as a non-negative whole number and
// returns the stored value.
func (b *Book) SetUserOffer(value float64) int {
	b.userOffer = ClampOffer(value)
	return b.userOffer
}

// ResetUserOffer clears the caller's offer back to "no offer yet".
func (b *Book) ResetUserOffer() {
	b.userOffer = 0
}

// UserOffer returns the caller's current offer; 0 means none yet.
func (b *Book) UserOffer() int { return b.userOffer }

// Product returns the current product settings.
func (b *Book) Product() Product { return b.product }

// Buyer looks up a buyer by id.
func (b *Book) Buyer(id int) (Buyer, bool) {
	for _, buyer := range b.buyers {
		if buyer.ID == id {
			return buyer, true
		}
	}
	return Buyer{}, false
}

// Buyers returns a copy of the buyers in list order.
func (b *Book) Buyers() []Buyer {
	out := make([]Buyer, len(b.buyers))
	copy(out, b.buyers)
	return out
}

// ClampOffer coerces an arbitrary number to a non-negative integer by
// truncating toward zero. NaN and negative values become 0.
func ClampOffer(value float64) int {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if value >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(value))
}

func bestOf(buyers []Buyer) (Buyer, bool) {
	if len(buyers) == 0 {
		return Buyer{}, false
	}
	sorted := make([]Buyer, len(buyers))
	copy(sorted, buyers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Offer != sorted[j].Offer {
			return sorted[i].Offer > sorted[j].Offer
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0], true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
