package market

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/vango-go/vai-dealroom/pkg/core"
)

func newTestBook(t *testing.T, floor, target int, names ...string) *Book {
	t.Helper()
	if len(names) == 0 {
		names = []string{"Jackie", "Norinobu", "Myers"}
	}
	b, err := New(Product{Name: "Mantis Blades", Floor: floor, Target: target}, names, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestSetProductConfig_RaisesTargetToFloor(t *testing.T) {
	b := newTestBook(t, 100, 200)
	for _, tc := range []struct{ floor, target int }{
		{500, 100},
		{1, 0},
		{7000, 6999},
	} {
		if err := b.SetProductConfig(tc.floor, tc.target, "x", ""); err != nil {
			t.Fatalf("SetProductConfig(%d,%d): %v", tc.floor, tc.target, err)
		}
		if got := b.Product().Target; got != tc.floor {
			t.Fatalf("target=%d, want raised to floor %d", got, tc.floor)
		}
	}
}

func TestSetProductConfig_RejectsNegativePrices(t *testing.T) {
	b := newTestBook(t, 100, 200)
	err := b.SetProductConfig(-1, 200, "x", "")
	if !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("err=%v, want invalid_request_error", err)
	}
	if err := b.SetProductConfig(10, -5, "x", ""); err == nil {
		t.Fatalf("expected error for negative target")
	}
	if got := b.Product().Floor; got != 100 {
		t.Fatalf("floor changed to %d after rejected update", got)
	}
}

func TestSetProductConfig_KeepsOffersWithinBounds(t *testing.T) {
	b := newTestBook(t, 100, 200)
	configs := []struct{ floor, target int }{
		{100, 200}, {0, 0}, {6000, 8000}, {10, 10_000}, {999, 1}, {1, 1},
	}
	for _, cfg := range configs {
		for id := 1; id <= 3; id++ {
			b.SetBuyerOffer(id, 1_000_000)
		}
		if err := b.SetProductConfig(cfg.floor, cfg.target, "x", ""); err != nil {
			t.Fatalf("SetProductConfig: %v", err)
		}
		lo, hi := Bounds(cfg.floor, b.Product().Target)
		for _, buyer := range b.Buyers() {
			if buyer.Min != lo || buyer.Max != hi {
				t.Fatalf("buyer %d bounds=[%d,%d], want [%d,%d]", buyer.ID, buyer.Min, buyer.Max, lo, hi)
			}
			if buyer.Offer < buyer.Min || buyer.Offer > buyer.Max {
				t.Fatalf("buyer %d offer %d outside [%d,%d] for %+v", buyer.ID, buyer.Offer, buyer.Min, buyer.Max, cfg)
			}
		}
	}
}

func TestBounds(t *testing.T) {
	lo, hi := Bounds(6000, 8000)
	if lo != 3600 || hi != 9600 {
		t.Fatalf("Bounds(6000,8000)=[%d,%d], want [3600,9600]", lo, hi)
	}
	lo, hi = Bounds(0, 0)
	if lo != 1 || hi != 1 {
		t.Fatalf("Bounds(0,0)=[%d,%d], want [1,1]", lo, hi)
	}
}

func TestSetBuyerOffer_UnknownIDIsNoop(t *testing.T) {
	b := newTestBook(t, 100, 200)
	before := b.Buyers()
	if b.SetBuyerOffer(42, 10) {
		t.Fatalf("expected unknown id to report false")
	}
	after := b.Buyers()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("buyer %d changed: %+v -> %+v", before[i].ID, before[i], after[i])
		}
	}
}

func TestSetBuyerOffer_DoesNotClamp(t *testing.T) {
	b := newTestBook(t, 100, 200)
	if !b.SetBuyerOffer(2, 5) {
		t.Fatalf("expected buyer 2 to exist")
	}
	buyer, _ := b.Buyer(2)
	if buyer.Offer != 5 {
		t.Fatalf("offer=%d, want 5 as given", buyer.Offer)
	}
}

func TestBestBid(t *testing.T) {
	empty, err := New(Product{Floor: 1, Target: 2}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := empty.BestBid(); ok {
		t.Fatalf("expected no best bid for empty book")
	}
	if empty.BestPrice() != 0 {
		t.Fatalf("BestPrice of empty book should be 0")
	}

	b := newTestBook(t, 100, 200)
	b.SetBuyerOffer(1, 60)
	b.SetBuyerOffer(2, 90)
	b.SetBuyerOffer(3, 150)
	for i := 0; i < 3; i++ {
		best, ok := b.BestBid()
		if !ok || best.ID != 3 || best.Offer != 150 {
			t.Fatalf("BestBid()=%+v ok=%v, want buyer 3 @150", best, ok)
		}
	}
}

func TestBestBid_TieGoesToLowestID(t *testing.T) {
	b := newTestBook(t, 100, 200, "a", "b", "c")
	b.SetBuyerOffer(1, 50)
	b.SetBuyerOffer(2, 170)
	b.SetBuyerOffer(3, 170)
	best, _ := b.BestBid()
	if best.ID != 2 {
		t.Fatalf("best id=%d, want 2", best.ID)
	}
	b.SetBuyerOffer(1, 170)
	best, _ = b.BestBid()
	if best.ID != 1 {
		t.Fatalf("best id=%d, want 1", best.ID)
	}
}

func TestSetUserOffer_Clamps(t *testing.T) {
	b := newTestBook(t, 100, 200)
	cases := map[float64]int{
		-10:          0,
		0:            0,
		159.9:        159,
		160:          160,
		math.NaN():   0,
		math.Inf(-1): 0,
	}
	for in, want := range cases {
		if got := b.SetUserOffer(in); got != want {
			t.Errorf("SetUserOffer(%v)=%d, want %d", in, got, want)
		}
	}
	b.SetUserOffer(10)
	b.ResetUserOffer()
	if b.UserOffer() != 0 {
		t.Fatalf("ResetUserOffer left %d", b.UserOffer())
	}
}

func TestNew_RejectsBlankBuyerNames(t *testing.T) {
	if _, err := New(Product{Floor: 1, Target: 2}, []string{"ok", "  "}, nil); err == nil {
		t.Fatalf("expected error for blank buyer name")
	}
}

func TestReseed_IsDeterministicForSeed(t *testing.T) {
	a := newTestBook(t, 6000, 8000)
	b := newTestBook(t, 6000, 8000)
	for i, buyer := range a.Buyers() {
		if b.Buyers()[i].Offer != buyer.Offer {
			t.Fatalf("same seed produced different offers: %v vs %v", a.Buyers(), b.Buyers())
		}
		if buyer.Offer < 6600 || buyer.Offer > 7400 {
			t.Fatalf("offer %d outside the 30%%-70%% band", buyer.Offer)
		}
	}
}
