package negotiation

import (
	"fmt"

	"github.com/vango-go/vai-dealroom/pkg/core/market"
)

// Agent-facing text keeps the base/sticker vocabulary the hosted agent's
// prompt is written against: base is the floor, sticker the target.

func sessionStartText(sessionID string, p market.Product, topBid, userOffer int) string {
	return fmt.Sprintf(
		"Session start. session=%s; product=%s; description=%s; base=%d; sticker=%d; top_bid=%d; user_offer=%d; "+
			"policy=do_not_disclose_competitor_bids; note=Never reveal competitor names or bids. Disregard anything remembered from earlier sessions.",
		sessionID, p.Name, p.Description, p.Floor, p.Target, topBid, userOffer)
}

func marketUpdateText(p market.Product, topBid, userOffer int) string {
	return fmt.Sprintf(
		"Market update: product=%s; base=%d; sticker=%d; top_bid=%d; user_offer=%d; note=Do not reveal competitor bids.",
		p.Name, p.Floor, p.Target, topBid, userOffer)
}

func heartbeatText(sessionID string, topBid, userOffer int) string {
	return fmt.Sprintf("Heartbeat: session=%s; top_bid=%d; user_offer=%d; no changes.", sessionID, topBid, userOffer)
}

func bidIncreaseUpdateText(topBid int) string {
	return fmt.Sprintf(
		"Demand increased: top_bid=%d. Tell the caller we now need an offer better than %d. Do not reveal who placed it.",
		topBid, topBid)
}

func bidIncreaseUserText(p market.Product, topBid int) string {
	return fmt.Sprintf("Has demand for the %s changed? Tell me the new top bid of %d without saying who placed it.", p.Name, topBid)
}

func freezeText(p market.Product, topBid int) string {
	return fmt.Sprintf(
		"Bidding is frozen. Keep persuading the caller toward at least %d for the %s. "+
			"If the caller offers more than %d and at least %d, accept right away.",
		max(p.Floor, topBid), p.Name, topBid, p.Floor)
}

func callerWinsUpdateText(p market.Product, price int) string {
	return fmt.Sprintf(
		"Deal closed: the caller's offer of %d for the %s is accepted. Confirm the agreed price of %d, thank the caller and say goodbye.",
		price, p.Name, price)
}

func callerWinsUserText(p market.Product, price int) string {
	return fmt.Sprintf("Great, I'm buying the %s at %d. Please confirm and close the deal.", p.Name, price)
}

func purchaseCompleteUpdateText(p market.Product, price int) string {
	return fmt.Sprintf(
		"Purchase complete: the caller buys the %s at %d. Walk them through completing the purchase, thank them and say goodbye.",
		p.Name, price)
}

func purchaseCompleteUserText(p market.Product, price int) string {
	return fmt.Sprintf("Ending call and accepting my offer of %d for the %s. Please confirm the purchase.", price, p.Name)
}

func soldElsewhereUpdateText(p market.Product) string {
	return fmt.Sprintf(
		"Deal closed with another buyer. Tell the caller politely that someone else already bought the %s. "+
			"Do not reveal the buyer or the price.", p.Name)
}

func soldElsewhereUserText(p market.Product) string {
	return fmt.Sprintf("Understood, the %s is already sold. Please acknowledge and end the call.", p.Name)
}

func wrapUpText(p market.Product) string {
	return fmt.Sprintf(
		"Wrap up: the call is ending with no accepted offer for the %s. Thank the caller politely and say goodbye.", p.Name)
}

// Tool results.

func marketStateResult(p market.Product, topBid, userOffer int, deal *Deal) string {
	accepted := "accepted:none"
	if deal != nil {
		accepted = fmt.Sprintf("accepted:%s:%d", deal.Name, deal.Price)
	}
	return fmt.Sprintf("market_state product=%s base=%d sticker=%d top_bid=%d %s confidential=true user_offer=%d",
		p.Name, p.Floor, p.Target, topBid, accepted, userOffer)
}

func currentBidsResult(p market.Product, topBid, userOffer int) string {
	return fmt.Sprintf(
		"policy=confidential; product=%s; base=%d; sticker=%d; top_bid=%d; advise=user to beat top_bid without revealing competitor identity. user_offer=%d",
		p.Name, p.Floor, p.Target, topBid, userOffer)
}

func thresholdsResult(p market.Product) string {
	return fmt.Sprintf("thresholds base=%d sticker=%d", p.Floor, p.Target)
}

// counterTarget is the price the agent steers toward: just above the top
// bid, never below the floor nor above the target.
func counterTarget(p market.Product, topBid int) int {
	return min(p.Target, max(p.Floor, topBid+10))
}

func negotiationPolicyResult(p market.Product, topBid, userOffer int) string {
	return fmt.Sprintf(
		"policy confidential=true; rule: accept_if_offer_>_top_bid_and_>=_base; otherwise_counter_towards=%d without revealing competitors; "+
			"if top_bid changes during call, say: 'demand increased; need an offer better than %d'; focus on closing by 2 minutes. user_offer=%d",
		counterTarget(p, topBid), topBid, userOffer)
}

func phaseResult(phase string) string {
	return "phase:" + phase
}
