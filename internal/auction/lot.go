// Package auction holds the coordinator's mutable state: the single auction
// lot and the registry of connected bidders. Nothing in this package locks;
// every value here is owned by the coordinator goroutine and must only be
// touched from it.
package auction

import "errors"

var ErrNoActiveLot = errors.New("no active lot")
var ErrAuctionInProgress = errors.New("an auction is already in progress")
var ErrBidTooLow = errors.New("bid too low or insufficient balance")
var ErrDuplicateUsername = errors.New("username already registered")
var ErrUnknownClient = errors.New("unknown client")
var ErrUnknownItem = errors.New("item not in catalog")

// OpeningBid is the fixed starting price for every lot.
const OpeningBid = 10

type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusSold   Status = "sold"
)

func (s Status) String() string { return string(s) }

// Lot is the single item currently open for bidding. Exactly one Lot exists;
// Open resets it in place rather than allocating a second one.
type Lot struct {
	Category      string
	Item          string
	CurrentBid    int
	CurrentWinner string
	Status        Status
}

func NewLot() *Lot {
	return &Lot{Status: StatusIdle}
}

// Open transitions the lot from Idle to Active for the given item. Opening
// while a lot is Active fails; the in-flight high bid would otherwise be
// silently discarded.
func (l *Lot) Open(category, item string) error {
	if l.Status == StatusActive {
		return ErrAuctionInProgress
	}
	l.Category = category
	l.Item = item
	l.CurrentBid = OpeningBid
	l.CurrentWinner = ""
	l.Status = StatusActive
	return nil
}

// Bid applies one bid as a single check-then-set step. The caller supplies
// the bidder's balance as read under the same serialization domain, so the
// acceptance condition (amount > current bid, amount <= balance) holds at
// the instant the lot is updated.
func (l *Lot) Bid(username string, amount, balance int) error {
	if l.Status != StatusActive {
		return ErrNoActiveLot
	}
	if amount <= l.CurrentBid || amount > balance {
		return ErrBidTooLow
	}
	l.CurrentBid = amount
	l.CurrentWinner = username
	return nil
}

// Reset returns the lot to Idle, clearing the item and bid. Called at the
// end of every settlement regardless of outcome.
func (l *Lot) Reset() {
	*l = Lot{Status: StatusIdle}
}
