// Package coordinator runs the auction's single serialization domain: one
// goroutine owns the client registry and the lot, and every mutation —
// registration, bids, balance refreshes, operator actions — arrives as a
// typed message on its inbox. Concurrent bids therefore cannot interleave
// their balance check with their write, and broadcast fan-out happens with
// the state mutation already decided.
package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhemu/auction-server/internal/auction"
	"github.com/zhemu/auction-server/internal/catalog"
	"github.com/zhemu/auction-server/internal/obs"
	"github.com/zhemu/auction-server/internal/wire"
)

type Msg interface{ isCoordMsg() }

// Join registers a bidder. Reply receives nil on success or
// auction.ErrDuplicateUsername; on failure the outbox is untouched and the
// caller owns its cleanup.
type Join struct {
	Username string
	Balance  int
	Outbox   chan []byte
	Reply    chan error
}

// Leave removes a bidder and closes its outbox. Idempotent: the reader loop
// and a broadcast drop can both report the same departure.
type Leave struct{ Username string }

// PlaceBid applies one bid. Reply receives nil on acceptance or the
// rejection reason; rejections are never broadcast.
type PlaceBid struct {
	Username string
	Amount   int
	Reply    chan error
}

// SetBalance is the client-asserted balance refresh from the BALANCE wire
// command. The server has no wallet authority of its own, so it takes the
// client's word; see the integrity note in DESIGN.md.
type SetBalance struct {
	Username string
	Balance  int
}

// StartAuction opens a lot for the given catalog item.
type StartAuction struct {
	Category string
	Item     string
	Reply    chan error
}

// CompleteTransaction settles the current lot. It always succeeds from the
// caller's point of view; the outcome (sold, unsold, insolvent winner, no
// lot) is announced to the bidders.
type CompleteTransaction struct{ Reply chan error }

// Snapshot reflects coordinator state without data races, for the operator
// API and tests.
type Snapshot struct{ Reply chan View }

type Shutdown struct{}

func (Join) isCoordMsg()                {}
func (Leave) isCoordMsg()               {}
func (PlaceBid) isCoordMsg()            {}
func (SetBalance) isCoordMsg()          {}
func (StartAuction) isCoordMsg()        {}
func (CompleteTransaction) isCoordMsg() {}
func (Snapshot) isCoordMsg()            {}
func (Shutdown) isCoordMsg()            {}

type LotView struct {
	Category      string `json:"category,omitempty"`
	Item          string `json:"item,omitempty"`
	CurrentBid    int    `json:"current_bid,omitempty"`
	CurrentWinner string `json:"current_winner,omitempty"`
	Status        string `json:"status"`
}

type RosterEntry struct {
	Username string   `json:"username"`
	Balance  int      `json:"balance"`
	WonItems []string `json:"won_items,omitempty"`
}

type View struct {
	Lot    LotView       `json:"lot"`
	Roster []RosterEntry `json:"roster"`
}

// Config wires the coordinator's collaborators. Catalog is required; the
// rest may be left zero (no-op logger, no metrics, no callbacks).
type Config struct {
	Catalog *catalog.Catalog
	Logger  *zap.Logger
	Metrics *obs.Metrics

	// Presentation-layer callbacks, invoked on the coordinator goroutine
	// after the corresponding state change. Keep them fast.
	OnAuctionUpdate func(LotView)
	OnRosterUpdate  func([]RosterEntry)
}

type Coordinator struct {
	inbox    chan Msg
	catalog  *catalog.Catalog
	registry *auction.Registry
	lot      *auction.Lot
	logger   *zap.Logger
	metrics  *obs.Metrics

	onAuctionUpdate func(LotView)
	onRosterUpdate  func([]RosterEntry)

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(parent)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		inbox:           make(chan Msg, 64),
		catalog:         cfg.Catalog,
		registry:        auction.NewRegistry(),
		lot:             auction.NewLot(),
		logger:          logger.Named("coordinator"),
		metrics:         cfg.Metrics,
		onAuctionUpdate: cfg.OnAuctionUpdate,
		onRosterUpdate:  cfg.OnRosterUpdate,
		ctx:             ctx,
		cancel:          cancel,
	}

	go c.loop()
	return c
}

// Inbox exposes the message channel to the connection supervisor, the
// operator API, and tests.
func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

// Done is closed once the coordinator has shut down and stopped draining
// its inbox.
func (c *Coordinator) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Coordinator) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- c.handleJoin(msg)

			case Leave:
				c.handleLeave(msg.Username)

			case PlaceBid:
				msg.Reply <- c.handleBid(msg.Username, msg.Amount)

			case SetBalance:
				c.handleSetBalance(msg.Username, msg.Balance)

			case StartAuction:
				msg.Reply <- c.handleStart(msg.Category, msg.Item)

			case CompleteTransaction:
				c.handleComplete()
				msg.Reply <- nil

			case Snapshot:
				msg.Reply <- View{Lot: c.lotView(), Roster: c.roster()}

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Coordinator) handleJoin(msg Join) error {
	if _, err := c.registry.Register(msg.Username, msg.Balance, msg.Outbox); err != nil {
		c.logger.Warn("registration rejected",
			zap.String("username", msg.Username), zap.Error(err))
		return err
	}
	c.logger.Info("client registered",
		zap.String("username", msg.Username), zap.Int("balance", msg.Balance))
	c.setConnectedGauge()
	c.publishRoster()
	return nil
}

func (c *Coordinator) handleLeave(username string) {
	if _, err := c.registry.Get(username); err != nil {
		return // already gone
	}
	c.registry.Unregister(username)
	c.logger.Info("client departed", zap.String("username", username))
	c.setConnectedGauge()
	c.clearDepartedWinner(username)
	c.publishRoster()
}

// clearDepartedWinner keeps the lot's winner pointing at a registered
// client: a high bidder who leaves mid-auction forfeits the win, though the
// bid they set remains the floor for everyone else.
func (c *Coordinator) clearDepartedWinner(username string) {
	if c.lot.Status != auction.StatusActive || c.lot.CurrentWinner != username {
		return
	}
	c.lot.CurrentWinner = ""
	c.logger.Info("high bidder departed, lot has no winner",
		zap.String("username", username),
		zap.String("item", c.lot.Item), zap.Int("current_bid", c.lot.CurrentBid))
	c.publishAuction()
}

func (c *Coordinator) handleBid(username string, amount int) error {
	client, err := c.registry.Get(username)
	if err != nil {
		return err
	}
	if err := c.lot.Bid(username, amount, client.Balance); err != nil {
		c.countBid("rejected")
		c.logger.Info("bid rejected",
			zap.String("username", username), zap.Int("amount", amount), zap.Error(err))
		return err
	}
	c.countBid("accepted")
	c.logger.Info("bid accepted",
		zap.String("username", username), zap.Int("amount", amount),
		zap.String("item", c.lot.Item))

	c.broadcast(wire.HighBidderNotice(username, amount))
	// Re-announce the lot so bidders that joined mid-auction learn the item.
	c.broadcast(wire.ItemNotice(c.lot.Item, c.lot.CurrentBid))
	c.publishAuction()
	return nil
}

func (c *Coordinator) handleSetBalance(username string, balance int) {
	client, err := c.registry.Get(username)
	if err != nil {
		return
	}
	// Trust-the-client wallet model, kept for wire compatibility.
	c.logger.Warn("client-asserted balance refresh",
		zap.String("username", username),
		zap.Int("old", client.Balance), zap.Int("new", balance))
	client.Balance = balance
	c.publishRoster()
}

func (c *Coordinator) handleStart(category, item string) error {
	if !c.catalog.Has(category, item) {
		return auction.ErrUnknownItem
	}
	if err := c.lot.Open(category, item); err != nil {
		return err
	}
	c.logger.Info("auction started",
		zap.String("category", category), zap.String("item", item),
		zap.Int("opening_bid", c.lot.CurrentBid))
	c.broadcast(wire.ItemNotice(item, c.lot.CurrentBid))
	c.publishAuction()
	return nil
}

func (c *Coordinator) handleComplete() {
	if c.lot.Status != auction.StatusActive {
		c.countSettlement("no_lot")
		c.broadcast(wire.NoLotNotice())
		return
	}

	item := c.lot.Item
	winner := c.lot.CurrentWinner
	finalPrice := c.lot.CurrentBid

	if winner == "" {
		c.countSettlement("unsold")
		c.logger.Info("lot unsold", zap.String("item", item))
		c.lot.Reset()
		c.broadcast(wire.UnsoldNotice(item))
		c.broadcast(wire.EndOfAuction)
		c.publishAuction()
		return
	}

	client, err := c.registry.Get(winner)
	if err != nil || client.Balance < finalPrice {
		// The winning balance drifted below the bid via a BALANCE refresh.
		// The lot is voided; there is no fallback to the next-highest
		// bidder. (A departed winner never reaches here: departure already
		// cleared CurrentWinner.)
		c.countSettlement("insolvent")
		c.logger.Warn("settlement failed, voiding lot",
			zap.String("item", item), zap.String("winner", winner),
			zap.Int("final_price", finalPrice))
		c.lot.Reset()
		c.broadcast(wire.InsolventNotice(winner))
		c.broadcast(wire.EndOfAuction)
		c.publishAuction()
		return
	}

	client.Balance -= finalPrice
	client.WonItems = append(client.WonItems, item)
	c.lot.Status = auction.StatusSold

	c.countSettlement("sold")
	c.logger.Info("lot sold",
		zap.String("item", item), zap.String("winner", winner),
		zap.Int("final_price", finalPrice), zap.Int("remaining_balance", client.Balance))

	c.send(client, wire.WinnerMessage(item))
	c.send(client, wire.SucceedMessage(finalPrice))
	c.broadcast(wire.SoldNotice(winner, item, finalPrice))
	c.broadcast(wire.EndOfAuction)

	// Sold is transient: the lot folds straight back to Idle.
	c.lot.Reset()
	c.publishAuction()
	c.publishRoster()
}

// send enqueues one message for a single client, dropping the client if its
// outbox is backed up.
func (c *Coordinator) send(client *auction.Client, text string) {
	select {
	case client.Outbox <- []byte(text):
	default:
		c.drop(client.Username)
	}
}

// broadcast fans a message out to every registered client. A slow client
// must not hold up the rest, so sends never block: a full outbox drops that
// client instead.
func (c *Coordinator) broadcast(text string) {
	payload := []byte(text)
	var dropped []string
	for _, client := range c.registry.Snapshot() {
		select {
		case client.Outbox <- payload:
		default:
			dropped = append(dropped, client.Username)
		}
	}
	if c.metrics != nil {
		c.metrics.BroadcastsTotal.Inc()
	}
	for _, username := range dropped {
		c.drop(username)
	}
}

func (c *Coordinator) drop(username string) {
	c.registry.Unregister(username)
	c.logger.Warn("dropping slow client", zap.String("username", username))
	if c.metrics != nil {
		c.metrics.DroppedClients.Inc()
	}
	c.setConnectedGauge()
	c.clearDepartedWinner(username)
	c.publishRoster()
}

func (c *Coordinator) shutdown() {
	for _, client := range c.registry.Snapshot() {
		c.registry.Unregister(client.Username)
	}
	c.setConnectedGauge()
	c.cancel()
}

func (c *Coordinator) lotView() LotView {
	v := LotView{Status: c.lot.Status.String()}
	if c.lot.Status == auction.StatusActive {
		v.Category = c.lot.Category
		v.Item = c.lot.Item
		v.CurrentBid = c.lot.CurrentBid
		v.CurrentWinner = c.lot.CurrentWinner
	}
	return v
}

func (c *Coordinator) roster() []RosterEntry {
	clients := c.registry.Snapshot()
	roster := make([]RosterEntry, 0, len(clients))
	for _, client := range clients {
		roster = append(roster, RosterEntry{
			Username: client.Username,
			Balance:  client.Balance,
			WonItems: append([]string(nil), client.WonItems...),
		})
	}
	return roster
}

func (c *Coordinator) publishAuction() {
	if c.onAuctionUpdate != nil {
		c.onAuctionUpdate(c.lotView())
	}
}

func (c *Coordinator) publishRoster() {
	if c.onRosterUpdate != nil {
		c.onRosterUpdate(c.roster())
	}
}

func (c *Coordinator) setConnectedGauge() {
	if c.metrics != nil {
		c.metrics.ConnectedClients.Set(float64(c.registry.Len()))
	}
}

func (c *Coordinator) countBid(result string) {
	if c.metrics != nil {
		c.metrics.BidsTotal.WithLabelValues(result).Inc()
	}
}

func (c *Coordinator) countSettlement(outcome string) {
	if c.metrics != nil {
		c.metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	}
}
