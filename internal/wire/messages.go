package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownCommand = errors.New("unknown command")
var ErrMalformedCommand = errors.New("malformed command")
var ErrMalformedHandshake = errors.New("malformed handshake")

type CommandType string

const (
	CmdBid     CommandType = "BID"
	CmdBalance CommandType = "BALANCE"
	CmdExit    CommandType = "EXIT"
)

// Command is a parsed client request. Amount is meaningful for BID and
// BALANCE only.
type Command struct {
	Type   CommandType
	Amount int
}

// ParseCommand parses a post-handshake client frame. BID and BALANCE require
// a positive integer argument.
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))

	switch {
	case text == string(CmdExit):
		return Command{Type: CmdExit}, nil

	case strings.HasPrefix(text, string(CmdBid)):
		amount, err := parseAmount(strings.TrimPrefix(text, string(CmdBid)))
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, text)
		}
		return Command{Type: CmdBid, Amount: amount}, nil

	case strings.HasPrefix(text, string(CmdBalance)):
		amount, err := parseAmount(strings.TrimPrefix(text, string(CmdBalance)))
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, text)
		}
		return Command{Type: CmdBalance, Amount: amount}, nil

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
	}
}

func parseAmount(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", n)
	}
	return n, nil
}

// ParseHandshake parses the registration frame "<username>,<balance>". The
// username may not be empty or contain a comma; the balance must be a
// non-negative integer.
func ParseHandshake(payload []byte) (username string, balance int, err error) {
	text := strings.TrimSpace(string(payload))
	username, balanceText, ok := strings.Cut(text, ",")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedHandshake, text)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", 0, fmt.Errorf("%w: empty username", ErrMalformedHandshake)
	}
	balance, err = strconv.Atoi(strings.TrimSpace(balanceText))
	if err != nil || balance < 0 {
		return "", 0, fmt.Errorf("%w: bad balance %q", ErrMalformedHandshake, balanceText)
	}
	return username, balance, nil
}

// Server-to-client vocabulary. WINNER and SUCCEED go to the settlement
// winner only; everything else is broadcast. Clients key on the leading
// token, so the shapes below are part of the wire contract.

const EndOfAuction = "END_OF_AUCTION"

func ItemNotice(item string, bid int) string {
	return fmt.Sprintf("ITEM: '%s' open for bidding at %d.", item, bid)
}

func HighBidderNotice(username string, amount int) string {
	return fmt.Sprintf("%s is the current highest bidder with %d.", username, amount)
}

func WinnerMessage(item string) string {
	return fmt.Sprintf("WINNER %s", item)
}

func SucceedMessage(amount int) string {
	return fmt.Sprintf("SUCCEED %d", amount)
}

func SoldNotice(username, item string, amount int) string {
	return fmt.Sprintf("%s won '%s' for %d.", username, item, amount)
}

func UnsoldNotice(item string) string {
	return fmt.Sprintf("No bids were placed for '%s'.", item)
}

func InsolventNotice(username string) string {
	return fmt.Sprintf("%s has insufficient funds to complete the purchase.", username)
}

func NoLotNotice() string {
	return "No auction is in progress."
}
