package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zhemu/auction-server/internal/auction"
	"github.com/zhemu/auction-server/internal/catalog"
	"github.com/zhemu/auction-server/internal/coordinator"
)

type startRequest struct {
	Category string `json:"category"`
	Item     string `json:"item"`
}

// StartAuction opens a lot for bidding. The call is synchronous: the reply
// comes back from the coordinator goroutine, so a 204 means the lot is
// Active and the item notice has been queued to every bidder.
func StartAuction(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		if req.Category == "" || req.Item == "" {
			http.Error(w, "category and item are required", http.StatusBadRequest)
			return
		}

		reply := make(chan error, 1)
		err, ok := ask(coord, coordinator.StartAuction{
			Category: req.Category,
			Item:     req.Item,
			Reply:    reply,
		}, reply)
		if !ok {
			http.Error(w, "coordinator is shut down", http.StatusServiceUnavailable)
			return
		}
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, auction.ErrUnknownItem):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, auction.ErrAuctionInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// CompleteTransaction settles the current lot. Settling with no active lot
// is a no-op with a notice to the bidders, not an operator error.
func CompleteTransaction(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan error, 1)
		err, ok := ask(coord, coordinator.CompleteTransaction{Reply: reply}, reply)
		if !ok {
			http.Error(w, "coordinator is shut down", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetLot(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := snapshot(coord)
		if !ok {
			http.Error(w, "coordinator is shut down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, view.Lot)
	}
}

func GetRoster(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := snapshot(coord)
		if !ok {
			http.Error(w, "coordinator is shut down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, view.Roster)
	}
}

func GetCatalog(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string][]string, len(cat.Categories()))
		for _, category := range cat.Categories() {
			out[category] = cat.Items(category)
		}
		writeJSON(w, out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ask sends one synchronous operation and waits for its reply, bailing out
// if the coordinator shuts down on either side of the exchange.
func ask(coord *coordinator.Coordinator, msg coordinator.Msg, reply <-chan error) (error, bool) {
	select {
	case coord.Inbox() <- msg:
	case <-coord.Done():
		return nil, false
	}
	select {
	case err := <-reply:
		return err, true
	case <-coord.Done():
		return nil, false
	}
}

func snapshot(coord *coordinator.Coordinator) (coordinator.View, bool) {
	reply := make(chan coordinator.View, 1)
	select {
	case coord.Inbox() <- coordinator.Snapshot{Reply: reply}:
	case <-coord.Done():
		return coordinator.View{}, false
	}
	select {
	case view := <-reply:
		return view, true
	case <-coord.Done():
		return coordinator.View{}, false
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
