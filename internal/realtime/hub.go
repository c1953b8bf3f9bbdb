// README: WebSocket hub streaming booking updates to a traveler's connected clients.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"namma/internal/modules/booking"
	"namma/internal/types"
)

const MessageBookingUpdate = "booking_update"

// Message is the frame pushed to clients.
type Message struct {
	Type    string           `json:"type"`
	Booking *booking.Booking `json:"booking,omitempty"`
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[types.ID]map[*client]struct{}
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewHub accepts connections from the given origins; "*" or an empty list allows any.
func NewHub(allowedOrigins []string, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hub{
		clients: make(map[types.ID]map[*client]struct{}),
		log:     log.WithField("component", "realtime"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Serve upgrades the request and streams updates for travelerID until the client
// goes away. hello, when non-nil, is sent first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, travelerID types.ID, hello *Message) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(h, conn, travelerID)
	if hello != nil {
		if data, err := json.Marshal(hello); err == nil {
			c.send <- data
		}
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
	return nil
}

// Publish implements booking.Notifier.
func (h *Hub) Publish(travelerID types.ID, b booking.Booking) {
	data, err := json.Marshal(Message{Type: MessageBookingUpdate, Booking: &b})
	if err != nil {
		h.log.WithError(err).Error("marshal booking update")
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients[travelerID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithField("traveler_id", travelerID).Warn("dropping slow websocket client")
		h.unregister(c)
	}
}

// Connections reports how many clients are attached for travelerID.
func (h *Hub) Connections(travelerID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[travelerID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.travelerID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.travelerID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.travelerID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.travelerID)
	}
	close(c.send)
}
