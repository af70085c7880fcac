// README: WebSocket transport: authenticated sockets join booking/driver channels and push locations.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"haul/internal/modules/actor"
	"haul/internal/modules/booking"
	"haul/internal/observability"
	"haul/internal/types"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

const (
	inJoinBooking  = "join_booking"
	inLeaveBooking = "leave_booking"
	inJoinDriver   = "join_driver"
	inLocation     = "location"
)

var (
	errNotParty  = errors.New("not a party to this booking")
	errNotDriver = errors.New("only drivers may do this")
	errNotActive = errors.New("booking is not in progress for this driver")
	errNoPoint   = errors.New("location needs valid lat and lng")
)

type BookingReader interface {
	Get(ctx context.Context, id types.ID, caller booking.Caller) (*booking.Booking, error)
}

type inbound struct {
	Type      string   `json:"type"`
	BookingID types.ID `json:"booking_id,omitempty"`
	// Lat and Lng are pointers so a missing coordinate is not read as 0.
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
}

func (in inbound) point() (types.Point, bool) {
	if in.Lat == nil || in.Lng == nil {
		return types.Point{}, false
	}
	p := types.Point{Lat: *in.Lat, Lng: *in.Lng}
	return p, p.Valid()
}

type Server struct {
	bus      *Bus
	bookings BookingReader
	log      *slog.Logger
	buffer   int
	upgrader websocket.Upgrader
}

func NewServer(bus *Bus, bookings BookingReader, buffer int, log *slog.Logger) *Server {
	return &Server{
		bus:      bus,
		bookings: bookings,
		log:      log,
		buffer:   buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type client struct {
	srv    *Server
	conn   *websocket.Conn
	sub    *Subscriber
	caller booking.Caller
}

// Serve upgrades the request and blocks until the socket closes. The caller
// must already be authenticated.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, caller booking.Caller) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{srv: s, conn: conn, sub: NewSubscriber(s.buffer), caller: caller}

	observability.RealtimeClients.Inc()
	defer observability.RealtimeClients.Dec()

	go c.writePump()
	c.readPump(r.Context())
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.srv.bus.Hub().Remove(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Info("websocket closed", "caller", c.caller.ID, "err", err)
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.reply(Message{Type: TypeError, Error: "malformed message"})
			continue
		}
		if err := c.handle(ctx, in); err != nil {
			c.reply(Message{Type: TypeError, BookingID: in.BookingID, Error: err.Error()})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.sub.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.sub.C():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handle(ctx context.Context, in inbound) error {
	hub := c.srv.bus.Hub()
	switch in.Type {
	case inJoinBooking:
		b, err := c.srv.bookings.Get(ctx, in.BookingID, c.caller)
		if err != nil {
			return err
		}
		if c.caller.Role != actor.RoleAdmin && !b.IsParty(c.caller.ID) {
			return errNotParty
		}
		channel := BookingChannel(b.ID)
		hub.Subscribe(channel, c.sub)
		c.reply(Message{Type: TypeJoined, Channel: channel, BookingID: b.ID, Status: b.Status})
	case inLeaveBooking:
		channel := BookingChannel(in.BookingID)
		hub.Unsubscribe(channel, c.sub)
		c.reply(Message{Type: TypeLeft, Channel: channel, BookingID: in.BookingID})
	case inJoinDriver:
		if c.caller.Role != actor.RoleDriver {
			return errNotDriver
		}
		channel := DriverChannel(c.caller.ID)
		hub.Subscribe(channel, c.sub)
		c.reply(Message{Type: TypeJoined, Channel: channel})
	case inLocation:
		if c.caller.Role != actor.RoleDriver {
			return errNotDriver
		}
		p, ok := in.point()
		if !ok {
			return errNoPoint
		}
		if in.BookingID != "" {
			b, err := c.srv.bookings.Get(ctx, in.BookingID, c.caller)
			if err != nil {
				return err
			}
			if !b.IsAssignedDriver(c.caller.ID) || (b.Status != booking.StatusAccepted && b.Status != booking.StatusInProgress) {
				return errNotActive
			}
		}
		return c.srv.bus.PublishDriverLocation(ctx, c.caller.ID, in.BookingID, p)
	default:
		return errors.New("unknown message type " + in.Type)
	}
	return nil
}

func (c *client) reply(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.sub.offer(payload) {
		observability.RealtimeDropped.Inc()
	}
}
