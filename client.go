package main

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/horgh/irc"
)

// ClientSession holds state about a single IRC client connection.
type ClientSession struct {
	// Conn is the TCP connection to the client.
	Conn Conn

	// WriteChan is the channel of raw protocol lines to send to the client.
	WriteChan chan string

	// A unique id. Internal to this gateway only.
	ID uint64

	Gateway *Gateway

	// Host is the client's address, for use in user@host prefixes.
	Host string

	// Nickname and User are both forced to the Flow username during
	// registration. We track them separately so we know which of NICK and
	// USER have arrived.
	Nickname string
	User     string

	// Registered is set once registration completed and the channel state
	// was replayed. Before that, only registration commands are accepted.
	Registered bool

	// The last time we heard anything from the client.
	LastActivityTime time.Time

	// SentPing is set when we PINGed the client and have not heard back.
	SentPing bool

	// Track if we overflow our send queue. If we do, we'll kill the client.
	SendQueueExceeded bool
}

// NewClientSession creates a ClientSession around an accepted connection.
func NewClientSession(g *Gateway, id uint64, conn net.Conn) *ClientSession {
	c := &ClientSession{
		// Read deadline longer than the dead time so the aliveness sweep gets
		// to report ping timeout first.
		Conn: NewConn(conn, g.Config.DeadTime+2*g.Config.WakeupTime),

		// Buffered so a slow client doesn't block the gateway goroutine. If
		// we fill the buffer, we cut the client off.
		WriteChan: make(chan string, 32768),

		ID:               id,
		Gateway:          g,
		LastActivityTime: time.Now(),
	}

	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		c.Host = host
	}

	return c
}

func (c *ClientSession) String() string {
	return fmt.Sprintf("%d %s", c.ID, c.Host)
}

// readLoop reads lines from the client and feeds them to the gateway as
// events.
func (c *ClientSession) readLoop() {
	defer c.Gateway.WG.Done()

	for {
		if c.Gateway.isShuttingDown() {
			break
		}

		buf, err := c.Conn.Read()
		if err != nil {
			c.Gateway.newEvent(Event{Type: DeadClientEvent, ClientID: c.ID})
			break
		}

		if strings.TrimRight(buf, "\r\n") == "" {
			continue
		}

		message, err := irc.ParseMessage(buf)
		if err != nil {
			// Not worth cutting the client off over. Drop the line.
			c.Gateway.printDebug(fmt.Sprintf("Client %s: malformed line: %s",
				c, err))
			continue
		}
		message.Command = strings.ToUpper(message.Command)

		c.Gateway.newEvent(Event{
			Type:     MessageFromClientEvent,
			ClientID: c.ID,
			Message:  message,
		})
	}

	c.Gateway.printDebug(fmt.Sprintf("Client %s: reader shutting down.", c))
}

// writeLoop writes lines to the client. It receives them on the client's
// write channel. The channel closing means the client is going away, and
// we tear the connection down here.
func (c *ClientSession) writeLoop() {
	defer c.Gateway.WG.Done()

	for line := range c.WriteChan {
		if err := c.Conn.Write(line); err != nil {
			c.Gateway.printDebug(fmt.Sprintf("Client %s: write: %s", c, err))
			c.Gateway.newEvent(Event{Type: DeadClientEvent, ClientID: c.ID})
			break
		}
	}

	// Drain anything queued between the write failing and the gateway
	// closing the channel.
	for range c.WriteChan {
	}

	if err := c.Conn.Close(); err != nil {
		c.Gateway.printDebug(fmt.Sprintf("Client %s: close: %s", c, err))
	}

	c.Gateway.printDebug(fmt.Sprintf("Client %s: writer shutting down.", c))
}

// maybeQueueMessage queues a raw line to be sent to the client. It does
// not block. If the client's queue is full, we flag it for disconnection.
func (c *ClientSession) maybeQueueMessage(line string) {
	if c.SendQueueExceeded {
		return
	}

	select {
	case c.WriteChan <- line:
	default:
		c.SendQueueExceeded = true
	}
}

// message queues a protocol line, terminating it.
func (c *ClientSession) message(line string) {
	// Flow messages can be longer than a protocol line may be.
	if len(line) > irc.MaxLineLength-2 {
		line = line[:irc.MaxLineLength-2]
	}
	c.maybeQueueMessage(line + "\r\n")
}

// reply queues a line from the gateway itself, such as a numeric.
func (c *ClientSession) reply(line string) {
	c.message(":" + c.Gateway.Name + " " + line)
}

// quit means the client is going away. Tell it why and clean up.
//
// This may only be called from the gateway goroutine.
func (c *ClientSession) quit(msg string) {
	// We may already be cleaning this client up.
	if _, exists := c.Gateway.Clients[c.ID]; !exists {
		return
	}

	c.message("ERROR :" + msg)
	close(c.WriteChan)

	delete(c.Gateway.Clients, c.ID)

	c.Gateway.printInfo(fmt.Sprintf("Client %s disconnected (%s).", c, msg))

	// No one is listening any more. Stop consuming notifications.
	if len(c.Gateway.Clients) == 0 {
		c.Gateway.unregisterCallbacks()
	}
}

// checkAliveness pings or disconnects the client depending on how long it
// has been idle.
func (c *ClientSession) checkAliveness(now time.Time) {
	timeIdle := now.Sub(c.LastActivityTime)

	if timeIdle >= c.Gateway.Config.DeadTime {
		c.quit("ping timeout")
		return
	}

	if c.SentPing || timeIdle < c.Gateway.Config.PingTime {
		return
	}

	if !c.Registered {
		// Took too long to register. No PING grace period for those.
		c.quit("ping timeout")
		return
	}

	c.message("PING :" + c.Gateway.Name)
	c.SentPing = true
}
