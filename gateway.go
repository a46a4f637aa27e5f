// flowgate is a gateway presenting the Flow messaging service to IRC
// clients. Clients connect over loopback with a standard IRC client and
// see their Flow organizations as channels.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/horgh/irc"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const version = "0.1"

// How long the notification poller waits on the Flow service per request.
const notificationPollTimeout = 50 * time.Millisecond

// Gateway holds the state for this gateway instance.
//
// All domain state belongs to the gateway goroutine running eventLoop.
// Other goroutines must speak to it through ToGatewayChan.
type Gateway struct {
	Config Config

	// Name is the server name we present in message prefixes and numerics.
	Name string

	// Organization id to organization name.
	Organizations map[string]string

	// Channel id to channel.
	Channels map[string]*Channel

	// Channels announced by a notification whose name and kind we do not
	// know yet. Channel id to record.
	PendingChannels map[string]PendingChannel

	// Client id to session.
	Clients map[uint64]*ClientSession

	// The Flow service connection.
	flow flowService

	// The Flow identity this gateway is logged in as.
	flowUsername  string
	flowAccountID string

	// Notification kinds we currently have handlers registered for. Only
	// the gateway goroutine touches this.
	notificationHandlers map[string]func(jsoniter.RawMessage)

	// When we close this channel, it indicates we're shutting down.
	ShutdownChan chan struct{}

	// Tell the gateway something on this channel.
	ToGatewayChan chan Event

	Listeners []net.Listener

	// Client ids are handed out from this counter. Several accept
	// goroutines may be taking them.
	nextClientID uint64

	WG sync.WaitGroup
}

// flowService is the part of the Flow client the gateway uses. It is an
// interface so tests can run against a stub service.
type flowService interface {
	StartUp(username, serverURI string) error
	EnumerateLocalAccounts() ([]FlowLocalAccount, error)
	EnumerateOrgs() ([]FlowOrg, error)
	EnumerateChannels(oid string) ([]FlowChannel, error)
	EnumerateChannelMembers(cid string) ([]FlowChannelMember, error)
	EnumerateMessages(oid, cid string,
		filters map[string]interface{}) ([]FlowMessage, error)
	GetChannel(cid string) (FlowChannel, error)
	GetPeer(username string) (FlowPeer, error)
	SendMessage(oid, cid, text string) (string, error)
	NewDirectConversation(oid, accountID string) (string, error)
	ProcessOneNotification(timeout time.Duration) (*FlowNotification, error)
	Terminate()
}

// Event holds a message to tell the gateway something.
type Event struct {
	Type EventType

	Client   *ClientSession
	ClientID uint64

	Message irc.Message

	Notification *FlowNotification
}

// EventType is a type of event we can tell the gateway about.
type EventType int

const (
	// NullEvent is a noop.
	NullEvent EventType = iota
	// NewClientEvent means a new client connected.
	NewClientEvent
	// DeadClientEvent means we should clean up the client.
	DeadClientEvent
	// MessageFromClientEvent means a client sent a message.
	MessageFromClientEvent
	// WakeUpEvent means the gateway should wake up and check aliveness.
	WakeUpEvent
	// NotificationEvent carries a Flow notification to dispatch.
	NotificationEvent
	// ShutdownEvent means the gateway should shut down.
	ShutdownEvent
)

func main() {
	log.SetFlags(0)

	args := getArgs()

	gateway, err := newGateway(args)
	if err != nil {
		log.Fatal(err)
	}

	if err := gateway.initializeFlowService(); err != nil {
		log.Fatalf("Unable to initialize the Flow service: %s", err)
	}

	if err := gateway.start(); err != nil {
		gateway.flow.Terminate()
		log.Fatal(err)
	}

	log.Printf("Gateway shut down cleanly.")
}

func newGateway(args Args) (*Gateway, error) {
	gateway := &Gateway{
		Organizations:        make(map[string]string),
		Channels:             make(map[string]*Channel),
		PendingChannels:      make(map[string]PendingChannel),
		Clients:              make(map[uint64]*ClientSession),
		notificationHandlers: make(map[string]func(jsoniter.RawMessage)),
		ShutdownChan:         make(chan struct{}),
		ToGatewayChan:        make(chan Event),
	}

	if err := gateway.checkAndParseConfig(args.ConfigFile); err != nil {
		return nil, errors.Wrap(err, "configuration problem")
	}

	if args.Username != "" {
		gateway.Config.Username = args.Username
	}
	if args.Debug {
		gateway.Config.Debug = true
	}
	if args.Verbose {
		gateway.Config.Verbose = true
	}
	if args.ShowTimestamps {
		gateway.Config.ShowTimestamps = true
	}
	if gateway.Config.Debug {
		gateway.Config.Verbose = true
	}

	gateway.Name = gateway.Config.GatewayName

	return gateway, nil
}

// initializeFlowService starts the flowappglue subprocess, hands it its
// bootstrap parameters, and binds the session to a local account. Failing
// any of this is fatal.
func (g *Gateway) initializeFlowService() error {
	flow, err := NewFlow(g.Config.FlowappglueBinary, g.Config.Debug)
	if err != nil {
		return err
	}

	if err := flow.Config(g.Config.FlowServHost, g.Config.FlowServPort,
		g.Config.DBDir, g.Config.SchemaDir, g.Config.AttachmentDir,
		g.Config.UseTLS); err != nil {
		flow.Terminate()
		return err
	}

	g.flow = flow

	g.flowUsername = g.Config.Username
	if g.flowUsername == "" {
		username, err := g.localAccountUsername()
		if err != nil {
			flow.Terminate()
			return err
		}
		g.flowUsername = username
	}
	if g.flowUsername == "" {
		flow.Terminate()
		return errors.New("no local Flow account found")
	}

	if err := g.flow.StartUp(g.flowUsername, g.Config.ServerURI); err != nil {
		flow.Terminate()
		return err
	}

	g.printInfo(fmt.Sprintf("Logged in to Flow as %s.", g.flowUsername))
	return nil
}

// localAccountUsername discovers which account to log in as by asking the
// Flow service what accounts the local device database holds.
func (g *Gateway) localAccountUsername() (string, error) {
	accounts, err := g.flow.EnumerateLocalAccounts()
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", nil
	}
	return accounts[0].EmailAddress, nil
}

// start opens the listeners, starts the worker goroutines, and runs the
// event loop until shutdown.
func (g *Gateway) start() error {
	for _, port := range g.Config.ListenPorts {
		// Loopback only. We speak for a logged in account with no further
		// authentication.
		listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
		if err != nil {
			for _, ln := range g.Listeners {
				_ = ln.Close()
			}
			return errors.Wrapf(err, "unable to listen on port %d", port)
		}
		g.Listeners = append(g.Listeners, listener)
		g.printInfo(fmt.Sprintf("Listening on port %d.", port))
	}

	for _, listener := range g.Listeners {
		g.WG.Add(1)
		go g.acceptConnections(listener)
	}

	g.WG.Add(1)
	go g.alarm()

	g.WG.Add(1)
	go g.notificationLoop()

	g.WG.Add(1)
	go g.handleSignals()

	log.Printf("flowgate started")

	g.eventLoop()

	g.WG.Wait()
	return nil
}

// eventLoop processes events until we're told to shut down.
//
// The gateway's state may only be mutated here.
func (g *Gateway) eventLoop() {
	for {
		select {
		case evt := <-g.ToGatewayChan:
			switch evt.Type {
			case NewClientEvent:
				g.printInfo(fmt.Sprintf("New connection from %s.",
					evt.Client.Conn.RemoteAddr()))
				g.Clients[evt.Client.ID] = evt.Client

			case DeadClientEvent:
				client, exists := g.Clients[evt.ClientID]
				if exists {
					client.quit("I/O error")
				}

			case MessageFromClientEvent:
				client, exists := g.Clients[evt.ClientID]
				if exists {
					g.handleMessage(client, evt.Message)
				}

			case WakeUpEvent:
				now := time.Now()
				for _, client := range g.Clients {
					if client.SendQueueExceeded {
						client.quit("SendQ exceeded")
						continue
					}
					client.checkAliveness(now)
				}

			case NotificationEvent:
				g.handleNotification(evt.Notification)

			case ShutdownEvent:
				g.shutdown()

			default:
				log.Fatalf("unexpected event type %v", evt.Type)
			}

		case <-g.ShutdownChan:
			return
		}
	}
}

// shutdown closes down the listeners and all clients, and stops the Flow
// subprocess. Runs in the gateway goroutine.
func (g *Gateway) shutdown() {
	g.printInfo("Gateway shutdown initiated.")

	close(g.ShutdownChan)

	for _, listener := range g.Listeners {
		if err := listener.Close(); err != nil {
			log.Printf("Problem closing listener: %s", err)
		}
	}

	for _, client := range g.Clients {
		client.quit("Gateway shutting down")
	}

	g.flow.Terminate()
}

func (g *Gateway) isShuttingDown() bool {
	select {
	case <-g.ShutdownChan:
		return true
	default:
		return false
	}
}

// newEvent tells the gateway something happens. Blocks until the event is
// accepted or we shut down.
func (g *Gateway) newEvent(evt Event) {
	select {
	case g.ToGatewayChan <- evt:
	case <-g.ShutdownChan:
	}
}

// acceptConnections accepts client connections on one listener and tells
// the gateway about them.
func (g *Gateway) acceptConnections(listener net.Listener) {
	defer g.WG.Done()

	for {
		if g.isShuttingDown() {
			break
		}

		conn, err := listener.Accept()
		if err != nil {
			if g.isShuttingDown() {
				break
			}
			log.Printf("Failed to accept connection: %s", err)
			continue
		}

		id := atomic.AddUint64(&g.nextClientID, 1)
		client := NewClientSession(g, id, conn)

		g.newEvent(Event{Type: NewClientEvent, Client: client, ClientID: id})

		g.WG.Add(1)
		go client.readLoop()
		g.WG.Add(1)
		go client.writeLoop()
	}

	g.printInfo("Connection accepter shutting down.")
}

// alarm sets a repeating alarm. We use this to wake the gateway up for
// aliveness checks.
func (g *Gateway) alarm() {
	defer g.WG.Done()

	for {
		if g.isShuttingDown() {
			break
		}

		time.Sleep(g.Config.WakeupTime)
		g.newEvent(Event{Type: WakeUpEvent})
	}

	g.printInfo("Alarm shutting down.")
}

// notificationLoop polls the Flow service for notifications and feeds them
// to the event loop. Dispatch happens in the gateway goroutine so handlers
// never race with client commands.
func (g *Gateway) notificationLoop() {
	defer g.WG.Done()

	for {
		if g.isShuttingDown() {
			break
		}

		notification, err := g.flow.ProcessOneNotification(
			notificationPollTimeout)
		if err != nil {
			g.printDebug(fmt.Sprintf("Notification wait: %s", err))
			// Don't spin on a broken transport.
			time.Sleep(notificationPollTimeout)
			continue
		}
		if notification == nil {
			continue
		}

		g.newEvent(Event{Type: NotificationEvent, Notification: notification})
	}

	g.printInfo("Notification poller shutting down.")
}

// handleSignals turns SIGINT/SIGTERM into a clean shutdown.
func (g *Gateway) handleSignals() {
	defer g.WG.Done()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Printf("Received signal: %s", sig)
		g.newEvent(Event{Type: ShutdownEvent})
	case <-g.ShutdownChan:
	}

	signal.Stop(signalChan)
}

// notifyClients sends a raw protocol line to every connected client.
func (g *Gateway) notifyClients(line string) {
	for _, client := range g.Clients {
		client.message(line)
	}
}

func (g *Gateway) printInfo(msg string) {
	if g.Config.Verbose {
		log.Printf("%s", msg)
	}
}

func (g *Gateway) printDebug(msg string) {
	if g.Config.Debug {
		log.Printf("%s", msg)
	}
}
