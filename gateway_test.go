package main

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// stubFlowService is a canned Flow service for tests.
type stubFlowService struct {
	localAccounts []FlowLocalAccount
	orgs          []FlowOrg

	// Org id to channels.
	channels map[string][]FlowChannel

	// Channel id to members.
	members map[string][]FlowChannelMember

	// Channel id to messages, newest first.
	messages map[string][]FlowMessage

	// Username to peer.
	peers map[string]FlowPeer

	// What NewDirectConversation returns, and how often each call was made.
	directChannelID         string
	newDirectConversations  int
	sentMessages            []sentMessage
	sendMessageErr          error
	enumerateMessagesCalled int
}

type sentMessage struct {
	oid  string
	cid  string
	text string
}

func newStubFlowService() *stubFlowService {
	return &stubFlowService{
		channels: make(map[string][]FlowChannel),
		members:  make(map[string][]FlowChannelMember),
		messages: make(map[string][]FlowMessage),
		peers:    make(map[string]FlowPeer),
	}
}

func (s *stubFlowService) StartUp(username, serverURI string) error {
	return nil
}

func (s *stubFlowService) EnumerateLocalAccounts() ([]FlowLocalAccount,
	error) {
	return s.localAccounts, nil
}

func (s *stubFlowService) EnumerateOrgs() ([]FlowOrg, error) {
	return s.orgs, nil
}

func (s *stubFlowService) EnumerateChannels(oid string) ([]FlowChannel,
	error) {
	return s.channels[oid], nil
}

func (s *stubFlowService) EnumerateChannelMembers(cid string) (
	[]FlowChannelMember, error) {
	return s.members[cid], nil
}

func (s *stubFlowService) EnumerateMessages(oid, cid string,
	filters map[string]interface{}) ([]FlowMessage, error) {
	s.enumerateMessagesCalled++
	return s.messages[cid], nil
}

func (s *stubFlowService) GetChannel(cid string) (FlowChannel, error) {
	for _, channels := range s.channels {
		for _, ch := range channels {
			if ch.ID == cid {
				return ch, nil
			}
		}
	}
	return FlowChannel{}, FlowError{Reason: "no such channel"}
}

func (s *stubFlowService) GetPeer(username string) (FlowPeer, error) {
	peer, exists := s.peers[username]
	if !exists {
		return FlowPeer{}, FlowError{Reason: "no such peer"}
	}
	return peer, nil
}

func (s *stubFlowService) SendMessage(oid, cid, text string) (string,
	error) {
	if s.sendMessageErr != nil {
		return "", s.sendMessageErr
	}
	s.sentMessages = append(s.sentMessages, sentMessage{oid: oid, cid: cid,
		text: text})
	return "message-id", nil
}

func (s *stubFlowService) NewDirectConversation(oid, accountID string) (
	string, error) {
	s.newDirectConversations++
	if s.directChannelID == "" {
		return "", FlowError{Reason: "cannot create conversation"}
	}
	return s.directChannelID, nil
}

func (s *stubFlowService) ProcessOneNotification(timeout time.Duration) (
	*FlowNotification, error) {
	return nil, nil
}

func (s *stubFlowService) Terminate() {}

func newTestGateway(flow flowService) *Gateway {
	g := &Gateway{
		Organizations:        make(map[string]string),
		Channels:             make(map[string]*Channel),
		PendingChannels:      make(map[string]PendingChannel),
		Clients:              make(map[uint64]*ClientSession),
		notificationHandlers: make(map[string]func(jsoniter.RawMessage)),
		ShutdownChan:         make(chan struct{}),
		ToGatewayChan:        make(chan Event, 128),
	}
	g.Config = defaultConfig()
	g.Config.GatewayName = "flowgate.test"
	g.Name = g.Config.GatewayName
	g.flow = flow
	g.flowUsername = "alice@x"
	return g
}

// newTestClient adds a session without a real connection. Its WriteChan is
// buffered, so tests can read what the gateway sent with clientLines.
func newTestClient(g *Gateway, id uint64) *ClientSession {
	c := &ClientSession{
		WriteChan:        make(chan string, 4096),
		ID:               id,
		Gateway:          g,
		LastActivityTime: time.Now(),
	}
	g.Clients[id] = c
	return c
}

// clientLines drains the lines queued for a test client, trimming the
// protocol line endings.
func clientLines(c *ClientSession) []string {
	var lines []string
	for {
		select {
		case line, ok := <-c.WriteChan:
			if !ok {
				return lines
			}
			lines = append(lines, strings.TrimSuffix(line, "\r\n"))
		default:
			return lines
		}
	}
}
