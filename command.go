package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/horgh/irc"
)

// handleMessage takes action based on a message from a client.
//
// This may only be called from the gateway goroutine.
func (g *Gateway) handleMessage(c *ClientSession, m irc.Message) {
	// Record that client said something to us just now.
	c.LastActivityTime = time.Now()
	c.SentPing = false

	if !c.Registered {
		g.registrationHandler(c, m)
		return
	}

	g.commandHandler(c, m)
}

// registrationHandler deals with a client that has not yet registered.
// Only NICK, USER, and QUIT do anything. Whatever names the client asks
// for, its identity is the Flow account the gateway is logged in as.
func (g *Gateway) registrationHandler(c *ClientSession, m irc.Message) {
	switch m.Command {
	case "NICK":
		c.Nickname = g.flowUsername
	case "USER":
		c.User = g.flowUsername
	case "QUIT":
		c.quit("Client quit")
		return
	}

	if c.Nickname == "" || c.User == "" {
		return
	}

	c.sendWelcome()
	g.loadOrgsAndChannels()
	c.sendLusers()
	c.sendMOTD()
	c.sendNickData()
	c.sendChannelsData()

	c.Registered = true

	// First client in. Start listening to Flow notifications.
	if len(g.notificationHandlers) == 0 {
		g.registerCallbacks()
	}
}

// commandHandler dispatches a command from a registered client.
func (g *Gateway) commandHandler(c *ClientSession, m irc.Message) {
	switch m.Command {
	case "AWAY", "ISON", "JOIN", "NICK", "PART", "TOPIC":
		// Membership and identity are driven by the Flow service. Accept and
		// ignore.

	case "LIST":
		g.listCommand(c, m)

	case "LUSERS":
		c.sendLusers()

	case "MODE":
		g.modeCommand(c, m)

	case "MOTD":
		c.sendMOTD()

	case "PING":
		g.pingCommand(c, m)

	case "PONG":
		// Nothing to do. Activity time was already updated.

	case "PRIVMSG", "NOTICE":
		g.privmsgCommand(c, m)

	case "QUIT":
		g.quitCommand(c, m)

	case "WHO":
		g.whoCommand(c, m)

	case "WHOIS":
		g.whoisCommand(c, m)

	default:
		// 421 ERR_UNKNOWNCOMMAND
		c.reply(fmt.Sprintf("421 %s %s :Unknown command", c.Nickname,
			m.Command))
	}
}

// sendWelcome sends the registration numerics.
func (c *ClientSession) sendWelcome() {
	// 001 RPL_WELCOME
	c.reply(fmt.Sprintf("001 %s :Hi, welcome to Flow", c.Nickname))
	// 002 RPL_YOURHOST
	c.reply(fmt.Sprintf("002 %s :Your host is %s, running version flowgate-%s",
		c.Nickname, c.Gateway.Name, version))
}

// sendLusers sends the LUSERS summary: org and channel counts.
func (c *ClientSession) sendLusers() {
	// 251 RPL_LUSERCLIENT
	c.reply(fmt.Sprintf("251 %s :There are %d orgs and %d channels",
		c.Nickname, len(c.Gateway.Organizations), len(c.Gateway.Channels)))
}

// channelListing is one channel line of the MOTD.
type channelListing struct {
	name        string
	direct      bool
	memberCount int
}

// channelsByOrg groups the channels we know about by organization name.
func (g *Gateway) channelsByOrg() map[string][]channelListing {
	listing := make(map[string][]channelListing)
	for _, orgName := range g.Organizations {
		listing[orgName] = []channelListing{}
	}

	for _, ch := range g.Channels {
		listing[ch.OrgName] = append(listing[ch.OrgName], channelListing{
			name:        ch.ircName(g.flowAccountID),
			direct:      ch.Kind == DirectChannel,
			memberCount: len(ch.Members),
		})
	}

	for _, channels := range listing {
		sort.Slice(channels, func(i, j int) bool {
			return channels[i].name < channels[j].name
		})
	}

	return listing
}

// sendMOTD sends the MOTD: the organizations and channels this account
// can see.
func (c *ClientSession) sendMOTD() {
	// 375 RPL_MOTDSTART, 372 RPL_MOTD, 376 RPL_ENDOFMOTD
	c.reply(fmt.Sprintf("375 %s :- Message of the day -", c.Nickname))
	c.reply(fmt.Sprintf("372 %s :- Your Flow username is: %s", c.Nickname,
		c.Nickname))
	c.reply(fmt.Sprintf("372 %s :- List of Organizations and Channels:",
		c.Nickname))

	listing := c.Gateway.channelsByOrg()

	orgNames := make([]string, 0, len(listing))
	for orgName := range listing {
		orgNames = append(orgNames, orgName)
	}
	sort.Strings(orgNames)

	for _, orgName := range orgNames {
		channels := listing[orgName]
		c.reply(fmt.Sprintf("372 %s :  - %s: [%d channels]", c.Nickname,
			orgName, len(channels)))
		for _, ch := range channels {
			annotation := fmt.Sprintf(" [%d members]", ch.memberCount)
			if ch.direct {
				annotation = " [direct conversation]"
			}
			c.reply(fmt.Sprintf("372 %s :    - %s%s", c.Nickname, ch.name,
				annotation))
		}
	}

	c.reply(fmt.Sprintf("376 %s :End of /MOTD command", c.Nickname))
}

// sendNickData anchors the client on its forced nickname.
func (c *ClientSession) sendNickData() {
	c.message(fmt.Sprintf(":%s!%s@%s NICK :%s", c.Nickname, c.User, c.Host,
		c.Nickname))
}

// sendChannelsData replays every channel to the client: joins first, then
// the channel's history.
func (c *ClientSession) sendChannelsData() {
	for _, ch := range c.Gateway.sortedChannels() {
		c.sendChannelJoinCommands(ch)
		c.sendChannelMessages(ch)
	}
}

// sendChannelJoinCommands emits the JOIN for the client itself and then
// for every other member of the channel.
func (c *ClientSession) sendChannelJoinCommands(ch *Channel) {
	g := c.Gateway
	name := ch.ircName(g.flowAccountID)

	c.message(fmt.Sprintf(":%s!%s@%s JOIN :%s", c.Nickname, c.User, c.Host,
		name))

	for _, member := range ch.Members {
		if member.AccountID == g.flowAccountID {
			continue
		}
		c.message(fmt.Sprintf(":%s!%s@%s JOIN :%s", member.ircNickname(),
			member.User, member.Host, name))
	}
}

// sendChannelMessages replays a channel's history, oldest first.
func (c *ClientSession) sendChannelMessages(ch *Channel) {
	g := c.Gateway

	messages, err := g.flow.EnumerateMessages(ch.OrgID, ch.ID, nil)
	if err != nil {
		g.printDebug(fmt.Sprintf("EnumerateMessages %s: %s", ch.ID, err))
		return
	}

	// The service returns newest first.
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]

		member := ch.memberByAccountID(m.SenderAccountID)
		if member == nil {
			continue
		}

		text := m.Text
		if g.Config.ShowTimestamps {
			text = messageTimestamp(m.CreationTime) + " " + text
		}
		text = escapeNewlines(text)

		nickname := member.ircNickname()
		if member.AccountID == g.flowAccountID {
			// Our own messages appear under the bare nickname.
			nickname = member.Nickname
		}

		c.message(fmt.Sprintf(":%s!%s@%s PRIVMSG %s :%s", nickname,
			member.User, member.Host, ch.ircName(g.flowAccountID), text))
	}
}

// listCommand sends the channel list, optionally filtered to the comma
// separated names in the first parameter.
func (g *Gateway) listCommand(c *ClientSession, m irc.Message) {
	var channels []*Channel
	if len(m.Params) == 0 {
		channels = g.sortedChannels()
	} else {
		for _, name := range strings.Split(m.Params[0], ",") {
			if ch := g.getChannelFromIRCName(name); ch != nil {
				channels = append(channels, ch)
			}
		}
	}

	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Name < channels[j].Name
	})

	for _, ch := range channels {
		// 322 RPL_LIST. Flow channels have no topic.
		c.reply(fmt.Sprintf("322 %s %s %d :", c.Nickname,
			ch.ircName(g.flowAccountID), len(ch.Members)))
	}
	// 323 RPL_LISTEND
	c.reply(fmt.Sprintf("323 %s :End of LIST", c.Nickname))
}

func (g *Gateway) modeCommand(c *ClientSession, m irc.Message) {
	if len(m.Params) == 0 {
		// 461 ERR_NEEDMOREPARAMS
		c.reply(fmt.Sprintf("461 %s MODE :Not enough parameters", c.Nickname))
		return
	}

	// Flow channels have no modes to speak of.
	// 324 RPL_CHANNELMODEIS
	c.reply(fmt.Sprintf("324 %s %s", c.Nickname, m.Params[0]))
}

func (g *Gateway) pingCommand(c *ClientSession, m irc.Message) {
	if len(m.Params) == 0 {
		// 409 ERR_NOORIGIN
		c.reply(fmt.Sprintf("409 %s :No origin specified", c.Nickname))
		return
	}

	c.reply(fmt.Sprintf("PONG %s :%s", g.Name, m.Params[0]))
}

func (g *Gateway) quitCommand(c *ClientSession, m irc.Message) {
	msg := c.Nickname
	if len(m.Params) > 0 {
		msg = m.Params[0]
	}
	c.quit(msg)
}

// whoCommand answers WHO for a channel target. Anything else gets only
// the end marker.
func (g *Gateway) whoCommand(c *ClientSession, m irc.Message) {
	if len(m.Params) == 0 {
		return
	}
	target := m.Params[0]

	if ch := g.getChannelFromIRCName(target); ch != nil {
		for _, member := range ch.Members {
			// 352 RPL_WHOREPLY
			c.reply(fmt.Sprintf("352 %s %s %s %s %s %s H :0 %s", c.Nickname,
				target, member.User, member.Host, g.Name, member.ircNickname(),
				member.RealName))
		}
	}

	// 315 RPL_ENDOFWHO
	c.reply(fmt.Sprintf("315 %s %s :End of WHO list", c.Nickname, target))
}

func (g *Gateway) whoisCommand(c *ClientSession, m irc.Message) {
	if len(m.Params) == 0 {
		return
	}
	nickname := m.Params[0]

	member := g.getMember(nickname)
	if member == nil {
		// 401 ERR_NOSUCHNICK
		c.reply(fmt.Sprintf("401 %s %s :No such nick", c.Nickname, nickname))
		return
	}

	// 311 RPL_WHOISUSER, 312 RPL_WHOISSERVER, 318 RPL_ENDOFWHOIS
	c.reply(fmt.Sprintf("311 %s %s %s %s * :%s", c.Nickname,
		member.ircNickname(), member.User, member.Host, member.RealName))
	c.reply(fmt.Sprintf("312 %s %s %s :%s", c.Nickname, member.ircNickname(),
		"", ""))
	c.reply(fmt.Sprintf("318 %s %s :End of WHOIS list", c.Nickname,
		member.ircNickname()))
}

// privmsgCommand handles PRIVMSG and NOTICE. The target is either a
// channel we present or a Username(OrgName) member nickname; the latter
// starts a direct conversation.
func (g *Gateway) privmsgCommand(c *ClientSession, m irc.Message) {
	if len(m.Params) == 0 {
		// 411 ERR_NORECIPIENT
		c.reply(fmt.Sprintf("411 %s :No recipient given (%s)", c.Nickname,
			m.Command))
		return
	}
	if len(m.Params) == 1 {
		// 412 ERR_NOTEXTTOSEND
		c.reply(fmt.Sprintf("412 %s :No text to send", c.Nickname))
		return
	}

	target := m.Params[0]
	text := m.Params[1]

	sent := false
	if ch := g.getChannelFromIRCName(target); ch != nil {
		sent = g.transmitMessageToChannel(ch, text)
	} else {
		sent = g.sendToMember(target, text)
	}

	if !sent {
		// 401 ERR_NOSUCHNICK
		c.reply(fmt.Sprintf("401 %s %s :No such nick/channel", c.Nickname,
			target))
	}
}

// sendToMember starts (or the Flow service reuses) a direct conversation
// with the member a Username(OrgName) target describes, and sends text on
// it.
func (g *Gateway) sendToMember(target, text string) bool {
	username, orgName, ok := parseMemberTarget(target)
	if !ok {
		return false
	}

	var accountID string
	if member := g.getMember(target); member != nil {
		if member.AccountID == g.flowAccountID {
			// Talking to ourselves.
			return false
		}
		accountID = member.AccountID
	} else {
		// Not in any channel we can see. Ask the Flow service.
		accountID = g.getMemberAccountID(username)
	}
	if accountID == "" {
		return false
	}

	oid := g.getOrgIDFromName(orgName)
	if oid == "" {
		return false
	}

	ch := g.createDirectChannel(accountID, username, oid, orgName)
	if ch == nil {
		return false
	}

	return g.transmitMessageToChannel(ch, text)
}
