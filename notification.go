package main

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Notification kinds the gateway subscribes to.
const (
	orgNotificationKind           = "org"
	channelNotificationKind       = "channel"
	messageNotificationKind       = "message"
	channelMemberNotificationKind = "channel-member-event"
)

// registerCallbacks subscribes the dispatcher to every notification kind
// we understand. We do this when the first client finishes registering.
func (g *Gateway) registerCallbacks() {
	g.notificationHandlers[orgNotificationKind] = g.orgNotification
	g.notificationHandlers[channelNotificationKind] = g.channelNotification
	g.notificationHandlers[messageNotificationKind] = g.messageNotification
	g.notificationHandlers[channelMemberNotificationKind] =
		g.channelMemberNotification
}

func (g *Gateway) unregisterCallbacks() {
	for kind := range g.notificationHandlers {
		delete(g.notificationHandlers, kind)
	}
}

// handleNotification routes one Flow notification to its handler. Runs in
// the gateway goroutine.
func (g *Gateway) handleNotification(n *FlowNotification) {
	handler, exists := g.notificationHandlers[n.Kind]
	if !exists {
		g.printDebug(fmt.Sprintf("Dropping %q notification: no handler",
			n.Kind))
		return
	}
	handler(n.Data)
}

// orgNotification handles an org notification. We record each org and
// reload its channels, announcing any channel we had not seen before to
// the connected clients.
func (g *Gateway) orgNotification(data jsoniter.RawMessage) {
	var orgs []FlowOrg
	if err := json.Unmarshal(data, &orgs); err != nil {
		g.printDebug(fmt.Sprintf("org notification: %s", err))
		return
	}

	for _, org := range orgs {
		if org.ID == "" || org.Name == "" {
			g.printDebug("org notification: entry missing ID or Name")
			continue
		}

		known := make(map[string]struct{}, len(g.Channels))
		for cid := range g.Channels {
			known[cid] = struct{}{}
		}

		g.Organizations[org.ID] = org.Name

		if err := g.loadOrgChannels(org.ID, org.Name); err != nil {
			g.printDebug(fmt.Sprintf("EnumerateChannels %s: %s", org.Name, err))
			continue
		}

		for cid, ch := range g.Channels {
			if ch.OrgID != org.ID {
				continue
			}
			if _, exists := known[cid]; exists {
				continue
			}
			for _, client := range g.Clients {
				client.sendChannelJoinCommands(ch)
			}
		}
	}
}

// channelNotification handles a channel notification. The notification
// carries only the channel's identity; we park it as pending until a
// message notification tells us its name and kind.
func (g *Gateway) channelNotification(data jsoniter.RawMessage) {
	var notices []FlowChannelNotice
	if err := json.Unmarshal(data, &notices); err != nil {
		g.printDebug(fmt.Sprintf("channel notification: %s", err))
		return
	}

	for _, notice := range notices {
		if notice.ID == "" || notice.OrgID == "" {
			g.printDebug("channel notification: entry missing ID or OrgID")
			continue
		}

		if g.getChannel(notice.ID) != nil {
			continue
		}

		orgName, exists := g.Organizations[notice.OrgID]
		if !exists {
			g.printDebug(fmt.Sprintf(
				"channel notification: unknown org %s", notice.OrgID))
			continue
		}

		g.PendingChannels[notice.ID] = PendingChannel{
			ID:      notice.ID,
			OrgID:   notice.OrgID,
			OrgName: orgName,
		}
	}
}

// messageNotification handles a message notification. Its payload has two
// parts: channel descriptors, which complete pending channels, and
// regular messages, which we relay to the clients.
func (g *Gateway) messageNotification(data jsoniter.RawMessage) {
	var notice FlowMessageNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		g.printDebug(fmt.Sprintf("message notification: %s", err))
		return
	}

	for _, cm := range notice.ChannelMessages {
		g.processChannelMessage(cm)
	}

	for _, m := range notice.RegularMessages {
		g.processRegularMessage(m)
	}
}

// processChannelMessage promotes a pending channel now that we know its
// name and kind, and announces it to the clients.
func (g *Gateway) processChannelMessage(cm FlowChannelMessage) {
	direct := cm.Purpose == directMessagePurpose

	if cm.ID == "" || (cm.Name == "" && !direct) {
		g.printDebug("message notification: channel entry missing fields")
		return
	}

	pending, exists := g.PendingChannels[cm.ID]
	if !exists {
		// Not pending. Channels we created ourselves land here too.
		return
	}

	ch := &Channel{
		ID:      cm.ID,
		OrgID:   pending.OrgID,
		OrgName: pending.OrgName,
	}
	if direct {
		ch.Kind = DirectChannel
	} else {
		ch.Name = cm.Name
	}

	if err := g.loadChannelMembers(ch); err != nil {
		g.printDebug(fmt.Sprintf("EnumerateChannelMembers %s: %s", ch.ID, err))
		return
	}

	g.addChannel(ch)
	delete(g.PendingChannels, cm.ID)

	for _, client := range g.Clients {
		client.sendChannelJoinCommands(ch)
	}
}

// processRegularMessage relays one message to the connected clients.
// Messages for channels or senders we do not know are dropped; the state
// that introduces them may simply not have arrived yet.
func (g *Gateway) processRegularMessage(m FlowMessage) {
	if m.SenderAccountID == "" || m.ChannelID == "" {
		g.printDebug("message notification: message entry missing fields")
		return
	}

	ch := g.getChannel(m.ChannelID)
	if ch == nil {
		return
	}

	sender := ch.memberByAccountID(m.SenderAccountID)
	if sender == nil {
		return
	}

	text := m.Text
	if g.Config.ShowTimestamps {
		text = messageTimestamp(m.CreationTime) + " " + text
	}
	text = escapeNewlines(text)

	g.notifyClients(fmt.Sprintf(":%s!%s@%s PRIVMSG %s :%s",
		sender.ircNickname(), sender.User, sender.Host,
		ch.ircName(g.flowAccountID), text))
}

// channelMemberNotification handles a member joining a channel. The
// payload names accounts only, so we resolve the username by re-reading
// the channel's member list.
func (g *Gateway) channelMemberNotification(data jsoniter.RawMessage) {
	var notices []FlowMemberNotice
	if err := json.Unmarshal(data, &notices); err != nil {
		g.printDebug(fmt.Sprintf("channel-member-event notification: %s", err))
		return
	}

	for _, notice := range notices {
		if notice.ChannelID == "" || notice.AccountID == "" {
			g.printDebug(
				"channel-member-event notification: entry missing fields")
			continue
		}

		ch := g.getChannel(notice.ChannelID)
		if ch == nil {
			// The channel's own notification may not have arrived yet.
			continue
		}

		if ch.memberByAccountID(notice.AccountID) != nil {
			continue
		}

		username := g.usernameFromAccountID(ch, notice.AccountID)
		if username == "" {
			g.printDebug(fmt.Sprintf(
				"channel-member-event notification: cannot resolve account %s",
				notice.AccountID))
			continue
		}

		member := NewMember(username, notice.AccountID, ch.OrgName)
		ch.addMember(member)

		g.notifyClients(fmt.Sprintf(":%s!%s@%s JOIN :%s",
			member.ircNickname(), member.User, member.Host,
			ch.ircName(g.flowAccountID)))
	}
}
