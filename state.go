package main

import (
	"fmt"
	"sort"
)

// The Purpose string the Flow service puts on direct conversations.
const directMessagePurpose = "direct message"

func (g *Gateway) getChannel(channelID string) *Channel {
	return g.Channels[channelID]
}

// getChannelFromIRCName finds the channel presented under the given IRC
// name. Linear scan, first match wins.
func (g *Gateway) getChannelFromIRCName(name string) *Channel {
	for _, ch := range g.Channels {
		if ch.ircName(g.flowAccountID) == name {
			return ch
		}
	}
	return nil
}

// getMember finds a channel member by its IRC nickname, searching every
// channel.
func (g *Gateway) getMember(ircNickname string) *Member {
	for _, ch := range g.Channels {
		for _, member := range ch.Members {
			if member.ircNickname() == ircNickname {
				return member
			}
		}
	}
	return nil
}

// getOrgIDFromName maps an organization name back to its id.
func (g *Gateway) getOrgIDFromName(orgName string) string {
	for oid, name := range g.Organizations {
		if name == orgName {
			return oid
		}
	}
	return ""
}

// addChannel inserts a channel, first checking whether its IRC name
// collides with a channel we already know about.
func (g *Gateway) addChannel(ch *Channel) {
	g.checkChannelCollision(ch)
	g.Channels[ch.ID] = ch
}

// checkChannelCollision flags the channel if its IRC name is already
// taken. Flagged channels show with an id suffix.
func (g *Gateway) checkChannelCollision(ch *Channel) {
	name := ch.ircName(g.flowAccountID)
	if name == "" {
		return
	}
	if g.getChannelFromIRCName(name) != nil {
		ch.NameCollides = true
	}
}

// sortedChannels returns the channels ordered by IRC name, so listings
// and replay come out in a stable order.
func (g *Gateway) sortedChannels() []*Channel {
	channels := make([]*Channel, 0, len(g.Channels))
	for _, ch := range g.Channels {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].ircName(g.flowAccountID) <
			channels[j].ircName(g.flowAccountID)
	})
	return channels
}

// loadOrgsAndChannels throws away the org and channel view and reloads it
// from the Flow service. Errors are not fatal; we carry on with whatever
// we could load.
func (g *Gateway) loadOrgsAndChannels() {
	g.Organizations = make(map[string]string)
	g.Channels = make(map[string]*Channel)

	orgs, err := g.flow.EnumerateOrgs()
	if err != nil {
		g.printDebug(fmt.Sprintf("EnumerateOrgs: %s", err))
		return
	}

	for _, org := range orgs {
		g.Organizations[org.ID] = org.Name
		if err := g.loadOrgChannels(org.ID, org.Name); err != nil {
			g.printDebug(fmt.Sprintf("EnumerateChannels %s: %s", org.Name, err))
		}
	}
}

// loadOrgChannels loads one organization's channels, including their
// member lists.
func (g *Gateway) loadOrgChannels(oid, orgName string) error {
	channels, err := g.flow.EnumerateChannels(oid)
	if err != nil {
		return err
	}

	for _, fc := range channels {
		// We may be re-enumerating after an org notification. Keep what we
		// already have.
		if g.getChannel(fc.ID) != nil {
			continue
		}

		ch := &Channel{
			ID:      fc.ID,
			OrgID:   oid,
			OrgName: orgName,
		}
		if fc.Purpose == directMessagePurpose {
			ch.Kind = DirectChannel
		} else {
			ch.Name = fc.Name
		}

		if err := g.loadChannelMembers(ch); err != nil {
			g.printDebug(fmt.Sprintf("EnumerateChannelMembers %s: %s", ch.ID,
				err))
			continue
		}

		g.addChannel(ch)
	}

	return nil
}

// loadChannelMembers retrieves and attaches a channel's member list.
// Seeing our own username in a member list is how we learn our account
// id.
func (g *Gateway) loadChannelMembers(ch *Channel) error {
	members, err := g.flow.EnumerateChannelMembers(ch.ID)
	if err != nil {
		return err
	}

	for _, fm := range members {
		if fm.EmailAddress == g.flowUsername {
			g.flowAccountID = fm.AccountID
		}
		ch.addMember(NewMember(fm.EmailAddress, fm.AccountID, ch.OrgName))
	}

	return nil
}

// transmitMessageToChannel sends text to a Flow channel. Returns whether
// the service accepted it.
func (g *Gateway) transmitMessageToChannel(ch *Channel, text string) bool {
	messageID, err := g.flow.SendMessage(ch.OrgID, ch.ID, text)
	if err != nil {
		g.printDebug(fmt.Sprintf("SendMessage: %s", err))
		return false
	}
	return messageID != ""
}

// getMemberAccountID resolves a Flow username we have not seen in any
// channel to its account id.
func (g *Gateway) getMemberAccountID(username string) string {
	peer, err := g.flow.GetPeer(username)
	if err != nil {
		g.printDebug(fmt.Sprintf("GetPeer %s: %s", username, err))
		return ""
	}
	return peer.AccountID
}

// createDirectChannel starts a direct conversation with another account
// and records it as created in this session, so it shows under the other
// party's nickname.
func (g *Gateway) createDirectChannel(accountID, username, oid,
	orgName string) *Channel {
	cid, err := g.flow.NewDirectConversation(oid, accountID)
	if err != nil {
		g.printDebug(fmt.Sprintf("NewDirectConversation: %s", err))
		return nil
	}
	if cid == "" {
		return nil
	}

	ch := &Channel{
		ID:               cid,
		OrgID:            oid,
		OrgName:          orgName,
		Kind:             DirectChannel,
		CreatedInSession: true,
	}
	ch.addMember(NewMember(g.flowUsername, g.flowAccountID, orgName))
	ch.addMember(NewMember(username, accountID, orgName))

	g.addChannel(ch)
	return ch
}

// usernameFromAccountID resolves an account id by re-reading the
// channel's member list from the Flow service.
func (g *Gateway) usernameFromAccountID(ch *Channel, accountID string) string {
	members, err := g.flow.EnumerateChannelMembers(ch.ID)
	if err != nil {
		g.printDebug(fmt.Sprintf("EnumerateChannelMembers %s: %s", ch.ID, err))
		return ""
	}
	for _, fm := range members {
		if fm.AccountID == accountID {
			return fm.EmailAddress
		}
	}
	return ""
}
