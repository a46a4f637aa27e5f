package main

// ChannelKind tells us what kind of conversation a channel holds.
type ChannelKind int

const (
	// RegularChannel is an ordinary named Flow channel.
	RegularChannel ChannelKind = iota

	// DirectChannel is a two party direct conversation.
	DirectChannel
)

// Member is one account's membership in a channel.
type Member struct {
	// Nickname is the escaped Flow username, without an org suffix.
	Nickname string

	// AccountID is the account's Flow identifier.
	AccountID string

	// OrgName is the escaped name of the organization the membership is in.
	OrgName string

	// IRC presentation attributes. The Flow service does not provide
	// anything to fill these with, so they stay blank.
	User     string
	Host     string
	RealName string
}

// NewMember creates a Member from raw Flow attributes.
func NewMember(username, accountID, orgName string) *Member {
	return &Member{
		Nickname:  ircEscape(username),
		AccountID: accountID,
		OrgName:   ircEscape(orgName),
	}
}

// ircNickname is the nickname the member appears under on the IRC side:
// Username(OrgName).
func (m *Member) ircNickname() string {
	return m.Nickname + "(" + m.OrgName + ")"
}

// Channel is a Flow channel as we present it to IRC clients.
type Channel struct {
	// ID is the channel's Flow identifier.
	ID string

	// Name is the raw Flow channel name. Blank for direct conversations.
	Name string

	// OrgID and OrgName identify the organization holding the channel.
	// OrgName is the raw, unescaped name.
	OrgID   string
	OrgName string

	Kind ChannelKind

	// NameCollides is set when another channel we know about produces the
	// same IRC name. Colliding channels get an id suffix.
	NameCollides bool

	// CreatedInSession is set on direct conversations the logged in account
	// started from an IRC client during this gateway's lifetime. Those show
	// up under the other party's nickname rather than a #room name.
	CreatedInSession bool

	Members []*Member
}

// suffix disambiguates channels whose IRC names collide.
func (ch *Channel) suffix() string {
	id := ch.ID
	if len(id) > 5 {
		id = id[:5]
	}
	return "-" + id
}

// ircName is the name the channel appears under on the IRC side.
// localAccountID is the logged in account, so we can tell which member of a
// direct conversation is the other party.
func (ch *Channel) ircName(localAccountID string) string {
	if ch.Kind == DirectChannel {
		other := ch.otherMember(localAccountID)
		if other == nil {
			return ""
		}
		if ch.CreatedInSession {
			return other.ircNickname()
		}
		return "#" + other.Nickname + "(" + ircEscape(ch.OrgName) + ")" +
			ch.suffix()
	}

	name := "#" + ircEscape(ch.Name) + "(" + ircEscape(ch.OrgName) + ")"
	if ch.NameCollides {
		name += ch.suffix()
	}
	return name
}

// memberByAccountID finds a member by Flow account id.
func (ch *Channel) memberByAccountID(accountID string) *Member {
	for _, member := range ch.Members {
		if member.AccountID == accountID {
			return member
		}
	}
	return nil
}

// otherMember finds the member who is not the logged in account. This is
// the other party of a direct conversation.
func (ch *Channel) otherMember(localAccountID string) *Member {
	for _, member := range ch.Members {
		if member.AccountID != localAccountID {
			return member
		}
	}
	return nil
}

func (ch *Channel) addMember(m *Member) {
	ch.Members = append(ch.Members, m)
}

// PendingChannel records a channel notification until the matching message
// notification arrives telling us the channel's name and kind.
type PendingChannel struct {
	ID      string
	OrgID   string
	OrgName string
}
