package main

import "testing"

func TestMemberIRCNickname(t *testing.T) {
	tests := []struct {
		username string
		orgName  string
		output   string
	}{
		{"bob@y", "Acme", "bob@y(Acme)"},
		{"bob smith", "Acme Inc", "bob-smith(Acme-Inc)"},
		{"a,b", "c,d", "a_b(c_d)"},
	}

	for _, test := range tests {
		member := NewMember(test.username, "account-id", test.orgName)
		if got := member.ircNickname(); got != test.output {
			t.Errorf("ircNickname(%q, %q) = %q, wanted %q", test.username,
				test.orgName, got, test.output)
		}
	}
}

func TestChannelIRCNameRegular(t *testing.T) {
	ch := &Channel{
		ID:      "c123456789",
		Name:    "general chat",
		OrgName: "Acme, Inc",
	}

	want := "#general-chat(Acme_-Inc)"
	if got := ch.ircName("me"); got != want {
		t.Errorf("ircName = %q, wanted %q", got, want)
	}

	ch.NameCollides = true
	want = "#general-chat(Acme_-Inc)-c1234"
	if got := ch.ircName("me"); got != want {
		t.Errorf("ircName with collision = %q, wanted %q", got, want)
	}
}

func TestChannelSuffixShortID(t *testing.T) {
	ch := &Channel{ID: "abc"}
	if got := ch.suffix(); got != "-abc" {
		t.Errorf("suffix = %q, wanted %q", got, "-abc")
	}
}

func TestChannelIRCNameDirect(t *testing.T) {
	ch := &Channel{
		ID:      "d123456789",
		OrgName: "Acme",
		Kind:    DirectChannel,
	}
	ch.addMember(NewMember("alice@x", "a1", "Acme"))
	ch.addMember(NewMember("bob@y", "a2", "Acme"))

	// Not created in this session: a #room name with the id suffix.
	want := "#bob@y(Acme)-d1234"
	if got := ch.ircName("a1"); got != want {
		t.Errorf("ircName = %q, wanted %q", got, want)
	}

	// Created in this session: the other party's nickname.
	ch.CreatedInSession = true
	want = "bob@y(Acme)"
	if got := ch.ircName("a1"); got != want {
		t.Errorf("ircName created in session = %q, wanted %q", got, want)
	}

	// From the other party's point of view it is alice's name.
	ch.CreatedInSession = false
	want = "#alice@x(Acme)-d1234"
	if got := ch.ircName("a2"); got != want {
		t.Errorf("ircName = %q, wanted %q", got, want)
	}
}

func TestChannelMembers(t *testing.T) {
	ch := &Channel{ID: "c1"}
	alice := NewMember("alice@x", "a1", "Acme")
	bob := NewMember("bob@y", "a2", "Acme")
	ch.addMember(alice)
	ch.addMember(bob)

	if got := ch.memberByAccountID("a2"); got != bob {
		t.Errorf("memberByAccountID(a2) = %v", got)
	}
	if got := ch.memberByAccountID("a3"); got != nil {
		t.Errorf("memberByAccountID(a3) = %v, wanted nil", got)
	}
	if got := ch.otherMember("a1"); got != bob {
		t.Errorf("otherMember(a1) = %v", got)
	}
	if got := ch.otherMember("a2"); got != alice {
		t.Errorf("otherMember(a2) = %v", got)
	}
}
