package main

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FlowError is an error the Flow service itself reported, as opposed to a
// problem talking to it.
type FlowError struct {
	Reason string
}

func (e FlowError) Error() string {
	return e.Reason
}

// Flow talks to the Flow service through the flowappglue subprocess. The
// subprocess prints a handshake line telling us a session token and a
// port, and from then on we speak JSON RPC to it over loopback HTTP.
type Flow struct {
	cmd    *exec.Cmd
	token  string
	port   string
	client *http.Client
	debug  bool
}

// FlowLocalAccount identifies an account present in the local device
// database.
type FlowLocalAccount struct {
	EmailAddress string `json:"EmailAddress"`
}

// FlowOrg is an organization (team) the account belongs to.
type FlowOrg struct {
	ID   string `json:"ID"`
	Name string `json:"Name"`
}

// FlowChannel is a channel as the Flow service describes it.
type FlowChannel struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	Purpose string `json:"Purpose"`
}

// FlowChannelMember is one entry of a channel's member list.
type FlowChannelMember struct {
	AccountID    string `json:"AccountID"`
	EmailAddress string `json:"EmailAddress"`
}

// FlowMessage is one message in a channel.
type FlowMessage struct {
	SenderAccountID string `json:"SenderAccountID"`
	ChannelID       string `json:"ChannelID"`
	Text            string `json:"Text"`

	// Microseconds since the epoch.
	CreationTime int64 `json:"CreationTime"`
}

// FlowPeer describes an account looked up by username.
type FlowPeer struct {
	AccountID string `json:"AccountID"`
}

// FlowNotification is one event from the service's notification queue.
type FlowNotification struct {
	Kind string              `json:"Type"`
	Data jsoniter.RawMessage `json:"Data"`
}

// FlowChannelNotice announces a channel's existence. Its name and kind
// arrive separately, in a message notification.
type FlowChannelNotice struct {
	ID    string `json:"ID"`
	OrgID string `json:"OrgID"`
}

// FlowChannelMessage is a channel descriptor embedded in a message
// notification.
type FlowChannelMessage struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	Purpose string `json:"Purpose"`
}

// FlowMessageNotice is the payload of a message notification.
type FlowMessageNotice struct {
	ChannelMessages []FlowChannelMessage `json:"ChannelMessages"`
	RegularMessages []FlowMessage        `json:"RegularMessages"`
}

// FlowMemberNotice is one entry of a channel-member-event notification.
type FlowMemberNotice struct {
	ChannelID string `json:"ChannelID"`
	AccountID string `json:"AccountID"`
}

// NewFlow starts the flowappglue subprocess and reads its handshake line.
func NewFlow(binary string, debug bool) (*Flow, error) {
	cmd := exec.Command(binary, "0")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "error opening stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "error starting %s", binary)
	}

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, errors.Wrap(err, "error reading handshake line")
	}

	token, port, err := parseHandshake(line)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	return &Flow{
		cmd:    cmd,
		token:  token,
		port:   port,
		client: &http.Client{},
		debug:  debug,
	}, nil
}

// parseHandshake parses the one JSON line the subprocess writes at
// startup: {"token": "...", "port": "..."}.
func parseHandshake(line string) (string, string, error) {
	var handshake struct {
		Token string `json:"token"`
		Port  string `json:"port"`
	}

	if err := json.Unmarshal([]byte(strings.TrimSpace(line)),
		&handshake); err != nil {
		return "", "", errors.Wrapf(err, "malformed handshake line: %q", line)
	}

	if handshake.Token == "" || handshake.Port == "" {
		return "", "", errors.Errorf("handshake line missing token or port: %q",
			line)
	}

	return handshake.Token, handshake.Port, nil
}

// run performs one RPC call. The envelope is {"method", "params": [<one
// object>], "token"}; the response is {"result", "error"}. A non-empty
// error string becomes a FlowError.
func (f *Flow) run(method string, params map[string]interface{},
	result interface{}) error {
	request := struct {
		Method string        `json:"method"`
		Params []interface{} `json:"params"`
		Token  string        `json:"token"`
	}{
		Method: method,
		Params: []interface{}{params},
		Token:  f.token,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return errors.Wrapf(err, "error encoding %s request", method)
	}

	if f.debug {
		log.Printf("Flow: request: %s", body)
	}

	resp, err := f.client.Post(
		fmt.Sprintf("http://localhost:%s/rpc", f.port),
		"application/json", bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "error calling %s", method)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var response struct {
		Result jsoniter.RawMessage `json:"result"`
		Error  string              `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return errors.Wrapf(err, "error decoding %s response", method)
	}

	if response.Error != "" {
		return FlowError{Reason: response.Error}
	}

	if result == nil || len(response.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(response.Result, result); err != nil {
		return errors.Wrapf(err, "error decoding %s result", method)
	}
	return nil
}

// Config hands the service its bootstrap parameters. It must happen before
// StartUp.
func (f *Flow) Config(host, port, dbDir, schemaDir, attachmentDir string,
	useTLS bool) error {
	return f.run("Config", map[string]interface{}{
		"FlowServHost":           host,
		"FlowServPort":           port,
		"FlowLocalDatabaseDir":   dbDir,
		"FlowLocalSchemaDir":     schemaDir,
		"FlowLocalAttachmentDir": attachmentDir,
		"FlowUseTLS":             strconv.FormatBool(useTLS),
	}, nil)
}

// StartUp binds the session to a local account that already has a device
// set up.
func (f *Flow) StartUp(username, serverURI string) error {
	return f.run("StartUp", map[string]interface{}{
		"EmailAddress": username,
		"ServerURI":    serverURI,
	}, nil)
}

// EnumerateLocalAccounts lists the accounts in the local device database.
func (f *Flow) EnumerateLocalAccounts() ([]FlowLocalAccount, error) {
	var accounts []FlowLocalAccount
	err := f.run("EnumerateLocalAccounts", map[string]interface{}{}, &accounts)
	return accounts, err
}

// EnumerateOrgs lists the organizations the account belongs to.
func (f *Flow) EnumerateOrgs() ([]FlowOrg, error) {
	var orgs []FlowOrg
	err := f.run("EnumerateOrgs", map[string]interface{}{}, &orgs)
	return orgs, err
}

// EnumerateChannels lists the channels of one organization.
func (f *Flow) EnumerateChannels(oid string) ([]FlowChannel, error) {
	var channels []FlowChannel
	err := f.run("EnumerateChannels", map[string]interface{}{
		"OrgID": oid,
	}, &channels)
	return channels, err
}

// EnumerateChannelMembers lists a channel's members.
func (f *Flow) EnumerateChannelMembers(cid string) ([]FlowChannelMember,
	error) {
	var members []FlowChannelMember
	err := f.run("EnumerateChannelMembers", map[string]interface{}{
		"ChannelID": cid,
	}, &members)
	return members, err
}

// EnumerateMessages lists a channel's messages, newest first.
func (f *Flow) EnumerateMessages(oid, cid string,
	filters map[string]interface{}) ([]FlowMessage, error) {
	if filters == nil {
		filters = map[string]interface{}{}
	}
	var messages []FlowMessage
	err := f.run("EnumerateMessages", map[string]interface{}{
		"OrgID":     oid,
		"ChannelID": cid,
		"Filters":   filters,
	}, &messages)
	return messages, err
}

// GetChannel retrieves one channel by id.
func (f *Flow) GetChannel(cid string) (FlowChannel, error) {
	var channel FlowChannel
	err := f.run("GetChannel", map[string]interface{}{
		"ChannelID": cid,
	}, &channel)
	return channel, err
}

// GetPeer looks an account up by username.
func (f *Flow) GetPeer(username string) (FlowPeer, error) {
	var peer FlowPeer
	err := f.run("GetPeer", map[string]interface{}{
		"EmailAddress": username,
	}, &peer)
	return peer, err
}

// SendMessage sends text to a channel. It returns the new message's id.
func (f *Flow) SendMessage(oid, cid, text string) (string, error) {
	var messageID string
	err := f.run("SendMessage", map[string]interface{}{
		"OrgID":     oid,
		"ChannelID": cid,
		"Text":      text,
		"OtherData": map[string]interface{}{},
	}, &messageID)
	return messageID, err
}

// NewDirectConversation starts a direct conversation with another account.
// It returns the conversation's channel id.
func (f *Flow) NewDirectConversation(oid, accountID string) (string, error) {
	var cid string
	err := f.run("NewDirectConversation", map[string]interface{}{
		"OrgID":           oid,
		"MemberAccountID": accountID,
	}, &cid)
	return cid, err
}

// ProcessOneNotification waits up to timeout for the oldest notification
// we have not yet seen. A nil notification means the wait timed out with
// nothing queued.
func (f *Flow) ProcessOneNotification(timeout time.Duration) (
	*FlowNotification, error) {
	var notification FlowNotification
	err := f.run("WaitForNotification", map[string]interface{}{
		"TimeoutSeconds": timeout.Seconds(),
	}, &notification)
	if err != nil {
		return nil, err
	}
	if notification.Kind == "" {
		return nil, nil
	}
	return &notification, nil
}

// Terminate stops the flowappglue subprocess. It is safe to call more than
// once.
func (f *Flow) Terminate() {
	if f.cmd == nil || f.cmd.Process == nil {
		return
	}
	if err := f.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = f.cmd.Process.Kill()
	}
	_ = f.cmd.Wait()
	f.cmd = nil
}
