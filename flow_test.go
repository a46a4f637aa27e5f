package main

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHandshake(t *testing.T) {
	token, port, err := parseHandshake(
		`{"token": "secret", "port": "8080"}` + "\n")
	require.NoError(t, err)
	assert.Equal(t, "secret", token)
	assert.Equal(t, "8080", port)

	_, _, err = parseHandshake("not json\n")
	assert.Error(t, err)

	_, _, err = parseHandshake(`{"token": "secret"}`)
	assert.Error(t, err)

	_, _, err = parseHandshake(`{"port": "8080"}`)
	assert.Error(t, err)
}

// testFlow builds a Flow pointed at a local HTTP server standing in for
// flowappglue.
func testFlow(t *testing.T,
	handler func(w http.ResponseWriter, r *http.Request)) (*Flow, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(handler))

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	flow := &Flow{
		token:  "secret",
		port:   u.Port(),
		client: server.Client(),
	}

	return flow, server.Close
}

func TestFlowRunEnvelope(t *testing.T) {
	var body []byte
	flow, done := testFlow(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc", r.URL.Path)
		var err error
		body, err = ioutil.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write([]byte(
			`{"result": [{"ID": "o1", "Name": "Acme"}], "error": ""}`))
	})
	defer done()

	orgs, err := flow.EnumerateOrgs()
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, FlowOrg{ID: "o1", Name: "Acme"}, orgs[0])

	var envelope struct {
		Method string                   `json:"method"`
		Params []map[string]interface{} `json:"params"`
		Token  string                   `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, "EnumerateOrgs", envelope.Method)
	assert.Equal(t, "secret", envelope.Token)
	require.Len(t, envelope.Params, 1)
}

func TestFlowRunError(t *testing.T) {
	flow, done := testFlow(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result": null, "error": "no such channel"}`))
	})
	defer done()

	_, err := flow.GetChannel("c9")
	require.Error(t, err)

	flowErr, ok := err.(FlowError)
	require.True(t, ok)
	assert.Equal(t, "no such channel", flowErr.Reason)
}

func TestFlowSendMessage(t *testing.T) {
	var body []byte
	flow, done := testFlow(t, func(w http.ResponseWriter, r *http.Request) {
		var err error
		body, err = ioutil.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write([]byte(`{"result": "m1", "error": ""}`))
	})
	defer done()

	messageID, err := flow.SendMessage("o1", "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", messageID)

	var envelope struct {
		Method string                   `json:"method"`
		Params []map[string]interface{} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, "SendMessage", envelope.Method)
	require.Len(t, envelope.Params, 1)
	assert.Equal(t, "o1", envelope.Params[0]["OrgID"])
	assert.Equal(t, "c1", envelope.Params[0]["ChannelID"])
	assert.Equal(t, "hello", envelope.Params[0]["Text"])
}

func TestFlowProcessOneNotification(t *testing.T) {
	responses := []string{
		`{"result": null, "error": ""}`,
		`{"result": {"Type": "message",
			"Data": {"RegularMessages": []}}, "error": ""}`,
	}
	i := 0
	flow, done := testFlow(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(responses[i]))
		i++
	})
	defer done()

	// First response: a timeout with nothing queued.
	notification, err := flow.ProcessOneNotification(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, notification)

	notification, err = flow.ProcessOneNotification(50 * time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, "message", notification.Kind)

	var notice FlowMessageNotice
	require.NoError(t, json.Unmarshal(notification.Data, &notice))
	assert.Empty(t, notice.RegularMessages)
}
