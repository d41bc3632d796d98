package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/pkg/peer"
	"github.com/rescp17/peerlink/pkg/transfer"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr string
	}{
		{line: "hello there", want: command{name: "say", rest: "hello there"}},
		{line: "  /peers ", want: command{name: "peers"}},
		{line: "/contacts", want: command{name: "contacts"}},
		{line: "/connect bob", want: command{name: "connect", peer: "bob"}},
		{line: "/msg bob  hi  you", want: command{name: "msg", peer: "bob", rest: "hi  you"}},
		{line: "/file bob /tmp/a b.png", want: command{name: "file", peer: "bob", rest: "/tmp/a b.png"}},
		{line: `/answer {"sdp":{}}`, want: command{name: "answer", rest: `{"sdp":{}}`}},
		{line: "", wantErr: "empty line"},
		{line: "/connect", wantErr: "exactly one peer"},
		{line: "/close bob carol", wantErr: "exactly one peer"},
		{line: "/msg bob", wantErr: "peer id and an argument"},
		{line: "/accept", wantErr: "connection code"},
		{line: "/dance", wantErr: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		msg  appevents.AppUIMessage
		want string
	}{
		{"notification", appevents.NotificationMsg{Level: appevents.LevelWarning, Message: "bob is not online"}, "[warning] bob is not online"},
		{"app error", appevents.AppErrorMsg{Err: errors.New("boom")}, "[error] boom"},
		{"state", peer.PeerStateMsg{PeerID: "bob", State: peer.StateConnected}, "* bob is connected"},
		{"rename", peer.PeerRenamedMsg{From: peer.ManualPlaceholderID, To: "bob"}, "* manual-peer is now known as bob"},
		{"complete", transfer.TransferCompleteMsg{PeerID: "bob", FileName: "a.png", Size: 1536, MimeType: "image/png"}, "<bob> sent a.png (1.5 KB, image/png)"},
		{"text", transfer.ControlMsg{PeerID: "bob", Control: &transfer.TextMessage{
			Envelope: transfer.NewEnvelope(transfer.TypeText, "bob", now), Content: "hi",
		}}, "<bob> hi"},
		{"file", transfer.ControlMsg{PeerID: "bob", Control: &transfer.FileMessage{
			Envelope: transfer.NewEnvelope(transfer.TypeFile, "bob", now), FileName: "a.bin", FileSize: 2048,
		}}, "<bob> is sending a.bin (2 KB)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.msg))
		})
	}
}

func TestPrintPeers(t *testing.T) {
	var buf bytes.Buffer
	printPeers(&buf, nil)
	assert.Equal(t, "no connections\n", buf.String())

	buf.Reset()
	printPeers(&buf, []peer.PeerStatus{
		{ID: "bob", State: peer.StateConnected, Origin: peer.OriginSignaling},
		{ID: "carol", State: peer.StateOfferSent, Origin: peer.OriginManual},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "bob "))
	assert.Contains(t, lines[2], "manual")
	assert.Equal(t, len(lines[1])-len("signaling"), len(lines[2])-len("manual"))
}

func TestPrintContacts(t *testing.T) {
	var buf bytes.Buffer
	printContacts(&buf, []peer.Contact{{ID: "bob", Name: "Bob"}, {ID: "carol"}}, []string{"bob"})
	out := buf.String()
	assert.Contains(t, out, "online")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[1], "online"))
	assert.True(t, strings.HasSuffix(lines[2], "offline"))
}
