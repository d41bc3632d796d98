package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/internal/config"
	"github.com/rescp17/peerlink/internal/util"
	"github.com/rescp17/peerlink/pkg/node"
	"github.com/rescp17/peerlink/pkg/peer"
	"github.com/rescp17/peerlink/pkg/transfer"
)

const maxLineSize = 1 << 20

var errQuit = errors.New("quit")

const helpText = `commands:
  /chat <peer>           set the peer plain lines are sent to
  /connect <peer>        open a connection through the signaling server
  /reconnect <peer>      renegotiate a dropped connection
  /msg <peer> <text>     send a chat line
  /file <peer> <path>    send a file
  /close <peer>          close a connection
  /peers                 list connections
  /contacts              reload contacts and connect to the online ones
  /offer                 print a manual offer code
  /answer <code>         answer a manual offer code
  /accept <code>         complete a manual offer with the answer code
  /quit`

type command struct {
	name string
	peer string
	rest string
}

// parseCommand splits a session line. Lines without a leading slash are
// chat text for the active peer.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errors.New("empty line")
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", rest: line}, nil
	}

	name, args, _ := strings.Cut(line[1:], " ")
	args = strings.TrimSpace(args)
	switch name {
	case "peers", "contacts", "offer", "quit", "help":
		return command{name: name}, nil
	case "answer", "accept":
		if args == "" {
			return command{}, fmt.Errorf("/%s needs a connection code", name)
		}
		return command{name: name, rest: args}, nil
	case "chat", "connect", "reconnect", "close":
		if args == "" || strings.Contains(args, " ") {
			return command{}, fmt.Errorf("/%s needs exactly one peer id", name)
		}
		return command{name: name, peer: args}, nil
	case "msg", "file":
		id, rest, _ := strings.Cut(args, " ")
		rest = strings.TrimSpace(rest)
		if id == "" || rest == "" {
			return command{}, fmt.Errorf("/%s needs a peer id and an argument", name)
		}
		return command{name: name, peer: id, rest: rest}, nil
	default:
		return command{}, fmt.Errorf("unknown command /%s", name)
	}
}

type session struct {
	app     *node.App
	dataDir string
	mu      sync.Mutex
	out     io.Writer
	active  string
}

func (s *session) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *session) send(ctx context.Context, event appevents.AppEvent) error {
	select {
	case s.app.AppEvents() <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) exec(ctx context.Context, cmd command) error {
	coord := s.app.Coordinator()
	switch cmd.name {
	case "help":
		s.printf("%s", helpText)
	case "quit":
		return errQuit
	case "chat":
		s.active = cmd.peer
		coord.SetActiveChat(cmd.peer)
		s.printf("chatting with %s", cmd.peer)
	case "say":
		if s.active == "" {
			return errors.New("no active chat, use /chat <peer> first")
		}
		return s.send(ctx, appevents.SendTextEvent{PeerID: s.active, Text: cmd.rest})
	case "connect":
		return s.send(ctx, appevents.ConnectPeerEvent{PeerID: cmd.peer})
	case "reconnect":
		return coord.Reconnect(ctx, cmd.peer)
	case "msg":
		return s.send(ctx, appevents.SendTextEvent{PeerID: cmd.peer, Text: cmd.rest})
	case "file":
		return s.send(ctx, appevents.SendFileEvent{PeerID: cmd.peer, Path: cmd.rest})
	case "close":
		return s.send(ctx, appevents.ClosePeerEvent{PeerID: cmd.peer, Notify: true})
	case "peers":
		s.mu.Lock()
		printPeers(s.out, coord.Peers())
		s.mu.Unlock()
	case "contacts":
		cfg, err := config.Load(s.dataDir)
		if err != nil {
			return err
		}
		coord.SetContacts(cfg.Contacts)
		s.printf("loaded %d contacts", len(cfg.Contacts))
		if err := coord.AutoConnectToContacts(ctx); err != nil {
			slog.Debug("Autoconnect after contacts reload failed", "error", err)
		}
	case "offer":
		code, err := coord.CreateOffer(ctx, "", peer.OfferOptions{Manual: true})
		if err != nil {
			return err
		}
		s.printf("offer code (send it to the other side, then /accept their answer):\n%s", code)
	case "answer":
		code, err := coord.HandleManualOffer(ctx, cmd.rest)
		if err != nil {
			return err
		}
		s.printf("answer code (send it back to the offering side):\n%s", code)
	case "accept":
		if err := coord.HandleManualAnswer(ctx, cmd.rest); err != nil {
			return err
		}
		s.printf("answer applied, waiting for the connection")
	}
	return nil
}

// render formats a node message for the terminal. Messages the user does
// not need to see yield an empty string.
func render(msg appevents.AppUIMessage) string {
	switch m := msg.(type) {
	case appevents.NotificationMsg:
		return fmt.Sprintf("[%s] %s", m.Level, m.Message)
	case appevents.AppErrorMsg:
		return fmt.Sprintf("[error] %v", m.Err)
	case peer.PeerStateMsg:
		return fmt.Sprintf("* %s is %s", m.PeerID, m.State)
	case peer.PeerRenamedMsg:
		return fmt.Sprintf("* %s is now known as %s", m.From, m.To)
	case transfer.TransferCompleteMsg:
		return fmt.Sprintf("<%s> sent %s (%s, %s)", m.PeerID, m.FileName, util.FormatSize(m.Size), m.MimeType)
	case transfer.TransferFailedMsg:
		return fmt.Sprintf("[warning] transfer from %s failed: %v", m.PeerID, m.Err)
	case transfer.ControlMsg:
		return renderControl(m.PeerID, m.Control)
	default:
		return ""
	}
}

func renderControl(peerID string, c transfer.Control) string {
	switch ctrl := c.(type) {
	case *transfer.TextMessage:
		return fmt.Sprintf("<%s> %s", peerID, ctrl.Content)
	case *transfer.FileMessage:
		return fmt.Sprintf("<%s> is sending %s (%s)", peerID, ctrl.FileName, util.FormatSize(ctrl.FileSize))
	default:
		return fmt.Sprintf("<%s> %s", peerID, c.Header().Type)
	}
}

func printPeers(w io.Writer, peers []peer.PeerStatus) {
	if len(peers) == 0 {
		fmt.Fprintln(w, "no connections")
		return
	}
	fmt.Fprintln(w, util.PadRight("PEER", 24)+util.PadRight("STATE", 16)+"ORIGIN")
	for _, p := range peers {
		fmt.Fprintln(w, util.PadRight(p.ID, 24)+util.PadRight(p.State.String(), 16)+p.Origin.String())
	}
}

func printContacts(w io.Writer, contacts []peer.Contact, online []string) {
	if len(contacts) == 0 {
		fmt.Fprintln(w, "no contacts configured")
		return
	}
	up := make(map[string]bool, len(online))
	for _, id := range online {
		up[id] = true
	}
	fmt.Fprintln(w, util.PadRight("CONTACT", 24)+util.PadRight("NAME", 20)+"STATUS")
	for _, c := range contacts {
		status := "offline"
		if up[c.ID] {
			status = "online"
		}
		fmt.Fprintln(w, util.PadRight(c.ID, 24)+util.PadRight(c.Name, 20)+status)
	}
}

// runSession starts the node, runs first if given, then executes stdin
// lines until /quit, EOF or cancellation.
func runSession(cmd *cobra.Command, dataDir string, first func(context.Context, *session) error) error {
	app, err := openNode(dataDir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	s := &session{app: app, dataDir: dataDir, out: cmd.OutOrStdout()}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-app.UIMessages():
				if line := render(msg); line != "" {
					s.printf("%s", line)
				}
			}
		}
	}()

	s.printf("peerlink node %s started, /help lists commands", app.Coordinator().LocalID())
	if first != nil {
		if err := first(ctx, s); err != nil {
			cancel()
			<-runErr
			return err
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			c, err := parseCommand(line)
			if err != nil {
				s.printf("%v", err)
				continue
			}
			if err := s.exec(ctx, c); err != nil {
				if errors.Is(err, errQuit) {
					break loop
				}
				slog.Debug("Session command failed", "command", c.name, "error", err)
				s.printf("%v", err)
			}
		}
	}

	cancel()
	return <-runErr
}
