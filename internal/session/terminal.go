// ABOUTME: Line-oriented terminal front end for a session
// ABOUTME: Typed lines go to the _all stream; slash commands inspect presence and streams

package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/lightningrodlabs/moss-sub000/internal/events"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/messenger"
	"github.com/lightningrodlabs/moss-sub000/internal/presence"
)

// Terminal implements UI on a pair of streams. It starts focused; /away and
// /back toggle that.
type Terminal struct {
	in      io.Reader
	out     io.Writer
	mu      sync.Mutex
	focused atomic.Bool
}

// NewTerminal creates a Terminal reading commands from in.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: in, out: out}
	t.focused.Store(true)
	return t
}

// Focused implements UI.
func (t *Terminal) Focused() bool {
	return t.focused.Load()
}

// Notify implements UI.
func (t *Terminal) Notify(n messenger.Notification) {
	style := color.New(color.FgYellow)
	if n.Urgency == messenger.UrgencyHigh {
		style = color.New(color.FgRed, color.Bold)
	}
	t.printf("%s %s\n", style.Sprintf("[%s]", n.Title), n.Body)
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// Run reads lines until EOF, /quit, or ctx ends. Incoming messages are printed
// while the terminal is focused; otherwise they arrive as notifications.
func (t *Terminal) Run(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go t.watchStreams(ctx, s)

	scanner := bufio.NewScanner(t.in)
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return nil
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.RecordActivity()

		if quit := t.handleLine(ctx, s, line); quit {
			return nil
		}
	}
}

// handleLine runs one command or sends one message. It reports true on /quit.
func (t *Terminal) handleLine(ctx context.Context, s *Session, line string) bool {
	switch {
	case line == "/quit" || line == "/exit" || line == "/q":
		return true
	case line == "/peers":
		t.printPeers(s)
	case line == "/away":
		t.focused.Store(false)
		t.printf("%s\n", color.HiBlackString("notifications on"))
	case line == "/back":
		t.focused.Store(true)
		t.printf("%s\n", color.HiBlackString("notifications off"))
	case line == "/outstanding":
		t.printOutstanding(s)
	case line == "/help":
		t.printHelp()
	case strings.HasPrefix(line, "/"):
		t.printf("unknown command %q, try /help\n", line)
	default:
		if _, err := s.Broadcast(ctx, line); err != nil {
			t.printf("%s %v\n", color.RedString("[error]"), err)
		}
	}
	return false
}

func (t *Terminal) watchStreams(ctx context.Context, s *Session) {
	ch, _ := s.Events().Subscribe(ctx, events.TopicStream)
	for ev := range ch {
		if ev.Kind != events.KindMessageAdded || ev.Agent == s.Self() || !t.Focused() {
			continue
		}
		msg, ok := s.Messenger().FindMessage(ev.StreamID, ev.Created)
		if !ok {
			continue
		}
		t.printf("%s %s\n", color.CyanString("<%s>", t.name(s, msg.From)), msg.Payload.Text)
	}
}

func (t *Terminal) name(s *Session, id identity.AgentID) string {
	if name, ok := s.transport.DisplayName(id); ok && name != "" {
		return name
	}
	return id.Short()
}

func (t *Terminal) printPeers(s *Session) {
	statuses := s.Tracker().Statuses()
	if len(statuses) == 0 {
		t.printf("%s\n", color.HiBlackString("no peers seen yet"))
		return
	}

	type row struct {
		name string
		ps   presence.PeerStatus
	}
	rows := make([]row, 0, len(statuses))
	for id, ps := range statuses {
		rows = append(rows, row{name: t.name(s, id), ps: ps})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	for _, r := range rows {
		t.printf("  %-20s %s %s%s\n", r.name, statusColor(r.ps.Status),
			color.HiBlackString("seen %s ago", time.Since(r.ps.LastSeen).Round(time.Second)),
			tzSuffix(r.ps.TzUTCOffset))
	}
}

func (t *Terminal) printOutstanding(s *Session) {
	members := s.Tracker().Members()
	found := false
	for _, id := range members {
		if n := len(s.Messenger().Expectations(id)); n > 0 {
			t.printf("  %-20s %d unacked\n", t.name(s, id), n)
			found = true
		}
	}
	if !found {
		t.printf("%s\n", color.HiBlackString("everything acknowledged"))
	}
}

func (t *Terminal) printHelp() {
	t.printf(`Commands:
  /peers        show presence of group members
  /outstanding  show unacknowledged messages per peer
  /away         show notifications instead of messages
  /back         show messages inline again
  /quit         leave
Anything else is sent to everyone.
`)
}

func statusColor(st presence.Status) string {
	switch st {
	case presence.StatusOnline:
		return color.GreenString("%-8s", st)
	case presence.StatusInactive:
		return color.YellowString("%-8s", st)
	default:
		return color.HiBlackString("%-8s", st)
	}
}

func tzSuffix(offset *int) string {
	if offset == nil {
		return ""
	}
	sign := "+"
	m := *offset
	if m < 0 {
		sign = "-"
		m = -m
	}
	return color.HiBlackString(" UTC%s%02d:%02d", sign, m/60, m%60)
}
