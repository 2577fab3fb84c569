package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"omni/live/internal/chat"
	"omni/live/internal/models"

	"github.com/spf13/pflag"
)

const chatHelp = `Type a message and press enter to send it.
  /edit <id> <text>     change one of your messages
  /delete <id> [id...]  delete your messages
  /quit                 leave`

type chatCommand struct {
	kind string
	ids  []string
	text string
}

func parseChatLine(line string) chatCommand {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return chatCommand{kind: "send", text: line}
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return chatCommand{kind: "quit"}
	case "/edit":
		if len(fields) < 3 {
			return chatCommand{kind: "help"}
		}
		_, text, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "/edit")), " ")
		return chatCommand{kind: "edit", ids: fields[1:2], text: strings.TrimSpace(text)}
	case "/delete":
		if len(fields) < 2 {
			return chatCommand{kind: "help"}
		}
		return chatCommand{kind: "delete", ids: fields[1:]}
	}
	return chatCommand{kind: "help"}
}

func runChat(args []string) error {
	fs := pflag.NewFlagSet("chat", pflag.ExitOnError)
	build := commonFlags(fs)
	bookingID := fs.StringP("booking", "b", "", "booking id")
	fs.Parse(args)
	a, err := build()
	if err != nil {
		return err
	}
	if *bookingID == "" {
		return errUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := a.apiClient()
	booking, err := client.Booking(ctx, a.cfg.Token, *bookingID)
	if err != nil {
		return fmt.Errorf("load booking: %w", err)
	}

	sess := chat.NewSession(chat.Options{
		Dial:     a.chatDialer(),
		History:  client,
		Logger:   a.logger,
		Notices:  a.notices,
		Language: a.cfg.Language,
	})
	if err := sess.Open(booking, a.cfg.Token); err != nil {
		return err
	}
	defer sess.Close()

	fmt.Fprintln(a.out, chatHelp)
	lines := readLines(os.Stdin)
	printer := newChatPrinter(a.out)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := applyChatCommand(sess, parseChatLine(line), a.out); quit {
				return nil
			}
		case <-ticker.C:
			if v, err := sess.Snapshot(); err == nil {
				printer.update(v)
			}
		}
	}
}

func applyChatCommand(sess *chat.Session, cmd chatCommand, out io.Writer) (quit bool) {
	switch cmd.kind {
	case "quit":
		return true
	case "send":
		if cmd.text != "" && !sess.Send(cmd.text) {
			fmt.Fprintln(out, "(not sent)")
		}
	case "edit":
		if !sess.EnterSelectionMode(cmd.ids[0]) || !sess.EditSelected() {
			fmt.Fprintln(out, "(only your own messages can be edited)")
			return false
		}
		sess.SaveEdit(cmd.text)
	case "delete":
		if !sess.EnterSelectionMode(cmd.ids[0]) {
			fmt.Fprintln(out, "(only your own messages can be deleted)")
			return false
		}
		for _, id := range cmd.ids[1:] {
			sess.ToggleSelect(id)
		}
		sess.DeleteSelected()
	default:
		fmt.Fprintln(out, chatHelp)
	}
	return false
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// chatPrinter prints what changed between two views.
type chatPrinter struct {
	out     io.Writer
	printed map[string]models.Message
	notice  string
	online  bool
	reading bool
}

func newChatPrinter(out io.Writer) *chatPrinter {
	return &chatPrinter{out: out, printed: make(map[string]models.Message)}
}

func (p *chatPrinter) update(v chat.View) {
	current := make(map[string]bool, len(v.Messages))
	for _, m := range v.Messages {
		current[m.MessageID] = true
		old, seen := p.printed[m.MessageID]
		switch {
		case !seen:
			fmt.Fprintln(p.out, formatMessage(m, v.Self))
		case old.Text != m.Text:
			fmt.Fprintf(p.out, "%s (edited)\n", formatMessage(m, v.Self))
		case old.Status != m.Status && m.SenderRole == v.Self:
			fmt.Fprintf(p.out, "  %s: %s\n", m.MessageID, m.Status)
		}
		p.printed[m.MessageID] = m
	}
	for id := range p.printed {
		if !current[id] {
			fmt.Fprintf(p.out, "  %s: deleted\n", id)
			delete(p.printed, id)
		}
	}

	if v.CounterpartOnline != p.online {
		p.online = v.CounterpartOnline
		if p.online {
			fmt.Fprintln(p.out, "* the other side is online")
		} else {
			fmt.Fprintln(p.out, "* the other side went offline")
		}
	}
	if v.CounterpartReading != p.reading {
		p.reading = v.CounterpartReading
		if p.reading {
			fmt.Fprintln(p.out, "* the other side is reading")
		}
	}
	if v.Notice != p.notice {
		p.notice = v.Notice
		if v.Notice != "" {
			fmt.Fprintf(p.out, "! %s\n", v.Notice)
		}
	}
}

func formatMessage(m models.Message, self models.Role) string {
	who := m.SenderName
	if who == "" {
		who = string(m.SenderRole)
	}
	if m.SenderRole == self {
		who = "you"
	}
	at := m.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
		at = t.Local().Format("15:04")
	}
	return fmt.Sprintf("[%s %s] %s  (%s)", at, who, m.Text, m.MessageID)
}
