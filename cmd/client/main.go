// Command dmchat-client is a line-mode terminal client for a dmchat server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Tyrowin/dmchat/internal/client"
	"github.com/Tyrowin/dmchat/internal/models"
)

const help = `Commands:
  signup <email> <full name>   create an account (password is prompted)
  login <email>                sign in (password is prompted)
  logout                       sign out
  avatar <url>                 set your profile picture
  users                        list contacts and who is online
  open <email|name|id>         open a conversation
  close                        close the conversation
  history                      reload the open conversation
  /img <url>                   send an image to the open conversation
  help                         show this help
  quit                         exit
Any other line is sent as a message to the open conversation.`

type app struct {
	session *client.Session
	in      *bufio.Scanner
	out     io.Writer
}

func main() {
	server := flag.String("server", "http://localhost:5001", "dmchat server URL")
	origin := flag.String("origin", "", "Origin header for the realtime channel; omitted when empty")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.WarnLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	a := &app{in: bufio.NewScanner(os.Stdin), out: os.Stdout}

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithNotify(a.notice),
		client.WithEventHook(a.event),
		client.WithOrigin(*origin),
	}

	session, err := client.NewSession(*server, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid server URL")
	}
	a.session = session
	defer session.Close()

	// Stdin reads do not observe cancellation, so a signal closes the
	// session and exits directly.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		session.Close()
		os.Exit(0)
	}()

	fmt.Fprintln(a.out, "dmchat client. Type 'help' for commands.")
	a.run(context.Background())
}

func (a *app) notice(n client.Notice) {
	prefix := "ok"
	if n.Level == client.NoticeError {
		prefix = "error"
	}
	fmt.Fprintf(a.out, "[%s] %s\n", prefix, n.Text)
}

func (a *app) event(ev client.Event) {
	if ev.Event != client.EventNewMessage {
		return
	}
	var msg models.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		return
	}
	v := a.session.State().View()
	if v.SelectedPeer != nil && msg.SenderID == v.SelectedPeer.ID {
		fmt.Fprintln(a.out, formatMessage(msg, v))
		return
	}
	fmt.Fprintf(a.out, "* new message from %s (%d unread)\n", displayName(msg.SenderID, v), v.Unread[msg.SenderID])
}

func (a *app) run(ctx context.Context) {
	if err := a.session.CheckAuth(ctx); err == nil {
		fmt.Fprintf(a.out, "Signed in as %s\n", a.session.State().AuthUser().FullName)
	}

	for a.in.Scan() {
		if !a.handle(ctx, strings.TrimSpace(a.in.Text())) {
			return
		}
	}
}

// handle runs one input line and reports whether to keep going.
func (a *app) handle(ctx context.Context, line string) bool {
	if line == "" {
		return true
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		fmt.Fprintln(a.out, help)
	case "signup":
		email, name, _ := strings.Cut(rest, " ")
		var password string
		if password, err = a.password(); err == nil {
			err = a.session.Signup(ctx, client.SignupRequest{FullName: strings.TrimSpace(name), Email: email, Password: password})
		}
	case "login":
		var password string
		if password, err = a.password(); err == nil {
			err = a.session.Login(ctx, rest, password)
		}
	case "logout":
		err = a.session.Logout(ctx)
	case "avatar":
		err = a.session.UpdateProfile(ctx, rest)
	case "users":
		if err = a.session.GetUsers(ctx); err == nil {
			a.printUsers()
		}
	case "open":
		err = a.open(ctx, rest)
	case "close":
		err = a.session.SelectPeer(ctx, nil)
	case "history":
		if peer := a.session.State().SelectedPeer(); peer != nil {
			if err = a.session.GetMessages(ctx, peer.ID); err == nil {
				a.printHistory()
			}
		}
	case "/img":
		_, err = a.session.SendMessage(ctx, client.Draft{Image: rest})
	default:
		_, err = a.session.SendMessage(ctx, client.Draft{Text: line})
	}

	if errors.Is(err, io.EOF) {
		return false
	}
	return true
}

func (a *app) password() (string, error) {
	fmt.Fprint(a.out, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(a.out)
		return string(pw), err
	}
	if !a.in.Scan() {
		if err := a.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(a.in.Text()), nil
}

func (a *app) open(ctx context.Context, query string) error {
	v := a.session.State().View()
	if len(v.Users) == 0 {
		if err := a.session.GetUsers(ctx); err != nil {
			return err
		}
		v = a.session.State().View()
	}

	for _, u := range v.Users {
		if u.ID == query || strings.EqualFold(u.Email, query) || strings.EqualFold(u.FullName, query) {
			peer := u
			if err := a.session.SelectPeer(ctx, &peer); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "-- %s --\n", peer.FullName)
			a.printHistory()
			return nil
		}
	}
	fmt.Fprintf(a.out, "No user matches %q\n", query)
	return nil
}

func (a *app) printUsers() {
	v := a.session.State().View()
	for _, u := range v.Users {
		status := "offline"
		if v.IsOnline(u.ID) {
			status = "online"
		}
		unread := ""
		if n := v.Unread[u.ID]; n > 0 {
			unread = fmt.Sprintf(" (%d unread)", n)
		}
		fmt.Fprintf(a.out, "  %-24s %-32s %s%s\n", u.FullName, u.Email, status, unread)
	}
}

func (a *app) printHistory() {
	v := a.session.State().View()
	for _, m := range v.Messages {
		fmt.Fprintln(a.out, formatMessage(m, v))
	}
}

func formatMessage(m models.Message, v client.View) string {
	body := m.Text
	if m.Image != "" {
		if body != "" {
			body += " "
		}
		body += "[image " + m.Image + "]"
	}
	return fmt.Sprintf("%s %s: %s", m.CreatedAt.Local().Format(time.Kitchen), displayName(m.SenderID, v), body)
}

func displayName(userID string, v client.View) string {
	if v.AuthUser != nil && v.AuthUser.ID == userID {
		return "you"
	}
	for _, u := range v.Users {
		if u.ID == userID {
			return u.FullName
		}
	}
	return userID
}
