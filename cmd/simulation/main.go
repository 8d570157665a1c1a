package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/fatih/color"
)

// Drives a running server through the common flows and prints a colored transcript.
// Start the server first (STORE_DRIVER=memory is enough).

var (
	host  = flag.String("host", "localhost:3000", "server host:port")
	idArg = flag.Int64("base-id", time.Now().Unix()%100000*10, "first user id to use")
)

type frame struct {
	Type       string          `json:"type"`
	Command    string          `json:"command,omitempty"`
	Text       string          `json:"text,omitempty"`
	Attachment json.RawMessage `json:"attachment,omitempty"`
}

type simUser struct {
	id    int64
	name  string
	paint *color.Color
	conn  *websocket.Conn

	mu      sync.Mutex
	inbox   []frame
	arrived chan struct{}
}

func dial(id int64, name string, paint *color.Color) *simUser {
	u := url.URL{Scheme: "ws", Host: *host, Path: "/api/ws", RawQuery: "user_id=" + strconv.FormatInt(id, 10)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", name, err)
	}

	su := &simUser{id: id, name: name, paint: paint, conn: conn, arrived: make(chan struct{}, 64)}
	go su.readLoop()
	return su
}

func (u *simUser) readLoop() {
	for {
		_, data, err := u.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case "typing":
			u.paint.Printf("  %s sees partner typing...\n", u.name)
		case "relay":
			u.paint.Printf("  %s <- partner: %s\n", u.name, f.Text)
		default:
			u.paint.Printf("  %s <- %s\n", u.name, f.Text)
		}

		u.mu.Lock()
		u.inbox = append(u.inbox, f)
		u.mu.Unlock()
		select {
		case u.arrived <- struct{}{}:
		default:
		}
	}
}

func (u *simUser) send(f frame) {
	if f.Type == "command" {
		u.paint.Printf("%s -> /%s\n", u.name, f.Command)
	} else {
		u.paint.Printf("%s -> %q\n", u.name, f.Text)
	}
	if err := u.conn.WriteJSON(f); err != nil {
		log.Fatalf("%s write: %v", u.name, err)
	}
}

func (u *simUser) command(cmd string) { u.send(frame{Type: "command", Command: cmd}) }
func (u *simUser) say(text string)    { u.send(frame{Type: "message", Text: text}) }

// waitFor blocks until a frame matching ok arrives or the timeout passes.
func (u *simUser) waitFor(timeout time.Duration, ok func(frame) bool) bool {
	deadline := time.After(timeout)
	seen := 0
	for {
		u.mu.Lock()
		pending := u.inbox[seen:]
		seen = len(u.inbox)
		u.mu.Unlock()
		for _, f := range pending {
			if ok(f) {
				return true
			}
		}

		select {
		case <-u.arrived:
		case <-deadline:
			color.Red("  %s timed out waiting", u.name)
			return false
		}
	}
}

func textIs(want string) func(frame) bool {
	return func(f frame) bool { return f.Type == "text" && f.Text == want }
}

func isRelay(f frame) bool { return f.Type == "relay" }

func (u *simUser) close() {
	_ = u.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = u.conn.Close()
}

func main() {
	flag.Parse()
	color.Cyan("=== Random Chat Simulation (%s) ===\n", *host)

	const connected = "You are connected! Start chatting."
	base := *idArg

	color.Yellow("\n# Two humans meet, chat, and one moves on")
	alice := dial(base+1, "alice", color.New(color.FgGreen))
	bob := dial(base+2, "bob", color.New(color.FgBlue))
	defer alice.close()
	defer bob.close()

	alice.command("start")
	time.Sleep(200 * time.Millisecond)
	bob.command("start")
	alice.waitFor(2*time.Second, textIs(connected))
	bob.waitFor(2*time.Second, textIs(connected))

	alice.say("hi there")
	bob.waitFor(2*time.Second, isRelay)
	bob.say("hey!")
	alice.waitFor(2*time.Second, isRelay)

	bob.say("Next")
	alice.waitFor(2*time.Second, func(f frame) bool { return f.Type == "text" && f.Text != connected })
	alice.command("stop")

	color.Yellow("\n# Nobody around, the automation steps in")
	carol := dial(base+3, "carol", color.New(color.FgMagenta))
	defer carol.close()

	carol.command("start")
	if carol.waitFor(20*time.Second, textIs(connected)) {
		carol.waitFor(10*time.Second, func(f frame) bool { return f.Type == "text" && f.Text != connected })
		carol.say("so what do you do for fun?")
		carol.waitFor(30*time.Second, func(f frame) bool { return f.Type == "relay" || f.Type == "text" })
	}
	carol.command("stop")
	bob.command("stop")

	time.Sleep(500 * time.Millisecond)
	color.Cyan("\n=== Simulation finished ===")
}
