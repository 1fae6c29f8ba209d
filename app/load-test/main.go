package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Payload   any    `json:"payload,omitempty"`
}

var cards = []string{"0", "1", "2", "3", "5", "8", "13", "20", "40", "100", "unknown", "coffee"}

func main() {
	var (
		base        = flag.String("url", "ws://localhost:8080/ws/room", "WebSocket base URL")
		rooms       = flag.Int("rooms", 10, "Number of rooms")
		clients     = flag.Int("clients", 200, "Number of concurrent clients")
		interval    = flag.Int("interval", 2000, "Vote interval in ms per client")
		roundEvery  = flag.Int("round", 15000, "Host round start/reveal interval in ms")
		tokenPrefix = flag.String("token-prefix", "load-", "Bearer token prefix; token i is <prefix><i>")
		roomPrefix  = flag.String("room-prefix", "loadroom-", "Room id prefix; room j is <prefix><j>")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting loadgen: clients=%d rooms=%d interval=%dms", *clients, *rooms, *interval)

	var wg sync.WaitGroup
	wg.Add(*clients)

	for i := 0; i < *clients; i++ {
		roomID := fmt.Sprintf("%s%d", *roomPrefix, i%*rooms)
		token := fmt.Sprintf("%s%d", *tokenPrefix, i)
		host := i < *rooms // first client per room drives rounds

		go func(roomID, token string, host bool) {
			defer wg.Done()
			runClient(ctx, *base, roomID, token, host,
				time.Duration(*interval)*time.Millisecond,
				time.Duration(*roundEvery)*time.Millisecond)
		}(roomID, token, host)
	}

	<-stop
	log.Println("Stopping loadgen...")
	cancel()
	wg.Wait()
	log.Println("All clients stopped.")
}

func runClient(ctx context.Context, base, roomID, token string, host bool, interval, roundEvery time.Duration) {
	url := fmt.Sprintf("%s/%s?token=%s", base, roomID, token)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		log.Printf("[%s] dial error: %v", roomID, err)
		return
	}
	defer conn.Close()

	// drain server events so the read side never backs up
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := send(conn, envelope{Type: "room.join.v1", RequestID: uuid.NewString()}); err != nil {
		log.Printf("[%s] join error: %v", roomID, err)
		return
	}

	voteTicker := time.NewTicker(interval)
	defer voteTicker.Stop()

	var roundTicker *time.Ticker
	var roundCh <-chan time.Time
	if host {
		roundTicker = time.NewTicker(roundEvery)
		defer roundTicker.Stop()
		roundCh = roundTicker.C
	}

	revealNext := false
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return

		case <-voteTicker.C:
			card := cards[rand.Intn(len(cards))]
			err := send(conn, envelope{
				Type:      "vote.cast.v1",
				RequestID: uuid.NewString(),
				Payload:   map[string]string{"card": card},
			})
			if err != nil {
				log.Printf("[%s] write error: %v (reconnecting)", roomID, err)
				if conn = reconnect(ctx, conn, url); conn == nil {
					return
				}
			}

		case <-roundCh:
			msgType := "round.start.v1"
			var payload any = map[string]string{"storyTitle": "load story " + uuid.NewString()[:8]}
			if revealNext {
				msgType = "round.reveal.v1"
				payload = nil
			}
			revealNext = !revealNext
			if err := send(conn, envelope{Type: msgType, RequestID: uuid.NewString(), Payload: payload}); err != nil {
				log.Printf("[%s] host write error: %v", roomID, err)
			}
		}
	}
}

func send(conn *websocket.Conn, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func reconnect(ctx context.Context, old *websocket.Conn, url string) *websocket.Conn {
	_ = old.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		c, _, err := dialer.Dial(url, nil)
		if err == nil {
			_ = send(c, envelope{Type: "room.join.v1", RequestID: uuid.NewString()})
			return c
		}
		time.Sleep(500 * time.Millisecond)
	}
}
