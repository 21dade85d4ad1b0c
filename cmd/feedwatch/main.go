// Package main watches the live campaign feed. With -clients > 1 it doubles as
// a fan-out load test for the feed hub.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"crowdledger/internal/middleware"
	"crowdledger/internal/models"

	"github.com/gorilla/websocket"
)

// Metrics tracks the session results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	EventsReceived       int64
	Errors               int64
}

var metrics Metrics

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	userID := flag.String("user", "", "Viewer id (sent as ?userId when no token is used)")
	token := flag.String("token", "", "Bearer token")
	secret := flag.String("secret", "", "JWT secret used to mint a token for -user")
	clients := flag.Int("clients", 1, "Number of concurrent feed connections")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	quiet := flag.Bool("quiet", false, "Only print the summary")
	flag.Parse()

	bearer := *token
	if bearer == "" && *secret != "" && *userID != "" {
		minted, err := middleware.IssueIdentityToken(*secret, *userID, "", time.Hour)
		if err != nil {
			log.Fatalf("❌ Token mint failed: %v", err)
		}
		bearer = minted
	}

	target := feedURL(*host, *userID, bearer != "")
	log.Printf("👀 Watching %s with %d client(s)", target.String(), *clients)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(target, bearer, i, *quiet || i > 0, stopChan, &wg)
	}

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	select {
	case <-timeout:
		log.Println("⏱️  Duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	wg.Wait()
	printMetrics()
}

func feedURL(host, userID string, hasToken bool) url.URL {
	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws/feed"}
	if userID != "" && !hasToken {
		u.RawQuery = url.Values{"userId": {userID}}.Encode()
	}
	return u
}

func runClient(target url.URL, bearer string, id int, quiet bool, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(target.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		if resp != nil {
			log.Printf("client %d: handshake failed with status %d", id, resp.StatusCode)
		} else {
			log.Printf("client %d: %v", id, err)
		}
		return
	}
	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)
	defer func() { _ = conn.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					select {
					case <-stopChan:
					default:
						atomic.AddInt64(&metrics.Errors, 1)
					}
				}
				return
			}
			atomic.AddInt64(&metrics.EventsReceived, 1)
			if !quiet {
				fmt.Println(formatEvent(msg))
			}
		}
	}()

	select {
	case <-stopChan:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		<-done
	case <-done:
	}
}

// formatEvent renders one feed frame as a single line.
func formatEvent(raw []byte) string {
	var event models.CampaignEvent
	if err := json.Unmarshal(raw, &event); err != nil || event.Campaign == nil {
		return string(raw)
	}
	c := event.Campaign
	return fmt.Sprintf("%-17s %s %q likes=%d comments=%d raised=%s/%s",
		event.Type, c.ID, c.Title, c.Likes, len(c.Comments), c.Donations, c.Goal)
}

func printMetrics() {
	fmt.Println("\n📊 Feed Results")
	fmt.Println("===============")
	fmt.Printf("Connections Attempted: %d\n", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	fmt.Printf("Connections Success:   %d\n", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	fmt.Printf("Connections Failed:    %d\n", atomic.LoadInt64(&metrics.ConnectionsFailed))
	fmt.Printf("Events Received:       %d\n", atomic.LoadInt64(&metrics.EventsReceived))
	fmt.Printf("Errors:                %d\n", atomic.LoadInt64(&metrics.Errors))
}
