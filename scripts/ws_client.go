// Package main runs a demo WebSocket client for job progress.
//
//	go run ./scripts/ws_client.go instance.json
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: ws_client <instance.json>")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	instance, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	body, _ := json.Marshal(map[string]json.RawMessage{"instance": instance})
	resp, err := http.Post(base+"/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("submit: %s", resp.Status)
	}
	var created struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Fatal(err)
	}
	log.Printf("Job ID: %s", created.JobID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/jobs/" + created.JobID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	started := time.Now()
	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("closed after %v", time.Since(started).Round(time.Millisecond))
				return
			}
			log.Fatalf("read: %v", err)
		}
		if m.Type == "job.progress" && m.Data["stage"] == "opt.iteration" {
			continue
		}
		data, _ := json.Marshal(m.Data)
		log.Printf("WS <- %s: %s", m.Type, data)
	}
}
