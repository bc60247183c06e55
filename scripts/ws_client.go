// Package main runs a demo driver client that registers a bus and streams a
// short line of GPS points, plus a viewer that prints what it receives.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func send(c *websocket.Conn, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: typ, Payload: data}); err != nil {
		log.Fatal(err)
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws"}

	// Viewer: subscribe to the demo bus and print everything
	viewer, _, err := websocket.DefaultDialer.Dial(u.String()+"?token=viewer", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = viewer.Close() }()
	send(viewer, "subscribe-to-bus", map[string]string{"busId": "BUS-001"})
	go func() {
		for {
			var evt map[string]any
			if err := viewer.ReadJSON(&evt); err != nil {
				return
			}
			out, _ := json.Marshal(evt)
			fmt.Printf("viewer <- %s\n", out)
		}
	}()

	// Driver: register, start a trip, stream points, end the trip
	driver, _, err := websocket.DefaultDialer.Dial(u.String()+"?token=driver:D1", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = driver.Close() }()
	send(driver, "driver-register", map[string]string{"driverId": "D1", "busId": "BUS-001", "routeId": "500A"})
	for {
		var evt struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := driver.ReadJSON(&evt); err != nil {
			log.Fatal(err)
		}
		if evt.Type == "registered" {
			log.Printf("register ack: %v", evt.Data)
			break
		}
	}

	send(driver, "start-trip", map[string]any{})
	lat, lng := 12.9774, 77.5708
	for i := 0; i < 10; i++ {
		send(driver, "location-update", map[string]any{
			"latitude":  lat,
			"longitude": lng,
			"accuracy":  10.0,
		})
		lat += 0.0004
		lng += 0.0002
		time.Sleep(500 * time.Millisecond)
	}
	send(driver, "end-trip", map[string]any{})
	time.Sleep(time.Second)
}
