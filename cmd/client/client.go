// Command client sends one filter configuration to a running server and
// prints the outcome.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"

	"github.com/mbfilter/pkg/filter"
)

func main() {
	host := flag.String("host", "localhost:8080", "Server address")
	useCBOR := flag.Bool("cbor", false, "Send the request as CBOR instead of JSON")
	query := flag.Bool("query", false, "Send the configuration in the connection URL")
	watch := flag.Duration("watch", 0, "Keep listening for configuration updates this long")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] k l m pthresh dtime\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 5 {
		flag.Usage()
		os.Exit(64)
	}
	args := flag.Args()
	req := map[string]string{
		filter.KeyFlankRise:       args[0],
		filter.KeyPlateau:         args[1],
		filter.KeyDecayMultiplier: args[2],
		filter.KeyPeakThreshold:   args[3],
		filter.KeyDeadTime:        args[4],
	}

	u := url.URL{Scheme: "ws", Host: *host, Path: "/websocket"}
	if *query {
		q := url.Values{}
		for k, v := range req {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	if !*query {
		if *useCBOR {
			data, merr := cbor.Marshal(req)
			if merr != nil {
				log.Fatal(merr)
			}
			err = c.WriteMessage(websocket.BinaryMessage, data)
		} else {
			data, _ := json.Marshal(req)
			err = c.WriteMessage(websocket.TextMessage, data)
		}
		if err != nil {
			log.Fatal("write:", err)
		}
	}

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := readOutcome(c)
	if err != nil {
		log.Fatal("read:", err)
	}
	if out.Accepted() {
		fmt.Printf("accepted: %s\n", out.Config)
	} else {
		fmt.Printf("rejected (%s): %s\n", out.Reason, out.Message)
	}

	if *watch > 0 {
		c.SetReadDeadline(time.Now().Add(*watch))
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			fmt.Println(string(msg))
		}
	}

	if !out.Accepted() {
		os.Exit(1)
	}
}

// readOutcome skips broadcasts until the reply to our request arrives.
func readOutcome(c *websocket.Conn) (filter.Outcome, error) {
	for {
		kind, msg, err := c.ReadMessage()
		if err != nil {
			return filter.Outcome{}, err
		}
		var out filter.Outcome
		if kind == websocket.BinaryMessage {
			err = cbor.Unmarshal(msg, &out)
		} else {
			err = json.Unmarshal(msg, &out)
		}
		if err != nil {
			return filter.Outcome{}, err
		}
		if out.Status != "" {
			return out, nil
		}
	}
}
