// A small chat server. The first packet a peer sends sets its name; every
// later packet is a chat line broadcast to all other named peers. Names
// and lines must be valid UTF-8 or the peer is dropped.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/htrefil/asnet"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "listen address")
	flag.Parse()

	host, err := asnet.Bind(*addr, asnet.WithIdleTimeout(30*time.Second))
	if err != nil {
		log.Fatalln(err)
	}
	defer host.Close()
	fmt.Println("chat server on", host.ListenAddr())

	names := make(map[asnet.PeerID]string)
	for {
		events, err := host.Service(500 * time.Millisecond)
		if err != nil {
			log.Fatalln(err)
		}
		for _, ev := range events {
			switch ev.Kind {
			case asnet.EventConnect:
				peerAddr, _ := host.PeerAddr(ev.Peer)
				fmt.Printf("%v connected\n", peerAddr)
			case asnet.EventTimeout:
				fmt.Printf("%s timed out\n", label(host, names, ev.Peer))
			case asnet.EventDisconnect:
				fmt.Printf("%s disconnected (%s)\n", label(host, names, ev.Peer), ev.Reason)
				delete(names, ev.Peer)
			case asnet.EventReceive:
				receive(host, names, ev)
			}
		}
	}
}

func receive(host *asnet.Host, names map[asnet.PeerID]string, ev asnet.Event) {
	if !utf8.Valid(ev.Payload) {
		host.Disconnect(ev.Peer)
		return
	}
	text := string(ev.Payload)

	name, known := names[ev.Peer]
	if !known {
		fmt.Printf("%s set name to %s\n", label(host, names, ev.Peer), text)
		names[ev.Peer] = text
		return
	}

	line := []byte(fmt.Sprintf("%s: %s", name, text))
	for id := range names {
		if id == ev.Peer {
			continue
		}
		if err := host.Send(id, line, ev.Channel); err != nil {
			fmt.Printf("send to %s failed: %v\n", label(host, names, id), err)
		}
	}
}

// label identifies a peer by name when it has one, address while it is
// still connected, id otherwise.
func label(host *asnet.Host, names map[asnet.PeerID]string, id asnet.PeerID) string {
	if name, ok := names[id]; ok {
		return name
	}
	if addr, err := host.PeerAddr(id); err == nil {
		return addr.String()
	}
	return fmt.Sprintf("peer %d", id)
}
