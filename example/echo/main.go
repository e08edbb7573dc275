// A minimal echo server: every packet received is sent straight back on
// the channel it arrived on.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/htrefil/asnet"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "listen address")
	flag.Parse()

	host, err := asnet.Bind(*addr)
	if err != nil {
		log.Fatalln(err)
	}
	defer host.Close()
	fmt.Println("echo server on", host.ListenAddr())

	for {
		events, err := host.Service(500 * time.Millisecond)
		if err != nil {
			log.Fatalln(err)
		}
		for _, ev := range events {
			switch ev.Kind {
			case asnet.EventConnect:
				peerAddr, _ := host.PeerAddr(ev.Peer)
				fmt.Printf("%v connected as peer %d\n", peerAddr, ev.Peer)
			case asnet.EventDisconnect:
				fmt.Printf("peer %d disconnected (%s)\n", ev.Peer, ev.Reason)
			case asnet.EventReceive:
				if err := host.Send(ev.Peer, ev.Payload, ev.Channel); err != nil {
					fmt.Printf("echo to peer %d failed: %v\n", ev.Peer, err)
				}
			}
		}
	}
}
