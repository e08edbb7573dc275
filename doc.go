// Package asnet provides a single-threaded, packet-oriented networking
// core over TCP: one Host multiplexes a listening socket and any number of
// peer connections through a readiness poller and hands the application a
// batch of ordered events per service call.
//
// Features:
//   - Framing: every packet travels as one length-prefixed frame carrying
//     a channel tag; decoding preserves per-connection send order exactly.
//   - Pull-based events: Service performs one bounded poll and returns the
//     Connect, Receive, Timeout and Disconnect events it produced, in
//     occurrence order. No callbacks, no background goroutines.
//   - Back-pressure: outbound bytes staged per peer are capped; oversized
//     packets stream through the cap chunk-wise as the socket drains.
//   - Deadlines: idle peers and stalled dials are timed out cooperatively
//     against an injectable clock.
//
// The Host and its peers are single-owner structures: one goroutine calls
// Service, Send, Connect and the rest of the API. Only Stats is safe to
// call concurrently.
//
// The implementation polls with epoll and requires Linux.
//
// Server example:
//
//	host, err := asnet.Bind("127.0.0.1:7777")
//	if err != nil {
//	    // handle error
//	}
//	defer host.Close()
//	for {
//	    events, err := host.Service(-1)
//	    if err != nil {
//	        // handle error
//	    }
//	    for _, ev := range events {
//	        switch ev.Kind {
//	        case asnet.EventReceive:
//	            _ = host.Send(ev.Peer, ev.Payload, ev.Channel) // echo
//	        case asnet.EventDisconnect:
//	            // peer is gone; ev.Reason says why
//	        }
//	    }
//	}
//
// Client example:
//
//	host, _ := asnet.New()
//	defer host.Close()
//	id, err := host.Connect("127.0.0.1:7777")
//	if err != nil {
//	    // handle error
//	}
//	_ = host.Send(id, []byte("hello"), 0) // queued until connected
package asnet
