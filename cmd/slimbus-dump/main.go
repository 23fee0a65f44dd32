// Command slimbus-dump connects to a D-Bus server, authenticates, and
// logs a fixed number of received messages before exiting. It exists
// to exercise the transport, handshake, and message framing in this
// module against a real bus, without any value-codec layer on top.
package main

import (
	"context"
	"log"
	"os"
	"strconv"

	dbus "github.com/slimbus-go/slimbus"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	addr, err := resolveAddress()
	if err != nil {
		return err
	}

	count := 10
	if raw := os.Getenv("SLIMBUS_DUMP_COUNT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		count = n
	}

	conn, err := dbus.Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("connected: server guid=%s unix_fd=%v", conn.ServerGUID(), conn.CapUnixFD())

	if err := sayHello(conn); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		log.Printf("msg %d: type=%s serial=%d path=%s iface=%s member=%s sig=%s body=%d bytes, %d fds",
			msg.RecvSeq, msg.Header.Type, msg.Header.Serial, msg.Header.Path,
			msg.Header.Interface, msg.Header.Member, msg.Header.Signature,
			len(msg.Body), len(msg.Files))
	}
	return nil
}

// resolveAddress picks the bus to dial based on SLIMBUS_DUMP_BUS
// ("session" or "system", default "session"), falling back to
// [dbus.SessionAddress]/[dbus.SystemAddress]'s own environment
// variable handling.
func resolveAddress() (dbus.Address, error) {
	switch os.Getenv("SLIMBUS_DUMP_BUS") {
	case "system":
		return dbus.SystemAddress()
	default:
		return dbus.SessionAddress()
	}
}

// sayHello issues the bus's Hello call by hand (no value codec is
// available to build a proper proxy), and logs the reply's signature
// and body size. The unique name in the reply body is not decoded or
// recorded.
func sayHello(conn *dbus.Conn) error {
	h := &dbus.Header{
		Type:        dbus.MethodCall,
		Path:        "/org/freedesktop/DBus",
		Interface:   "org.freedesktop.DBus",
		Member:      "Hello",
		Destination: "org.freedesktop.DBus",
	}
	if _, err := conn.Send(context.Background(), h, nil); err != nil {
		return err
	}
	reply, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	// No value codec is wired up, so the unique name string can't be
	// decoded here; just report that the call round-tripped.
	log.Printf("Hello replied: signature=%s body=%d bytes", reply.Header.Signature, len(reply.Body))
	return nil
}
