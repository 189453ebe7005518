// Command example wires a host and a guest together over an in-process
// duplex pipe and runs a short put/get/iterate walkthrough against an
// in-memory store. It exists to show the two halves of the protocol
// talking to each other, not as a deployable server.
package main

import (
	"context"
	"fmt"
	"log"
	"net"

	"levelrpc/guest"
	"levelrpc/host"
	"levelrpc/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	db := store.NewMemDB()
	h := host.New(db, host.Config{BatchSize: 64})

	hostConn, guestConn := net.Pipe()
	go func() {
		if err := h.Serve(context.Background(), hostConn); err != nil {
			log.Printf("host: serve exited: %v", err)
		}
	}()

	cli := guest.New(guest.Config{Retry: true})
	ctx := context.Background()
	if err := cli.AttachRPC(ctx, guestConn); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer cli.Close()

	seed := []struct{ k, v string }{
		{"fruit/apple", "red"},
		{"fruit/banana", "yellow"},
		{"fruit/cherry", "dark red"},
	}
	for _, kv := range seed {
		if err := cli.Put(ctx, []byte(kv.k), []byte(kv.v)); err != nil {
			return fmt.Errorf("put %s: %w", kv.k, err)
		}
	}

	value, found, err := cli.Get(ctx, []byte("fruit/banana"))
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	fmt.Printf("fruit/banana -> %q (found=%v)\n", value, found)

	it, err := cli.NewIterator(ctx, store.IteratorOptions{
		RangeOptions: store.RangeOptions{Gte: []byte("fruit/"), Lt: []byte("fruit0"), Limit: -1},
		Keys:         true,
		Values:       true,
	})
	if err != nil {
		return fmt.Errorf("new iterator: %w", err)
	}
	defer it.Close()

	for {
		key, value, ok, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("iterate: %w", err)
		}
		if !ok {
			break
		}
		fmt.Printf("%s = %s\n", key, value)
	}
	return nil
}
