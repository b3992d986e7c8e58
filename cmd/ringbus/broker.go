package main

import (
	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/broker"
	"github.com/ringbus/ringbus/internal/client"
	"github.com/ringbus/ringbus/internal/mailbox"
)

// connectOrHost returns a client for channel, starting and running a
// broker in this process first if nothing is listening yet. Whichever
// ringbus invocation touches a channel first becomes its broker host for
// as long as that invocation runs, matching the single-producer model:
// there is no separate "start the broker" command in the original
// publish/subscribe CLI, so the first command to need a channel hosts it.
func connectOrHost(channel string, log zerolog.Logger) (*client.Client, func(), error) {
	if c, err := client.Connect(channel, log); err == nil {
		return c, func() { c.Close() }, nil
	}

	b, err := broker.New(channel, log)
	if err != nil {
		return nil, nil, err
	}
	go b.Run()

	c, err := client.Connect(channel, log)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return c, func() { c.Close(); b.Close() }, nil
}

// brokerSocketExists is a best-effort check used only for diagnostics in
// the inspect command.
func brokerSocketExists(channel string) bool {
	conn, err := mailbox.Dial(mailbox.RequestQueuePath(channel))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
