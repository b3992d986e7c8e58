package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ringbus/ringbus/internal/broker"
	"github.com/ringbus/ringbus/internal/client"
	"github.com/ringbus/ringbus/internal/testframe"
	"github.com/ringbus/ringbus/internal/topic"
)

// testFrameType is the envelope type tag test write/read stamp synthetic
// frames with, distinguishing them from application traffic on a shared
// topic.
const testFrameType = 0xFE

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Synthetic producer/consumer tooling for soak and conformance runs",
}

var (
	testChannel     string
	testTopic       string
	testCount       int
	testFrequencyHz float64
	testMessageSize int
	testInteractive bool
	testRingCap     uint64
	testBufferBytes uint64
)

func init() {
	for _, c := range []*cobra.Command{testWriteCmd, testReadCmd} {
		c.Flags().StringVar(&testChannel, "channel", "", "channel name (required)")
		c.Flags().StringVar(&testTopic, "topic", "", "topic name (required)")
		c.Flags().BoolVar(&testInteractive, "interactive", true, "print a running total line")
		c.MarkFlagRequired("channel")
		c.MarkFlagRequired("topic")
	}
	testWriteCmd.Flags().IntVar(&testCount, "count", 0, "number of frames to publish, 0 = unbounded until interrupted")
	testWriteCmd.Flags().Float64Var(&testFrequencyHz, "frequency", 10, "publish rate in Hz")
	testWriteCmd.Flags().IntVar(&testMessageSize, "message-size", 1024, "payload bytes per frame")
	testWriteCmd.Flags().Uint64Var(&testRingCap, "ring-capacity", 1024, "ring entry capacity for a newly created topic")
	testWriteCmd.Flags().Uint64Var(&testBufferBytes, "buffer-bytes", 16<<20, "arena byte capacity for a newly created topic")

	testCmd.AddCommand(testWriteCmd)
	testCmd.AddCommand(testReadCmd)
}

// testWriteCmd is the sole producer for --topic: it hosts the channel's
// broker itself, exactly as every producer does per the single-producer
// invariant, rather than publishing through a remote client connection
// (the control-plane protocol has no Publish envelope — only the topic's
// own process ever writes its ring).
var testWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Publish synthetic, self-verifying frames into a topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer startMetrics(log)()
		b, err := broker.New(testChannel, log)
		if err != nil {
			return err
		}
		defer b.Close()
		go b.Run()

		top, err := b.EnsureTopic(testTopic, testRingCap, testBufferBytes)
		if err != nil {
			return err
		}

		period := time.Duration(float64(time.Second) / testFrequencyHz)
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		progress := time.NewTicker(time.Second)
		defer progress.Stop()

		sent := 0
		for {
			if testCount > 0 && sent >= testCount {
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-progress.C:
				if testInteractive {
					fmt.Printf("wrote %d frames\n", sent)
				}
			case <-ticker.C:
				if err := writeOneFrame(top, testMessageSize); err != nil {
					log.Error().Err(err).Msg("publish failed")
					continue
				}
				sent++
			}
		}
	},
}

func writeOneFrame(top *topic.Topic, size int) error {
	f := testframe.New(size)
	buf := f.Encode()

	scope, err := top.Publish(len(buf), testFrameType)
	if err != nil {
		return err
	}
	copy(scope.Bytes(), buf)
	if err := scope.Commit(len(buf)); err != nil {
		return err
	}
	scope.Release()
	return nil
}

var testReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Subscribe and verify synthetic frames published by test write",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		c, err := client.Connect(testChannel, log)
		if err != nil {
			return fmt.Errorf("test read: connect to channel %q (is a producer running?): %w", testChannel, err)
		}
		defer c.Close()

		cur, err := c.Subscribe(testTopic)
		if err != nil {
			return err
		}
		defer cur.Close()

		progress := time.NewTicker(time.Second)
		defer progress.Stop()

		read, corrupt := 0, 0
		for {
			select {
			case <-cmd.Context().Done():
				fmt.Printf("read %d frames, %d failed verification\n", read, corrupt)
				return nil
			case <-progress.C:
				if testInteractive {
					fmt.Printf("read %d frames, %d failed verification\n", read, corrupt)
				}
			default:
			}

			acc, ok, err := cur.TryReadFor(100 * time.Millisecond)
			if err != nil {
				log.Error().Err(err).Msg("read failed")
				continue
			}
			if !ok {
				continue
			}
			f, err := testframe.Decode(acc.Bytes)
			if err != nil {
				corrupt++
				log.Warn().Err(err).Msg("malformed test frame")
				continue
			}
			if !f.Verify() {
				corrupt++
				log.Warn().Msg("test frame failed MD5 verification")
				continue
			}
			read++
		}
	},
}
