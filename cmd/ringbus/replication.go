package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ringbus/ringbus/internal/replicate/tcp"
	"github.com/ringbus/ringbus/internal/replicate/udp"
	"github.com/ringbus/ringbus/internal/xcmd"
)

// parseUDPTargets turns "topic=host:port,topic2=host:port2" into the
// Endpoint list udp.Source.Replicate expects.
func parseUDPTargets(spec string) ([]udp.Endpoint, error) {
	parts := strings.Split(spec, ",")
	endpoints := make([]udp.Endpoint, 0, len(parts))
	for _, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("replication publish --proto udp: malformed --targets entry %q, want topic=host:port", p)
		}
		endpoints = append(endpoints, udp.Endpoint{Topic: kv[0], Addr: kv[1]})
	}
	return endpoints, nil
}

var replicationCmd = &cobra.Command{
	Use:   "replication",
	Short: "Run a replication bridge endpoint",
}

var (
	replChannel     string
	replHost        string
	replPort        uint16
	replTopics      string
	replProto       string
	replMTU         int
	replRingCap     uint64
	replBufferBytes uint64
	replTargets     string
	replRateHz      float64
)

func init() {
	publishCmd.Flags().StringVar(&replChannel, "channel", "", "local channel to replicate out of (required)")
	publishCmd.Flags().StringVar(&replHost, "host", "0.0.0.0", "address to bind")
	publishCmd.Flags().Uint16Var(&replPort, "port", 0, "port to bind, tcp only (required for --proto tcp)")
	publishCmd.Flags().StringVar(&replProto, "proto", "tcp", "tcp or udp")
	publishCmd.Flags().IntVar(&replMTU, "mtu", 1400, "fragment MTU, udp only")
	publishCmd.Flags().StringVar(&replTargets, "targets", "", "comma-separated topic=host:port list, udp only")
	publishCmd.Flags().Float64Var(&replRateHz, "rate", 10000, "outbound datagram rate cap (datagrams/sec), udp only, 0 = unbounded")
	publishCmd.MarkFlagRequired("channel")

	subscribeCmd.Flags().StringVar(&replChannel, "channel", "", "local channel to replicate into (required)")
	subscribeCmd.Flags().StringVar(&replHost, "host", "127.0.0.1", "remote host to connect to (required)")
	subscribeCmd.Flags().Uint16Var(&replPort, "port", 0, "remote port to connect to (required)")
	subscribeCmd.Flags().StringVar(&replTopics, "topics", "", "comma-separated topic list (required)")
	subscribeCmd.Flags().StringVar(&replProto, "proto", "tcp", "tcp or udp")
	subscribeCmd.Flags().IntVar(&replMTU, "mtu", 1400, "fragment MTU, udp only")
	subscribeCmd.Flags().Uint64Var(&replRingCap, "ring-capacity", 1024, "ring entry capacity for newly created local topics")
	subscribeCmd.Flags().Uint64Var(&replBufferBytes, "buffer-bytes", 16<<20, "arena byte capacity for newly created local topics")
	subscribeCmd.MarkFlagRequired("channel")
	subscribeCmd.MarkFlagRequired("host")
	subscribeCmd.MarkFlagRequired("port")
	subscribeCmd.MarkFlagRequired("topics")

	replicationCmd.AddCommand(publishCmd)
	replicationCmd.AddCommand(subscribeCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Serve channel topics to subscribing replication targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer startMetrics(log)()
		log.Info().Str("channel", replChannel).Str("proto", replProto).Msg("starting replication publisher")

		switch replProto {
		case "tcp":
			addr := fmt.Sprintf("%s:%d", replHost, replPort)
			src, err := tcp.NewSource(replChannel, addr, log)
			if err != nil {
				return err
			}
			return xcmd.RunUntilInterrupted(cmd.Context(), func(ctx context.Context) error {
				go func() {
					<-ctx.Done()
					src.Close()
				}()
				src.Run()
				return nil
			})

		case "udp":
			endpoints, err := parseUDPTargets(replTargets)
			if err != nil {
				return err
			}
			src := udp.NewSource(replChannel, replMTU, replRateHz, log)
			return xcmd.RunUntilInterrupted(cmd.Context(), func(ctx context.Context) error {
				go func() {
					<-ctx.Done()
					src.Close()
				}()
				src.Replicate(endpoints)
				return nil
			})

		default:
			return fmt.Errorf("replication publish: unsupported proto %q", replProto)
		}
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Pull topics from a remote replication publisher into a local channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer startMetrics(log)()
		addr := fmt.Sprintf("%s:%d", replHost, replPort)
		topics := strings.Split(replTopics, ",")
		log.Info().Str("channel", replChannel).Str("addr", addr).Strs("topics", topics).Msg("starting replication subscriber")

		switch replProto {
		case "tcp":
			tgt, err := tcp.NewTarget(replChannel, addr, replRingCap, replBufferBytes, log)
			if err != nil {
				return err
			}
			go tgt.Broker().Run()
			defer tgt.Broker().Close()

			return xcmd.RunUntilInterrupted(cmd.Context(), func(ctx context.Context) error {
				go func() {
					<-ctx.Done()
					tgt.Close()
				}()
				tgt.Replicate(topics)
				return nil
			})

		case "udp":
			if len(topics) != 1 {
				return fmt.Errorf("replication subscribe --proto udp: exactly one topic is required, got %d", len(topics))
			}
			tgt, err := udp.NewTarget(replChannel, topics[0], addr, replMTU, replRingCap, replBufferBytes, log)
			if err != nil {
				return err
			}
			go tgt.Broker().Run()
			defer tgt.Broker().Close()

			return xcmd.RunUntilInterrupted(cmd.Context(), func(ctx context.Context) error {
				go func() {
					<-ctx.Done()
					tgt.Close()
				}()
				tgt.Run()
				return nil
			})

		default:
			return fmt.Errorf("replication subscribe: unsupported proto %q", replProto)
		}
	},
}
