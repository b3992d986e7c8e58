package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ringbus/ringbus/internal/region"
	"github.com/ringbus/ringbus/internal/semaphore"
	"github.com/ringbus/ringbus/internal/subtable"
)

var (
	inspectChannel string
	inspectTopic   string
)

// inspectCmd is a supplemented read-only debug command (SPEC_FULL.md §4
// item 2): it maps a topic's region read-only and reports ring position
// plus every active slot's semaphore count, without needing the owning
// broker process to cooperate.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print ring and subscriber-table state for a topic (debug only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := region.Path(inspectChannel, inspectTopic)
		r, err := region.OpenReadOnly(path)
		if err != nil {
			return fmt.Errorf("inspect: open %s: %w", path, err)
		}
		defer r.Close()

		ring := r.Ring()
		fmt.Printf("topic %s.%s: next_index=%d current_size=%d capacity=%d\n",
			inspectChannel, inspectTopic, ring.NextIndex(), ring.CurrentSize(), ring.Capacity())

		brokerRunning := brokerSocketExists(inspectChannel)
		fmt.Printf("broker listening: %v\n", brokerRunning)

		table := subtable.New(r.SlotTableBytes(), region.SlotCount)
		for i := 0; i < table.Len(); i++ {
			row := table.Get(i)
			if !row.Active {
				continue
			}
			semName := fmt.Sprintf("%s.%s.%d.%d.sem", inspectChannel, inspectTopic, row.PID, i)
			value := "unavailable"
			if sem, err := semaphore.Open(semName); err == nil {
				if v, err := sem.Value(); err == nil {
					value = fmt.Sprintf("%d", v)
				}
				sem.Close()
			}
			fmt.Printf("  slot %d: pid=%d start_index=%d notified=%d pending_remove=%v sem_value=%s\n",
				i, row.PID, row.StartIndex, row.Notified, row.PendingRemove, value)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectChannel, "channel", "", "channel name (required)")
	inspectCmd.Flags().StringVar(&inspectTopic, "topic", "", "topic name (required)")
	inspectCmd.MarkFlagRequired("channel")
	inspectCmd.MarkFlagRequired("topic")
}
