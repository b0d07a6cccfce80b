package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/arla/internal/wal"
	"github.com/roach88/arla/internal/walpub"
)

// newKafkaWriter opens the publish target. Replaced in tests.
var newKafkaWriter = func(cfg walpub.WriterConfig) (walpub.MessageWriter, error) {
	return walpub.NewWriter(cfg)
}

// NewWALCommand creates the wal command group.
func NewWALCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect and mirror the write-ahead log",
	}
	cmd.AddCommand(newWALInfoCommand(rootOpts))
	cmd.AddCommand(newWALTailCommand(rootOpts))
	cmd.AddCommand(newWALPublishCommand(rootOpts))
	return cmd
}

func newWALInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the WAL store id and position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			log, err := walFromConfig(opts, cmd)
			if err != nil {
				return f.Fail(err)
			}
			defer log.Close()

			info, err := log.Info(cmd.Context())
			if err != nil {
				return f.Fail(tag(ErrCodeWAL, ExitCommandError, err))
			}
			return f.Success(info, func(w io.Writer) {
				fmt.Fprintf(w, "store_id: %s\nlast_id:  %d\ncount:    %d\n", info.StoreID, info.LastID, info.Count)
			})
		},
	}
}

// WALTailOptions holds flags for wal tail.
type WALTailOptions struct {
	*RootOptions
	After int64
	Limit int
}

func newWALTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WALTailOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print WAL entries after an id",
		Long: `Print WAL entries after an id, oldest first.

Example:
  arla wal tail --after 100 --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWALTail(opts, cmd)
		},
	}
	cmd.Flags().Int64Var(&opts.After, "after", 0, "print entries with an id greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many entries (0 for all)")
	return cmd
}

func runWALTail(opts *WALTailOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	log, err := walFromConfig(opts.RootOptions, cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer log.Close()

	entries := []wal.Entry{}
	for e, err := range log.Stream(cmd.Context(), opts.After) {
		if err != nil {
			return f.Fail(tag(ErrCodeWAL, ExitCommandError, err))
		}
		entries = append(entries, e)
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
	}
	return f.Success(entries, func(w io.Writer) {
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\n", e.ID, e.At.UTC().Format("2006-01-02T15:04:05.000Z"), e.Value)
		}
	})
}

// WALPublishOptions holds flags for wal publish.
type WALPublishOptions struct {
	*RootOptions
	After   int64
	Brokers []string
	Topic   string
}

// PublishResult is the output of wal publish.
type PublishResult struct {
	Topic  string `json:"topic"`
	After  int64  `json:"after"`
	LastID int64  `json:"last_id"`
}

func newWALPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WALPublishOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Mirror WAL entries to a Kafka topic",
		Long: `Mirror WAL entries after an id to a Kafka topic.

Messages are keyed by WAL id and carry the store id in the arla-store-id
header. The last published id is printed; pass it as --after to resume.

Example:
  arla wal publish --after 0 --brokers localhost:9092 --topic arla.wal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWALPublish(opts, cmd)
		},
	}
	cmd.Flags().Int64Var(&opts.After, "after", 0, "publish entries with an id greater than this")
	cmd.Flags().StringSliceVar(&opts.Brokers, "brokers", nil, "Kafka brokers (default: kafka.brokers)")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "Kafka topic (default: kafka.topic)")
	return cmd
}

func runWALPublish(opts *WALPublishOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	c, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return f.Fail(err)
	}
	if len(opts.Brokers) > 0 {
		c.Kafka.Brokers = opts.Brokers
	}
	if opts.Topic != "" {
		c.Kafka.Topic = opts.Topic
	}

	out, err := newKafkaWriter(c.Writer())
	if err != nil {
		return f.Fail(tag(ErrCodeConfig, ExitCommandError, err))
	}
	log, err := openWAL(cmd.Context(), c)
	if err != nil {
		_ = out.Close()
		return f.Fail(err)
	}
	defer log.Close()

	pub := walpub.New(log, out, c.Kafka.BatchSize)
	defer func() {
		if err := pub.Close(); err != nil {
			f.VerboseLog("closing kafka writer: %v", err)
		}
	}()

	last, err := pub.Publish(cmd.Context(), opts.After)
	res := PublishResult{Topic: c.Kafka.Topic, After: opts.After, LastID: last}
	if err != nil {
		return f.Fail(tag(ErrCodePublish, ExitFailure, fmt.Errorf("published through %d: %w", last, err)))
	}
	return f.Success(res, func(w io.Writer) {
		if last == opts.After {
			fmt.Fprintf(w, "Nothing to publish to %s after %d\n", res.Topic, opts.After)
			return
		}
		fmt.Fprintf(w, "Published entries %d..%d to %s\n", opts.After+1, last, res.Topic)
	})
}

func walFromConfig(opts *RootOptions, cmd *cobra.Command) (wal.WAL, error) {
	c, err := loadConfig(opts, cmd)
	if err != nil {
		return nil, err
	}
	return openWAL(cmd.Context(), c)
}
