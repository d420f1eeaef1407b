// Package logtail tails the durable-log queues the relay mirrors into: it
// consumes the location and assignment logs with manual acks and prints each
// entry as a structured log line.
package logtail

import (
	"context"
	"flag"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"courier-relay/internal/cli"
	"courier-relay/internal/general/config"
	"courier-relay/internal/general/logger"
	"courier-relay/internal/general/rabbitmq"
)

// Run consumes both log queues until ctx is cancelled.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(cli.ModeLogTail, flag.ContinueOnError)
	cli.AttachUsage(fs, cli.ModeLogTail)
	configPath := fs.String("config", "config/config.yaml", "path to the YAML config file")
	prefetch := fs.Int("prefetch", 16, "consumer prefetch window")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logger.New("log-tail")

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.RabbitMQ.Enabled {
		return fmt.Errorf("log-tail requires rabbitmq.enabled: true")
	}

	mq, err := rabbitmq.Connect(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer mq.Close()

	queues := []string{rabbitmq.QueueLocationLog, rabbitmq.QueueAssignmentLog}
	errCh := make(chan error, len(queues))
	for _, queue := range queues {
		go func(queue string) {
			errCh <- mq.Consume(ctx, queue, "log-tail-"+queue, *prefetch,
				func(ctx context.Context, d amqp.Delivery) error {
					log.Info(ctx, "log_entry", "Durable-log entry", map[string]any{
						"queue":       queue,
						"routing_key": d.RoutingKey,
						"body":        string(d.Body),
					})
					return nil
				})
		}(queue)
	}

	log.Info(ctx, "tail_started", "Tailing durable-log queues",
		map[string]any{"queues": queues})

	for range queues {
		if err := <-errCh; err != nil {
			return fmt.Errorf("consume: %w", err)
		}
	}
	return nil
}
