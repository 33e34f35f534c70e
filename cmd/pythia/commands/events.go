package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/pythia/internal/events"
	"github.com/cuongbtq/pythia/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// EventsAction tails job transitions published by session services
func EventsAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	rc := app.Config.Events.RabbitMQ
	queue := cmd.String("queue")
	if queue == "" {
		queue = rc.Queue.Name
	}
	exclusive := rc.Queue.Exclusive
	if queue == "" {
		queue = "pythia.events." + uuid.NewString()
		exclusive = true
	}
	binding := cmd.String("binding")
	if binding == "" {
		binding = rc.BindingKey
	}
	if binding == "" {
		binding = "job.#"
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               rc.Host,
		Port:               rc.Port,
		User:               rc.User,
		Password:           rc.Password,
		VHost:              rc.VHost,
		ExchangeName:       rc.Exchange.Name,
		ExchangeType:       rc.Exchange.Type,
		ExchangeDurable:    rc.Exchange.Durable,
		ExchangeAutoDelete: rc.Exchange.AutoDelete,
		QueueName:          queue,
		QueueDurable:       rc.Queue.Durable,
		QueueAutoDelete:    rc.Queue.AutoDelete || exclusive,
		QueueExclusive:     exclusive,
		BindingKey:         binding,
		RetryAttempts:      rc.Connection.RetryAttempts,
		RetryInterval:      rc.Connection.RetryInterval,
		Heartbeat:          rc.Connection.Heartbeat,
	}, app.Logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer client.Close()

	deliveries, err := client.Consume("pythia-cli")
	if err != nil {
		return err
	}

	app.Logger.Info("Tailing job events", slog.String("queue", queue), slog.String("binding", binding))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			msg, err := events.Decode(d.Body)
			if err != nil {
				app.Logger.Warn("Skipping malformed event", slog.Any("error", err))
				continue
			}
			line := fmt.Sprintf("%s  session=%s job=%s %s -> %s",
				msg.At.Format("15:04:05"), msg.SessionID, msg.JobID, msg.From, msg.To)
			if msg.Error != "" {
				line += "  error=" + msg.Error
			}
			fmt.Fprintln(app.Out, line)
		}
	}
}
