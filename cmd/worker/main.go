package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomgraph/loom/internal/db"
	"github.com/loomgraph/loom/internal/queue"
	"github.com/loomgraph/loom/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/loomgraph/loom/pkg/ai"
	oai "github.com/loomgraph/loom/pkg/ai/ollama"
	gai "github.com/loomgraph/loom/pkg/ai/openai"
	"github.com/loomgraph/loom/pkg/docstore"
	"github.com/loomgraph/loom/pkg/graph"
	"github.com/loomgraph/loom/pkg/leaselock"
	"github.com/loomgraph/loom/pkg/logger"
	"github.com/loomgraph/loom/pkg/logger/console"
	"github.com/loomgraph/loom/pkg/store"
	memstore "github.com/loomgraph/loom/pkg/store/memory"
	pgxstore "github.com/loomgraph/loom/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.New(console.Params{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// AI client
	adapter := util.GetEnv("AI_ADAPTER")
	var aiClient ai.Client

	switch adapter {
	case "ollama":
		client, err := oai.New(oai.Params{
			CompletionModel: util.GetEnv("AI_COMPLETION_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
			RequestTimeoutMin:     int(util.GetEnvNumeric("AI_REQUEST_TIMEOUT_MIN", 5)),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = gai.New(gai.Params{
			CompletionModel: util.GetEnv("AI_COMPLETION_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
			RequestTimeoutMin:     int(util.GetEnvNumeric("AI_REQUEST_TIMEOUT_MIN", 5)),
		})
	}

	// Stores. The memory adapter exists for single-process test setups;
	// production runs share state through Postgres.
	var (
		graphs store.GraphStore
		docs   docstore.DocumentStore
		locks  *leaselock.Client
	)
	switch util.GetEnvString("STORE_ADAPTER", "pgx") {
	case "memory":
		graphs = memstore.New()
		docs = docstore.NewMemoryStore()
	default:
		databaseURL := util.GetEnv("DATABASE_URL")
		if err := db.Migrate(databaseURL); err != nil {
			logger.Fatal("Failed to run migrations", "err", err)
		}
		cfg, err := pgxpool.ParseConfig(databaseURL)
		if err != nil {
			logger.Fatal("Failed to parse database config", "err", err)
		}
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pool.Close()
		graphs = pgxstore.NewWithConnection(pool)
		docs = docstore.NewPgxStore(pool)
		locks = leaselock.New(pool)
	}

	builder, err := graph.NewBuilder(graph.NewBuilderParams{
		TokenEncoder:   util.GetEnvString("AI_TOKEN_ENCODER", "o200k_base"),
		MaxChunkTokens: int(util.GetEnvNumeric("AI_MAX_CHUNK_TOKENS", 4000)),
		ParallelChunks: int(util.GetEnvNumeric("AI_PARALLEL_CHUNKS", 4)),
		MaxRetries:     int(util.GetEnvNumeric("AI_MAX_RETRIES", 3)),
		ResolveWithAI:  util.GetEnvBool("AI_RESOLVE", true),
	})
	if err != nil {
		logger.Fatal("Failed to create graph builder", "err", err)
	}

	deps := queue.Deps{
		AIClient: aiClient,
		Docs:     docs,
		Graphs:   graphs,
		Builder:  builder,
		Locks:    locks,
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	logger.Info("Listening for messages")

	concurrency := int(util.GetEnvNumeric("WORKER_CONCURRENCY", 1))
	if concurrency < 1 {
		concurrency = 1
	}

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	// Prefetch matches the processor count so no worker sits on an
	// unclaimed message while another is idle.
	err = consumerCh.Qos(concurrency, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	for i := 0; i < concurrency; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping message processor")
					return
				case qm := <-messageChan:
					startTime := time.Now()
					logger.Info("Received message", "queue", qm.queueName)

					var processingErr error
					switch qm.queueName {
					case queue.BuildQueue, queue.UpdateQueue:
						processingErr = queue.ProcessGraphJob(ctx, deps, string(qm.msg.Body))
					case queue.DeleteQueue:
						processingErr = queue.ProcessDeleteJob(ctx, deps, string(qm.msg.Body))
					}

					// If there was an error send to retry or dead-letter, otherwise ack the message
					if processingErr != nil {
						logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
						handleProcessingError(consumerCh, qm.msg, qm.queueName)
					} else {
						if err := qm.msg.Ack(false); err != nil {
							logger.Error("Failed to ack message", "err", err)
						}
						logger.Info("Message processed successfully", "queue", qm.queueName)
					}

					metrics := aiClient.GetMetrics()
					aiDuration := time.Duration(metrics.DurationMs) * time.Millisecond
					aiHours := int(aiDuration.Hours())
					aiMinutes := int(aiDuration.Minutes()) % 60
					aiSeconds := int(aiDuration.Seconds()) % 60
					logger.Info(
						"AI Metrics",
						"input_tokens", metrics.InputTokens,
						"output_tokens", metrics.OutputTokens,
						"total_tokens", metrics.TotalTokens,
						"duration", fmt.Sprintf("%02d:%02d:%02d", aiHours, aiMinutes, aiSeconds),
					)

					processingDuration := time.Since(startTime)
					hours := int(processingDuration.Hours())
					minutes := int(processingDuration.Minutes()) % 60
					seconds := int(processingDuration.Seconds()) % 60
					logger.Info(
						"Processing time",
						"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
					)
					logger.Info("Waiting for next message")
					aiClient.ResetMetrics()
				}
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// If message has been retried 10 times, send to dead-letter
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "text/plain",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
