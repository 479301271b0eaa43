package main

import (
	"context"
	"flag"
	"time"

	"flashsale/internal/broker"
	"flashsale/internal/config"
	"flashsale/internal/model"
	"flashsale/internal/producer"
	"flashsale/pkg/log"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path")
		goodsID    = flag.Int64("goods", 0, "goods id to purchase")
		userID     = flag.Int64("user", 0, "user id making the attempt")
		nickname   = flag.String("nickname", "", "optional user nickname")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	log.Init(log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stdout",
	})

	if cfg.Broker.Driver == "memory" {
		log.Fatal("The memory broker is single-process; the producer CLI needs the rabbitmq driver")
	}

	queueBroker, err := broker.NewRabbitMQBroker(cfg.Broker)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to broker")
	}
	defer queueBroker.Close()

	attempt := &model.PurchaseAttempt{
		GoodsID: *goodsID,
		User:    model.UserRef{ID: *userID, Nickname: *nickname},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := producer.NewProducer(queueBroker).Submit(ctx, attempt); err != nil {
		log.WithError(err).Fatal("Failed to submit purchase attempt")
	}
}
