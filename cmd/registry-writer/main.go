package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"

	"mockstagram-data-pipeline/internal/broker"
	"mockstagram-data-pipeline/internal/config"
	"mockstagram-data-pipeline/internal/models"
)

// 运维工具：向 membership 流批量写入活跃账号事件
// mockstagram 的账号 pk 范围是 1000000 到 1999999
func main() {
	startPK := flag.Int64("start", 1000000, "first influencer pk (inclusive)")
	endPK := flag.Int64("end", 1000099, "last influencer pk (inclusive)")
	deactivate := flag.Bool("deactivate", false, "publish active=false events instead")
	flag.Parse()

	if *endPK < *startPK {
		log.Fatalf("end pk %d is before start pk %d", *endPK, *startPK)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	redisClient := broker.NewClient(&cfg.Redis)
	if err := broker.Ping(ctx, redisClient); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer broker.Close(redisClient)

	published := 0
	for pk := *startPK; pk <= *endPK; pk++ {
		event := models.Influencer{
			PK:       pk,
			Username: fmt.Sprintf("influencer_%d", pk),
			Active:   !*deactivate,
		}

		if _, err := broker.PublishJSONToStream(ctx, redisClient, cfg.Streams.ActiveInfluencers, strconv.FormatInt(pk, 10), event); err != nil {
			log.Fatalf("Failed to publish membership event for pk=%d: %v", pk, err)
		}
		published++
	}

	log.Printf("Published %d membership events to %s", published, cfg.Streams.ActiveInfluencers)
}
