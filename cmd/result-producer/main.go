// Command result-producer publishes match results to the results topic, the
// same way a game server does when a match ends.
//
//	result-producer -match 6f1c... -winner alice
//	printf 'm-1 alice\nm-2 bob\n' | result-producer
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/tournament-engine/internal/kafka"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-results", "Kafka topic")
	matchID := flag.String("match", "", "Match ID (reads \"match_id winner_user_id\" lines from stdin when empty)")
	winner := flag.String("winner", "", "Winner user ID")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigChan
		close(done)
	}()

	send := func(result kafka.ResultMessage) bool {
		data, err := json.Marshal(result)
		if err != nil {
			log.Printf("Failed to marshal result: %v", err)
			return true
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(result.MatchID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
			return true
		case <-done:
			return false
		}
	}

	if *matchID != "" {
		if *winner == "" {
			log.Fatal("-winner is required with -match")
		}
		send(kafka.ResultMessage{MatchID: *matchID, WinnerUserID: *winner})
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		line := 0
		for scanner.Scan() {
			line++
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}
			if len(fields) != 2 {
				log.Printf("line %d: expected \"match_id winner_user_id\", skipping", line)
				continue
			}
			if !send(kafka.ResultMessage{MatchID: fields[0], WinnerUserID: fields[1]}) {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("Failed to read stdin: %v", err)
		}
	}

	producer.AsyncClose()
	wg.Wait()
	fmt.Printf("Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	if atomic.LoadInt64(&errorCount) > 0 {
		os.Exit(1)
	}
}
