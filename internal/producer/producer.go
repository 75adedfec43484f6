// Package producer publishes restock messages through the Kafka console producer.
package producer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/storedemo/internal/metrics"
)

// LogFileName is appended to by every producer invocation.
const LogFileName = "kafka-producer.log"

type Config struct {
	Bin     string // kafka-console-producer.sh
	Broker  string // host:port
	Topic   string
	LogsDir string
}

// Producer runs one console-producer process per message.
type Producer struct {
	cfg     Config
	logPath string
	log     *logrus.Entry

	// the log file is shared between invocations
	mu sync.Mutex
}

func New(cfg Config) (*Producer, error) {
	if strings.TrimSpace(cfg.Bin) == "" {
		return nil, errors.New("producer bin is required")
	}
	if strings.TrimSpace(cfg.Broker) == "" || strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("broker and topic are required")
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = "."
	}
	return &Producer{
		cfg:     cfg,
		logPath: filepath.Join(cfg.LogsDir, LogFileName),
		log:     logrus.WithField("component", "producer"),
	}, nil
}

// Publish pipes qty to the producer's stdin and waits for it to exit.
// A failure to launch is returned; a non-zero exit is only logged.
func (p *Producer) Publish(ctx context.Context, qty int) error {
	msg := strconv.Itoa(qty)
	p.log.Infof("TO KAFKA ==> %s", msg)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.cfg.LogsDir, 0o755); err != nil {
		metrics.ProducerFailures.Add(1)
		return fmt.Errorf("mkdir logs dir: %w", err)
	}
	logFile, err := os.OpenFile(p.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		metrics.ProducerFailures.Add(1)
		return fmt.Errorf("open producer log: %w", err)
	}
	defer logFile.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, p.cfg.Bin, "--broker-list", p.cfg.Broker, "--topic", p.cfg.Topic)
	cmd.Stdin = strings.NewReader(msg)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		metrics.ProducerFailures.Add(1)
		return fmt.Errorf("start producer: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		metrics.ProducerFailures.Add(1)
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			p.log.Warnf("producer exited with code %d", ee.ExitCode())
		} else {
			p.log.Warnf("producer wait: %v", err)
		}
		return nil
	}
	metrics.RestockMessages.Add(1)
	return nil
}

// LogPath is where producer output is appended.
func (p *Producer) LogPath() string { return p.logPath }
