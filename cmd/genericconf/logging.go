package genericconf

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var globalFileHandler fileHandler

// fileHandler pumps log records to a lumberjack rotating file through a
// bounded queue, so a slow or full disk can never stall the process.
type fileHandler struct {
	writer  *lumberjack.Logger
	records chan []byte
	cancel  context.CancelFunc
	done    chan struct{}
}

// Write queues p for the background writer. When the queue is full the
// record is dropped silently and Write still reports success.
func (h *fileHandler) Write(p []byte) (int, error) {
	// the handler may reuse p after Write returns
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case h.records <- buf:
	default:
	}
	return len(p), nil
}

// start is not threadsafe
func (h *fileHandler) start(config *FileLoggingConfig, filename string) io.Writer {
	_ = h.close()
	h.writer = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		LocalTime:  config.LocalTime,
		Compress:   config.Compress,
	}
	h.records = make(chan []byte, config.BufSize)
	h.done = make(chan struct{})
	var consumerCtx context.Context
	consumerCtx, h.cancel = context.WithCancel(context.Background())
	records := h.records
	writer := h.writer
	done := h.done
	go func() {
		defer close(done)
		for {
			select {
			case record := <-records:
				_, _ = writer.Write(record)
			case <-consumerCtx.Done():
				return
			}
		}
	}()
	return h
}

// close is not threadsafe
func (h *fileHandler) close() error {
	if h.cancel != nil {
		h.cancel()
		<-h.done
		h.cancel = nil
	}
	if h.writer != nil {
		if err := h.writer.Close(); err != nil {
			return err
		}
		h.writer = nil
	}
	return nil
}

// InitLog is not threadsafe
func InitLog(logType string, logLevel string, fileLoggingConfig *FileLoggingConfig, pathResolver func(string) string) error {
	// always close previous instance of file logger
	if err := globalFileHandler.close(); err != nil {
		return fmt.Errorf("failed to close file writer: %w", err)
	}
	var output io.Writer
	if fileLoggingConfig.Enable {
		output = io.MultiWriter(
			io.Writer(os.Stderr),
			globalFileHandler.start(fileLoggingConfig, pathResolver(fileLoggingConfig.File)),
		)
	} else {
		output = io.Writer(os.Stderr)
	}
	handler, err := HandlerFromLogType(logType, output)
	if err != nil {
		flag.Usage()
		return fmt.Errorf("error parsing log type when creating handler: %w", err)
	}
	slogLevel, err := ToSlogLevel(logLevel)
	if err != nil {
		flag.Usage()
		return fmt.Errorf("error parsing log level: %w", err)
	}

	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(slogLevel)
	log.SetDefault(log.NewLogger(glogger))
	return nil
}
