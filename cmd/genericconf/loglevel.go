// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package genericconf

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

func ToSlogLevel(str string) (slog.Level, error) {
	switch strings.ToLower(str) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		legacyLevel, err := strconv.Atoi(str)
		if err != nil {
			return log.LevelTrace, errors.New("invalid log-level")
		}
		return log.FromLegacyLevel(legacyLevel), nil
	}
}

func HandlerFromLogType(logType string, output io.Writer) (slog.Handler, error) {
	if logType == "plaintext" {
		return log.NewTerminalHandler(output, false), nil
	} else if logType == "json" {
		return log.JSONHandler(output), nil
	}
	return nil, errors.New("invalid log type")
}
