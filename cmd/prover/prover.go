// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tesseralabs/arbiter/cmd/genericconf"
	cmdutil "github.com/tesseralabs/arbiter/cmd/util"
	"github.com/tesseralabs/arbiter/cmd/util/confighelpers"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/pubsub"
	"github.com/tesseralabs/arbiter/util"
	"github.com/tesseralabs/arbiter/util/redisutil"
)

var (
	provedCounter       = metrics.NewRegisteredCounter("arbiter/prover/proved", nil)
	proofFailureCounter = metrics.NewRegisteredCounter("arbiter/prover/failures", nil)
)

func printSampleUsage(name string) {
	fmt.Printf("Sample usage: %s --redis-url=<redis url> --workers=4 \n", name)
}

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	config, err := ParseProver(ctx, os.Args[1:])
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}

	pathResolver := genericconf.DefaultPathResolver(config.LogDir)
	err = genericconf.InitLog(config.LogType, config.LogLevel, &config.FileLogging, pathResolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}

	vcsRevision, vcsTime := confighelpers.GetVersion()
	log.Info("Running Tessera proof worker", "revision", vcsRevision, "vcs.time", vcsTime)

	err = cmdutil.StartMetricsAndPProf(&cmdutil.MetricsPProfOpts{
		Metrics:       config.Metrics,
		MetricsServer: config.MetricsServer,
		PProf:         config.PProf,
		PprofCfg:      config.PprofCfg,
	})
	if err != nil {
		log.Error("Error starting metrics", "error", err)
		return 1
	}

	redisClient, err := redisutil.RedisClientFromURL(config.RedisURL)
	if err != nil {
		log.Error("error connecting to redis", "err", err)
		return 1
	}
	if err := pubsub.CreateStream(ctx, config.RedisStream, redisClient); err != nil {
		log.Error("error creating proof request stream", "stream", config.RedisStream, "err", err)
		return 1
	}

	local := proving.NewStubBackend(config.Stub)

	consumer, err := pubsub.NewConsumer[proving.Request, proving.Result](redisClient, config.RedisStream, &config.Consumer)
	if err != nil {
		log.Error("error creating stream consumer", "err", err)
		return 1
	}
	consumer.Start(ctx)
	defer consumer.StopAndWait()

	for i := 0; i < config.Workers; i++ {
		consumer.StopWaiter.LaunchThread(func(ctx context.Context) {
			workLoop(ctx, consumer, local, config.IdleSleep)
		})
	}
	log.Info("proof workers running", "stream", config.RedisStream, "workers", config.Workers)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint
	log.Info("shutting down because of sigint")
	close(sigint)

	return 0
}

// workLoop consumes proof requests until the context dies. Requests are
// answered through the local backend; the result entry written by SetResult
// is what resolves the requesting validator's poll.
func workLoop(ctx context.Context, consumer *pubsub.Consumer[proving.Request, proving.Result], local proving.Backend, idleSleep time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := consumer.Consume(ctx)
		if err != nil {
			log.Error("error consuming proof request", "err", err)
		}
		if msg == nil || err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}
		started := time.Now()
		result := prove(ctx, local, msg.Value)
		if result.Error != "" {
			proofFailureCounter.Inc(1)
			log.Warn("proving failed", "request", msg.Value.ID(), "kind", msg.Value.Kind, "err", result.Error)
		} else {
			provedCounter.Inc(1)
			log.Info("request proven", "request", msg.Value.ID(), "kind", msg.Value.Kind, "artifact", util.Trunc(result.Artifact), "elapsed", time.Since(started))
		}
		if err := consumer.SetResult(ctx, msg.Value.ID(), msg.ID, result); err != nil {
			log.Error("error publishing proof result", "request", msg.Value.ID(), "err", err)
		}
		msg.Ack()
	}
}

// prove runs one request through the local backend to a terminal status.
func prove(ctx context.Context, local proving.Backend, req proving.Request) proving.Result {
	handle, err := local.RequestProof(ctx, req)
	if err != nil {
		return proving.Result{Error: err.Error()}
	}
	for {
		status, err := local.PollProof(ctx, handle)
		if err != nil {
			return proving.Result{Error: err.Error()}
		}
		switch status.State {
		case proving.ProofSucceeded:
			return proving.Result{Artifact: status.Artifact}
		case proving.ProofFailed:
			return proving.Result{Error: status.Reason}
		}
		select {
		case <-ctx.Done():
			return proving.Result{Error: ctx.Err().Error()}
		case <-time.After(time.Second):
		}
	}
}
