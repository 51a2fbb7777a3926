package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/config"
	"github.com/mentorpal/mentor-upload-api/errors"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/metrics"
	"github.com/mentorpal/mentor-upload-api/pipeline"
	"github.com/mentorpal/mentor-upload-api/pprof"
	"github.com/mentorpal/mentor-upload-api/task"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
)

// receiveBackoff is how long a worker sleeps after a failed queue poll
// before trying again.
const receiveBackoff = 5 * time.Second

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("mentor-upload-worker", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// worker parameters
	fs.StringVar(&cli.StageName, "stage-name", "", "Pipeline stage this worker runs: transcoding-web, transcoding-mobile, transcribing or trim-upload")
	fs.IntVar(&cli.WorkerCount, "worker-count", 2, "Number of concurrent stage executions")
	fs.StringVar(&cli.SQSQueueURL, "sqs-queue-url", "", "URL of the SQS queue subscribed to the upload topic for this stage")
	fs.StringVar(&cli.TranscodeWorkDir, "transcode-work-dir", "", "Parent directory for per-stage scratch dirs")
	fs.StringVar(&cli.MetricsDBURL, "metrics-db-connection-string", "", "Connection string to use for the metrics Postgres DB. Takes the form: host=X port=X user=X password=X dbname=X")
	promPort := fs.Int("prom-port", 2112, "Prometheus metrics listen port")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")

	// object store
	fs.StringVar(&cli.S3Bucket, "s3-bucket", "", "S3 bucket holding answer media")
	fs.StringVar(&cli.S3Region, "s3-region", "", "AWS region of the media bucket")
	fs.StringVar(&cli.S3AccessKeyID, "s3-access-key-id", "", "AWS access key for the media bucket")
	fs.StringVar(&cli.S3SecretAccessKey, "s3-secret-access-key", "", "AWS secret key for the media bucket")

	// metadata service
	fs.StringVar(&cli.GraphQLEndpoint, "graphql-endpoint", "", "URL of the mentor GraphQL service")
	fs.StringVar(&cli.APISecret, "api-secret", "", "Shared secret for the mentor GraphQL service")

	// transcription service
	fs.StringVar(&cli.TranscribeEndpoint, "transcribe-endpoint", "", "URL of the speech transcription service")
	fs.StringVar(&cli.TranscribeAPIKey, "transcribe-api-key", "", "API key for the speech transcription service")

	fs.StringVar(&cli.LogLevel, "log-level", "", "Log level (debug enables debug logging)")
	fs.StringVar(&cli.LogFormat, "log-format", "", "Log format: json, verbose or simple")

	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("MENTOR_UPLOAD"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	cli.ParseLegacyEnv()
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("mentor-upload-worker version: %s", config.Version)
		return
	}
	if err := cli.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %s", err)
	}
	if cli.SQSQueueURL == "" {
		glog.Fatal("missing required env var UPLOAD_SQS_URL")
	}

	log.Configure(cli.LogFormat, cli.LogLevel)

	go func() {
		stdlog.Println(pprof.ListenAndServe(*pprofPort))
	}()

	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}

	store, err := clients.NewS3ObjectStore(clients.S3Options{
		Bucket:          cli.S3Bucket,
		Region:          cli.S3Region,
		AccessKeyID:     cli.S3AccessKeyID,
		AccessKeySecret: cli.S3SecretAccessKey,
		StaticURLBase:   cli.StaticURLBase,
	})
	if err != nil {
		glog.Fatalf("Error creating object store client: %v", err)
	}
	metadata := clients.NewMetadataClient(cli.GraphQLEndpoint, cli.APISecret)
	queue, err := clients.NewSQSQueue(clients.QueueOptions{
		Region:          cli.S3Region,
		AccessKeyID:     cli.S3AccessKeyID,
		AccessKeySecret: cli.S3SecretAccessKey,
		QueueURL:        cli.SQSQueueURL,
	})
	if err != nil {
		glog.Fatalf("Error creating queue client: %v", err)
	}

	runner := &pipeline.Runner{Metadata: metadata, Store: store, WorkRoot: cli.TranscodeWorkDir}
	stageFn, err := stageFunc(runner, &cli)
	if err != nil {
		glog.Fatal(err)
	}

	// Emit high-cardinality metrics to a Postgres database if configured
	var metricsDB *sql.DB
	if cli.MetricsDBURL != "" {
		metricsDB, err = sql.Open("postgres", cli.MetricsDBURL)
		if err != nil {
			glog.Fatalf("Error creating postgres metrics connection: %v", err)
		}

		// Without this, we've run into issues with exceeding our open connection limit
		metricsDB.SetMaxOpenConns(2)
		metricsDB.SetMaxIdleConns(2)
		metricsDB.SetConnMaxLifetime(time.Hour)
	} else {
		glog.Info("Postgres metrics connection string was not set, postgres metrics are disabled.")
	}
	recorder := metrics.NewStageRecorder(metricsDB)

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return metrics.ListenAndServe(*promPort)
	})

	for i := 0; i < cli.WorkerCount; i++ {
		group.Go(func() error {
			consumeLoop(ctx, queue, runner, recorder, cli.StageName, stageFn)
			return nil
		})
	}

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func stageFunc(runner *pipeline.Runner, cli *config.Cli) (pipeline.StageFunc, error) {
	switch cli.StageName {
	case task.StageTranscodeWeb:
		return runner.TranscodeWebStage, nil
	case task.StageTranscodeMobile:
		return runner.TranscodeMobileStage, nil
	case task.StageTrimUpload:
		return runner.TrimUploadStage, nil
	case task.StageTranscribe:
		if cli.TranscribeEndpoint == "" {
			return nil, fmt.Errorf("transcribing worker requires TRANSCRIBE_ENDPOINT")
		}
		transcriber := clients.NewTranscribeClient(cli.TranscribeEndpoint, cli.TranscribeAPIKey)
		return runner.TranscribeStage(transcriber), nil
	default:
		return nil, fmt.Errorf("unknown stage name %q", cli.StageName)
	}
}

// consumeLoop long-polls the stage queue until the context is cancelled.
// Messages are deleted once handled; a retriable stage failure leaves the
// message for redelivery so the queue's own retry and DLQ policy applies.
func consumeLoop(ctx context.Context, queue clients.Queue, runner *pipeline.Runner, recorder *metrics.StageRecorder, stageName string, fn pipeline.StageFunc) {
	for ctx.Err() == nil {
		messages, err := queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Errorf("error receiving upload jobs: %v", err)
			select {
			case <-time.After(receiveBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range messages {
			start := time.Now()
			err := runner.RunStage(ctx, msg.Job, stageName, fn)
			recorder.RecordStage(msg.Job.Mentor, msg.Job.Question, stageName, taskIDFor(msg.Job, stageName), time.Since(start), err)
			if err != nil && !errors.IsUnretriable(err) {
				// leave the message for redelivery
				continue
			}
			if err := queue.Delete(ctx, msg.ReceiptHandle); err != nil {
				glog.Errorf("error acking upload job: %v", err)
			}
		}
	}
}

func taskIDFor(job task.Job, stageName string) string {
	if entry := job.StageEntry(stageName); entry != nil {
		return entry.TaskID
	}
	return ""
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			if s == syscall.SIGTERM {
				glog.Infof("Got SIGTERM, shutting down...")
				return nil
			}
			glog.Infof("Got signal %d, shutting down...", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
