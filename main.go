package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/mentorpal/mentor-upload-api/api"
	"github.com/mentorpal/mentor-upload-api/clients"
	"github.com/mentorpal/mentor-upload-api/config"
	"github.com/mentorpal/mentor-upload-api/handlers"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/mentorpal/mentor-upload-api/metrics"
	"github.com/mentorpal/mentor-upload-api/pipeline"
	"github.com/mentorpal/mentor-upload-api/pprof"
	"github.com/mentorpal/mentor-upload-api/transfer"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("mentor-upload-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:5000", "Address to bind for the upload HTTP API")
	promPort := fs.Int("prom-port", 2112, "Prometheus metrics listen port")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")

	// object store
	fs.StringVar(&cli.S3Bucket, "s3-bucket", "", "S3 bucket holding answer media")
	fs.StringVar(&cli.S3Region, "s3-region", "", "AWS region of the media bucket")
	fs.StringVar(&cli.S3AccessKeyID, "s3-access-key-id", "", "AWS access key for the media bucket")
	fs.StringVar(&cli.S3SecretAccessKey, "s3-secret-access-key", "", "AWS secret key for the media bucket")
	fs.StringVar(&cli.StaticURLBase, "static-url-base", "", "Public URL prefix for stored media")

	// metadata service
	fs.StringVar(&cli.GraphQLEndpoint, "graphql-endpoint", "", "URL of the mentor GraphQL service")
	fs.StringVar(&cli.APISecret, "api-secret", "", "Shared secret for the mentor GraphQL service")

	// fan-out
	fs.StringVar(&cli.SNSTopicArn, "sns-topic-arn", "", "ARN of the upload fan-out topic; resolved from SSM when empty")
	fs.StringVar(&cli.SSMTopicArnPath, "ssm-topic-arn-path", "", "SSM parameter holding the fan-out topic ARN")
	fs.StringVar(&cli.DeploymentStage, "stage", "", "Deployment stage name, used to derive the SSM parameter path")

	// local scratch and auth
	fs.StringVar(&cli.UploadRoot, "upload-root", "", "Scratch directory for spooling uploads")
	fs.StringVar(&cli.JWTSecret, "jwt-secret", "", "Symmetric key for verifying access tokens")
	fs.BoolVar(&cli.StatusURLForceHTTPS, "status-url-force-https", false, "Rewrite http to https in returned status URLs")

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
		fmt.Printf("mentor-upload-api version: %s", config.Version)
		return
	}
	if err := cli.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %s", err)
	}
	if cli.JWTSecret == "" {
		glog.Fatal("missing required env var JWT_SECRET")
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
	publisher, err := clients.NewSNSPublisher(clients.PublisherOptions{
		Region:          cli.S3Region,
		AccessKeyID:     cli.S3AccessKeyID,
		AccessKeySecret: cli.S3SecretAccessKey,
		TopicArn:        cli.SNSTopicArn,
		TopicArnSSMPath: cli.SSMTopicArnPath,
	})
	if err != nil {
		glog.Fatalf("Error creating fan-out publisher: %v", err)
	}

	dispatcher := &pipeline.Dispatcher{
		Metadata:            metadata,
		Store:               store,
		Publisher:           publisher,
		UploadRoot:          cli.UploadRoot,
		StatusURLForceHTTPS: cli.StatusURLForceHTTPS,
	}
	uploadHandlers := &handlers.UploadHandlersCollection{
		Dispatcher:  dispatcher,
		Metadata:    metadata,
		Store:       store,
		Transferrer: &transfer.Transferrer{Metadata: metadata, Store: store},
	}

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli.HTTPAddress, cli.JWTSecret, uploadHandlers)
	})

	group.Go(func() error {
		return metrics.ListenAndServe(*promPort)
	})

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
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
