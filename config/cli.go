package config

import (
	"fmt"
	"os"
)

// Cli carries every runtime option for both the HTTP front-end and the stage
// workers. Flags are parsed with ff so each one can also be supplied through
// the MENTOR_UPLOAD_* environment, but the options below that predate that
// convention keep their historical raw variable names (see ParseLegacyEnv).
type Cli struct {
	HTTPAddress         string
	HTTPInternalAddress string

	// object store
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	StaticURLBase     string

	// metadata service
	GraphQLEndpoint string
	APISecret       string

	// transcription service
	TranscribeEndpoint string
	TranscribeAPIKey   string

	// scratch space
	UploadRoot       string
	TranscodeWorkDir string

	// auth
	JWTSecret string

	// fan-out
	SNSTopicArn     string
	SSMTopicArnPath string
	SQSQueueURL     string
	DeploymentStage string

	StatusURLForceHTTPS bool

	// workers
	StageName    string
	WorkerCount  int
	MetricsDBURL string

	LogLevel  string
	LogFormat string
}

// ParseLegacyEnv reads the raw environment variables that deployments set
// directly, without the MENTOR_UPLOAD prefix. Values already set by flags win.
func (cli *Cli) ParseLegacyEnv() {
	ifEmpty(&cli.S3Bucket, os.Getenv("STATIC_AWS_S3_BUCKET"))
	ifEmpty(&cli.S3Region, os.Getenv("STATIC_AWS_REGION"))
	ifEmpty(&cli.S3AccessKeyID, os.Getenv("STATIC_AWS_ACCESS_KEY_ID"))
	ifEmpty(&cli.S3SecretAccessKey, os.Getenv("STATIC_AWS_SECRET_ACCESS_KEY"))
	ifEmpty(&cli.StaticURLBase, os.Getenv("STATIC_URL_BASE"))
	ifEmpty(&cli.GraphQLEndpoint, os.Getenv("GRAPHQL_ENDPOINT"))
	ifEmpty(&cli.APISecret, os.Getenv("API_SECRET"))
	ifEmpty(&cli.UploadRoot, os.Getenv("UPLOAD_ROOT"))
	ifEmpty(&cli.TranscodeWorkDir, os.Getenv("TRANSCODE_WORK_DIR"))
	ifEmpty(&cli.JWTSecret, os.Getenv("JWT_SECRET"))
	ifEmpty(&cli.DeploymentStage, os.Getenv("STAGE"))
	ifEmpty(&cli.SNSTopicArn, os.Getenv("UPLOAD_SNS_ARN"))
	ifEmpty(&cli.SQSQueueURL, os.Getenv("UPLOAD_SQS_URL"))
	ifEmpty(&cli.TranscribeEndpoint, os.Getenv("TRANSCRIBE_ENDPOINT"))
	ifEmpty(&cli.TranscribeAPIKey, os.Getenv("TRANSCRIBE_API_KEY"))
	if cli.SSMTopicArnPath == "" && cli.DeploymentStage != "" {
		cli.SSMTopicArnPath = fmt.Sprintf("/mentorpal/%s/shared/upload_sns_arn", cli.DeploymentStage)
	}
	ifEmpty(&cli.LogLevel, os.Getenv("LOG_LEVEL_UPLOAD_API"))
	ifEmpty(&cli.LogFormat, os.Getenv("LOG_FORMAT_UPLOAD_API"))
	if !cli.StatusURLForceHTTPS {
		cli.StatusURLForceHTTPS = Truthy(os.Getenv("STATUS_URL_FORCE_HTTPS"))
	}
	if cli.UploadRoot == "" {
		cli.UploadRoot = "./uploads"
	}
}

// Validate fails fast on the options the process cannot run without.
func (cli *Cli) Validate() error {
	required := map[string]string{
		"STATIC_AWS_S3_BUCKET":         cli.S3Bucket,
		"STATIC_AWS_REGION":            cli.S3Region,
		"STATIC_AWS_ACCESS_KEY_ID":     cli.S3AccessKeyID,
		"STATIC_AWS_SECRET_ACCESS_KEY": cli.S3SecretAccessKey,
		"GRAPHQL_ENDPOINT":             cli.GraphQLEndpoint,
		"API_SECRET":                   cli.APISecret,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("missing required env var %s", name)
		}
	}
	return nil
}

func ifEmpty(dest *string, value string) {
	if *dest == "" {
		*dest = value
	}
}
