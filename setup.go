package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/domgiordano/xomcloud-backend/config"
	"github.com/domgiordano/xomcloud-backend/fileutil"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const downloadLong = `Download a batch of tracks and package them into one zip archive.

The request is a JSON document, read from the named file or from stdin when
the argument is "-":

  {"tracks": [{"id": "123", "url": "https://...", "title": "...", "artist": "..."}]}

By default the archive is uploaded to S3 and a presigned download link is
printed. With --output the archive is written locally instead.

Settings come from flags, XOMCLOUD_* environment variables, the config file
and built-in defaults, in that order. For example:

  XOMCLOUD_S3_BUCKET=my-bucket xomcloud download --concurrency 2 tracks.json`

func newDownloadCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [flags] <requests.json|->",
		Short: "Download a batch of tracks",
		Long:  downloadLong,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("expected exactly one request file, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			body, err := readRequest(args[0], stdin)
			if err != nil {
				return err
			}

			return processRequest(cmd.Context(), cfg, body, output, stdout)
		},
	}

	addFlags(cmd.Flags())
	return cmd
}

// addFlags registers the flags that override config keys. Their defaults are
// only shown in help; unset flags never override other sources.
func addFlags(fs *pflag.FlagSet) {
	fs.Int("concurrency", 4, "maximum number of tracks downloaded at once")
	fs.Duration("deadline", 25*time.Second, "time limit for the whole batch")
	fs.Duration("grace", 2*time.Second, "extra time given to in-flight downloads after the deadline")
	fs.Int("max-tracks", 5, "maximum number of tracks per request")
	fs.String("temp-dir", "", "directory for temporary batch files")
	fs.Duration("http-timeout", 60*time.Second, "timeout for each HTTP request")
	fs.String("log-level", "info", "log level (debug|info|warn|error)")
	fs.String("log-format", "text", "log format (text|json)")
	fs.String("bucket", "xomcloud-downloads", "S3 bucket for archives")
	fs.String("region", "us-east-1", "S3 region")
	fs.String("endpoint", "", "custom S3 endpoint, e.g. for MinIO")
	fs.Bool("path-style", false, "use path-style S3 addressing")
	fs.Duration("presign-expiry", time.Hour, "lifetime of download links")
	fs.String("metrics-textfile", "", "write Prometheus metrics to this file when done")

	fs.StringP("output", "o", "", "write the archive to this file or directory instead of uploading it")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, &usageError{err: err}
	}

	if err := setupLogging(cfg.Log); err != nil {
		return nil, &usageError{err: err}
	}

	log.Debugf("config: concurrency=%d deadline=%s grace=%s max_tracks=%d",
		cfg.Concurrency, cfg.Deadline, cfg.Grace, cfg.MaxTracks)
	return cfg, nil
}

// setupLogging configures the standard logrus logger. Logs always go to
// stderr; stdout carries the JSON response.
func setupLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// readRequest returns the request body named by arg.
func readRequest(arg string, stdin io.Reader) ([]byte, error) {
	if arg == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return b, nil
	}

	if !fileutil.FileExists(arg) || fileutil.IsDir(arg) {
		return nil, usageErrorf("request file not found: %s", arg)
	}
	return os.ReadFile(arg)
}
