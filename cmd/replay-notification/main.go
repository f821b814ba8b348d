// Command replay-notification runs a single stored object through
// Decoder -> Parser -> Transformer and prints the resulting
// measurements as JSON lines to stdout. It never touches the work
// queue or the delivery stream, making it safe to run against
// production objects for debugging a specific notification.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/route-beacon/wifi-transformer/internal/decode"
	"github.com/route-beacon/wifi-transformer/internal/objectstore"
	"github.com/route-beacon/wifi-transformer/internal/scandata"
	"github.com/route-beacon/wifi-transformer/internal/transform"
	"github.com/route-beacon/wifi-transformer/internal/validate"
)

func main() {
	var (
		bucket   = flag.String("bucket", "", "object store bucket (mutually exclusive with -file)")
		key      = flag.String("key", "", "object key within -bucket")
		file     = flag.String("file", "", "path to a local file holding the raw notification payload (mutually exclusive with -bucket/-key)")
		region   = flag.String("region", "us-east-1", "AWS region for the S3 client")
		rawInput = flag.Bool("raw", false, "treat -file contents as already-decoded JSON, skipping Decoder")
	)
	flag.Parse()

	if *file == "" && (*bucket == "" || *key == "") {
		fmt.Fprintln(os.Stderr, "usage: replay-notification (-bucket B -key K | -file PATH) [-raw] [-region R]")
		os.Exit(1)
	}

	raw, err := fetchPayload(*bucket, *key, *file, *region)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch failed: %v\n", err)
		os.Exit(1)
	}

	jsonText := string(raw)
	if !*rawInput {
		jsonText, err = decode.Decode(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "decode failed: %v\n", err)
			os.Exit(1)
		}
	}

	sd, err := scandata.Parse(jsonText)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse failed: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	validator := validate.New(
		validate.Limits{MinRSSI: -100, MaxRSSI: 0, MaxLocationAccuracy: 150},
		validate.HotspotConfig{},
	)
	transformer := transform.New(validator, transform.Weights{Connected: 2.0, Scan: 1.0, LowLinkSpeed: 0.5}, logger, nil)

	measurements := transformer.Transform(sd, "replay")

	enc := json.NewEncoder(os.Stdout)
	for _, m := range measurements {
		if err := enc.Encode(m); err != nil {
			fmt.Fprintf(os.Stderr, "encode failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Fprintf(os.Stderr, "replayed %d measurement(s) from %d source record(s)\n",
		len(measurements), len(sd.ConnectedEvents)+len(sd.ScanResults))
}

func fetchPayload(bucket, key, file, region string) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := objectstore.New(s3.NewFromConfig(awsCfg))
	return client.Get(ctx, bucket, key)
}
