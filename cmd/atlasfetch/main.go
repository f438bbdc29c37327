package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Luzifer/rconfig/v2"

	"github.com/openatlas/atlasfetch/atlasfetch"
	"github.com/openatlas/atlasfetch/internal/dirstore"
	s3store "github.com/openatlas/atlasfetch/internal/s3"
	"github.com/openatlas/atlasfetch/mousebrain"
)

var (
	cfg = struct {
		Anonymous       bool   `flag:"anonymous" default:"true" description:"Issue unsigned requests (public buckets need no credentials)"`
		Bucket          string `flag:"bucket,b" default:"allen-mouse-brain-atlas" description:"Bucket to fetch from"`
		CacheDir        string `flag:"cache-dir" default:"./tmp/" description:"Where to store downloaded files"`
		CredentialsFile string `flag:"credentials-file" default:"" description:"AWS accessKeys.csv export to sign requests with"`
		Endpoint        string `flag:"endpoint" default:"" description:"Custom S3-compatible endpoint URL"`
		LogLevel        string `flag:"log-level" default:"info" description:"Log level (debug, info, warn, error, fatal)"`
		Mirror          string `flag:"mirror" default:"" description:"Serve keys from a local bucket mirror directory instead of S3"`
		Region          string `flag:"region" default:"us-west-2" description:"Bucket region"`
		Verify          bool   `flag:"verify" default:"false" description:"Verify cache hits against remote ETags"`
		VersionAndExit  bool   `flag:"version" default:"false" description:"Prints current version and exits"`
	}{}

	version = "dev"
)

func init() {
	rconfig.AutoEnv(true)
	if err := rconfig.ParseAndValidate(&cfg); err != nil {
		log.Fatalf("Unable to parse commandline options: %s", err)
	}

	if cfg.VersionAndExit {
		fmt.Printf("atlasfetch %s\n", version)
		os.Exit(0)
	}

	if l, err := log.ParseLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("Unable to parse log level")
	} else {
		log.SetLevel(l)
	}
}

func main() {
	args := rconfig.Args()[1:]
	if len(args) == 0 {
		log.Fatal("Usage: atlasfetch [options] fetch <key> | metadata <key> | export <key> <out.parquet> | section-image <id> <tissue-index> <downsample> <out>")
	}

	ctx := context.Background()

	fetcher, err := newFetcher(ctx)
	if err != nil {
		log.WithError(err).Fatal("Unable to initialize fetcher")
	}

	switch args[0] {
	case "fetch":
		err = cmdFetch(ctx, fetcher, args[1:])
	case "metadata":
		err = cmdMetadata(ctx, fetcher, args[1:])
	case "export":
		err = cmdExport(ctx, fetcher, args[1:])
	case "section-image":
		err = cmdSectionImage(ctx, fetcher, args[1:])
	default:
		log.Fatalf("Unknown command %q", args[0])
	}

	if err != nil {
		log.WithError(err).Fatal("Command failed")
	}
}

func newFetcher(ctx context.Context) (*atlasfetch.Fetcher, error) {
	var opts []atlasfetch.FetcherOption
	if cfg.Verify {
		opts = append(opts, atlasfetch.WithChecksumVerify())
	}

	if cfg.Mirror != "" {
		store, err := dirstore.New(cfg.Mirror)
		if err != nil {
			return nil, errors.Wrap(err, "opening mirror directory")
		}
		fetcher, err := atlasfetch.NewFetcher(store, cfg.Bucket, cfg.CacheDir, opts...)
		return fetcher, errors.Wrap(err, "creating fetcher")
	}

	clientCfg := s3store.ClientConfig{
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		Anonymous: cfg.Anonymous,
	}

	if cfg.CredentialsFile != "" {
		creds, err := s3store.LoadAccessKeys(cfg.CredentialsFile)
		if err != nil {
			return nil, errors.Wrap(err, "loading credentials file")
		}
		clientCfg.Anonymous = false
		clientCfg.Credentials = creds
	}

	client, err := s3store.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating S3 client")
	}

	store, err := s3store.New(client, s3store.Config{Bucket: cfg.Bucket})
	if err != nil {
		return nil, errors.Wrap(err, "creating store")
	}

	fetcher, err := atlasfetch.NewFetcher(store, cfg.Bucket, cfg.CacheDir, opts...)
	return fetcher, errors.Wrap(err, "creating fetcher")
}

func cmdFetch(ctx context.Context, fetcher *atlasfetch.Fetcher, args []string) error {
	if len(args) != 1 {
		return errors.New("fetch expects exactly one key")
	}

	local, err := fetcher.Fetch(ctx, args[0])
	if err != nil {
		return errors.Wrap(err, "fetching object")
	}

	log.WithFields(log.Fields{
		"key":  args[0],
		"path": local,
	}).Info("Fetched")
	fmt.Println(local)
	return nil
}

func cmdMetadata(ctx context.Context, fetcher *atlasfetch.Fetcher, args []string) error {
	if len(args) != 1 {
		return errors.New("metadata expects exactly one key")
	}

	local, err := fetcher.Fetch(ctx, args[0])
	if err != nil {
		return errors.Wrap(err, "fetching metadata file")
	}

	table, err := atlasfetch.LoadTable(local)
	if err != nil {
		return errors.Wrap(err, "loading metadata table")
	}

	log.WithFields(log.Fields{
		"rows": table.Len(),
		"path": local,
	}).Info("Loaded metadata")
	for _, col := range table.ColumnNames() {
		fmt.Println(col)
	}
	return nil
}

func cmdExport(ctx context.Context, fetcher *atlasfetch.Fetcher, args []string) error {
	if len(args) != 2 {
		return errors.New("export expects a key and an output file")
	}

	local, err := fetcher.Fetch(ctx, args[0])
	if err != nil {
		return errors.Wrap(err, "fetching metadata file")
	}

	table, err := atlasfetch.LoadTable(local)
	if err != nil {
		return errors.Wrap(err, "loading metadata table")
	}

	schema := atlasfetch.InferSchema(table)
	if err := atlasfetch.WriteParquetFile(args[1], table, schema); err != nil {
		return errors.Wrap(err, "writing parquet")
	}

	log.WithFields(log.Fields{
		"rows":    table.Len(),
		"columns": len(schema.Fields),
		"out":     args[1],
	}).Info("Exported metadata")
	return nil
}

func cmdSectionImage(ctx context.Context, fetcher *atlasfetch.Fetcher, args []string) error {
	if len(args) != 4 {
		return errors.New("section-image expects <section-id> <tissue-index> <downsample> <out>")
	}

	sectionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parsing section ID")
	}
	tissueIndex, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.Wrap(err, "parsing tissue index")
	}
	downsample, err := strconv.Atoi(args[2])
	if err != nil {
		return errors.Wrap(err, "parsing downsample tier")
	}

	client, err := mousebrain.NewClient(fetcher)
	if err != nil {
		return errors.Wrap(err, "creating atlas client")
	}

	ds, err := client.OpenSectionDataSet(ctx, sectionID)
	if err != nil {
		return errors.Wrap(err, "loading section data set")
	}

	if err := ds.DownloadImageByTissueIndex(ctx, tissueIndex, downsample, args[3], false); err != nil {
		return errors.Wrap(err, "downloading section image")
	}

	log.WithFields(log.Fields{
		"section":      sectionID,
		"tissue_index": tissueIndex,
		"downsample":   downsample,
		"out":          args[3],
	}).Info("Downloaded section image")
	return nil
}
