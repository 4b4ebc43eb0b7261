package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"gallery2disk/pkg/config"
	"gallery2disk/pkg/crawler"
	"gallery2disk/pkg/fetch"
	applog "gallery2disk/pkg/log"
	"gallery2disk/pkg/storage"
	"gallery2disk/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsageTo(os.Stderr)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		os.Exit(runCrawl(os.Args[2:], os.Stderr))
	case "validate":
		os.Exit(runValidate(os.Args[2:], os.Stdout, os.Stderr))
	case "version":
		fmt.Printf("gallery2disk %s\n", version)
	case "-h", "--help", "help":
		printUsageTo(os.Stdout)
	default:
		// Bare URL form: gallery2disk <gallery-url>
		if strings.HasPrefix(os.Args[1], "http://") || strings.HasPrefix(os.Args[1], "https://") {
			os.Exit(runCrawl(os.Args[1:], os.Stderr))
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsageTo(os.Stderr)
		os.Exit(1)
	}
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `gallery2disk - Recover a photo gallery from the Wayback Machine

Usage:
  gallery2disk crawl [options] <gallery-front-page-url>
  gallery2disk <gallery-front-page-url>

Commands:
  crawl       Download every album, image and comment thread of a gallery
  validate    Validate configuration file
  version     Show version info

Run 'gallery2disk <command> -h' for command-specific help.`)
}

// crawlOptions holds the parsed crawl command line
type crawlOptions struct {
	configFile      string
	logLevel        string
	outputDir       string
	cacheDir        string
	contentBefore   string
	delay           time.Duration
	writeVisitedLog bool
	baseURL         string

	set map[string]bool // Flags given explicitly, these override the config file
}

// parseCrawlArgs parses the crawl flags and the single gallery URL argument
func parseCrawlArgs(args []string, stderr io.Writer) (*crawlOptions, error) {
	opts := &crawlOptions{set: map[string]bool{}}

	fs := flag.NewFlagSet("crawl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configFile, "config", "", "Path to YAML config file (optional)")
	fs.StringVar(&opts.logLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	fs.StringVar(&opts.outputDir, "output", "", "Output directory (overrides output_dir)")
	fs.StringVar(&opts.cacheDir, "cache", "", "Cache directory (overrides cache_dir)")
	fs.StringVar(&opts.contentBefore, "before", "", "Use snapshots at or before YYYYMMDD (overrides content_before)")
	fs.DurationVar(&opts.delay, "delay", 0, "Minimum gap between network requests (overrides request_delay)")
	fs.BoolVar(&opts.writeVisitedLog, "write-visited-log", false, "Write visited albums and images log on completion")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gallery2disk crawl [options] <gallery-front-page-url>\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExample:\n  gallery2disk crawl -before 20080101 http://example.com/gallery/\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one gallery front-page URL is required")
		fs.Usage()
		return nil, fmt.Errorf("expected 1 URL argument, got %d", fs.NArg())
	}
	opts.baseURL = fs.Arg(0)
	return opts, nil
}

// applyOverrides copies explicitly given flags onto the loaded config
func applyOverrides(cfg *config.AppConfig, opts *crawlOptions) {
	if opts.set["output"] {
		cfg.OutputDir = opts.outputDir
	}
	if opts.set["cache"] {
		cfg.CacheDir = opts.cacheDir
	}
	if opts.set["before"] {
		cfg.ContentBefore = opts.contentBefore
	}
	if opts.set["delay"] {
		cfg.RequestDelay = opts.delay
	}
}

// runCrawl handles the crawl subcommand and returns the process exit code
func runCrawl(args []string, stderr io.Writer) int {
	opts, err := parseCrawlArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	return executeCrawl(opts, stderr)
}

func executeCrawl(opts *crawlOptions, stderr io.Writer) int {
	logger, err := applog.New(stderr, opts.logLevel)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", opts.logLevel, err)
	}
	log := logrus.NewEntry(logger)

	// --- Configuration ---
	appCfg, err := config.LoadFile(opts.configFile)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	applyOverrides(appCfg, opts)
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	base, err := url.ParseRequestURI(opts.baseURL)
	if err != nil || base.Host == "" {
		log.Errorf("Invalid gallery URL '%s'", opts.baseURL)
		return 1
	}

	// --- Context & Signal Handling ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, base.Hostname(), log)
	if err != nil {
		log.Errorf("Failed to initialize crawl ledger: %v", err)
		return 1
	}
	defer store.Close()
	go store.RunGC(ctx, 10*time.Minute)

	// --- HTTP Fetching Components ---
	cache, err := fetch.NewDiskCache(appCfg.CacheDir, log.WithField("component", "cache"))
	if err != nil {
		log.Errorf("Failed to initialize cache: %v", err)
		return 1
	}
	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	rateLimiter := fetch.NewRateLimiter(appCfg.RequestDelay, log.WithField("component", "ratelimit"))
	fetcher := fetch.NewCachedFetcher(httpClient, cache, rateLimiter, appCfg.UserAgent, log.WithField("component", "fetch"))

	// --- Crawler ---
	crawlerInstance, err := crawler.New(appCfg, fetcher, store, log)
	if err != nil {
		log.Errorf("Failed to initialize crawler: %v", err)
		return 1
	}

	_, err = crawlerInstance.Run(ctx, opts.baseURL)
	log.WithFields(logrus.Fields{
		"network_calls": fetcher.NetworkCalls(),
		"cache_hits":    fetcher.CacheHits(),
	}).Info("Fetch statistics")

	// --- Post-Crawl ---
	if opts.writeVisitedLog {
		visitedPath := filepath.Join(appCfg.OutputDir, utils.SafeDirName(base.Hostname())+"-visited.txt")
		if writeErr := store.WriteVisitedLog(visitedPath); writeErr != nil {
			log.Errorf("Error writing visited log: %v", writeErr)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Crawl cancelled.")
			return 0
		}
		log.Errorf("Crawl finished with error: %v", err)
		return 1
	}
	log.Info("Crawl completed successfully.")
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gallery2disk validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	return doValidate(*configFile, stdout, stderr)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Entry) {
	log.Infof("Config: OutputDir:%s, CacheDir:%s, StateDir:%s",
		appCfg.OutputDir, appCfg.CacheDir, appCfg.StateDir)
	log.Infof("Config Archive: ContentBefore:%s, RequestDelay:%v, Availability:%s",
		appCfg.ContentBefore, appCfg.RequestDelay, appCfg.AvailabilityURL)
	log.Infof("Config Gallery: AlbumListPagePath:'%s', GalleryPageParam:'%s', MaxAlbumDepth:%d, CommentTimeZone:%s",
		appCfg.AlbumListPagePath, appCfg.GalleryPageParam, appCfg.MaxAlbumDepth, appCfg.CommentTimeZone)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
