package main

import (
	"context"
	"errors"
	"os"

	pw "github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kmllr/harcap/pkg/capture"
	"github.com/kmllr/harcap/pkg/config"
	"github.com/kmllr/harcap/pkg/har"
	"github.com/kmllr/harcap/pkg/helper"
)

var log = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var cfgFile string
	var verbose bool

	cmd := &cobra.Command{
		Use:           "harcap",
		Short:         "Record a browser session's network traffic into a HAR 1.2 file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			if cfgFile != "" {
				if err := cfg.LoadFile(afero.NewOsFs(), cfgFile); err != nil {
					return err
				}
			}
			if err := cfg.LoadEnv(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.TargetURL == "" {
				return errors.New("missing -u URL")
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.TargetURL, "url", "u", "", "URL to process")
	flags.StringVarP(&cfg.Header, "header", "H", cfg.Header, `custom headers, "Header1: Value1; Header2: Value2"`)
	flags.StringVarP(&cfg.Proxy, "proxy", "p", "", "optional proxy (http://127.0.0.1:8080)")
	flags.StringVar(&cfg.OutputPath, "har", cfg.OutputPath, "HAR output file")
	flags.StringVar(&cfg.StreamPath, "stream", "", "write entries incrementally to this HAR file instead of saving at stop")
	flags.BoolVar(&cfg.ForceNative, "native", false, "skip the CDP strategy, capture via the driver's network API")
	flags.Int64Var(&cfg.MaxBodySize, "max-body", cfg.MaxBodySize, "response body capture ceiling in bytes")
	flags.DurationVar(&cfg.TotalTimeout, "ttotal", cfg.TotalTimeout, "timeout for the total processing")
	flags.DurationVar(&cfg.NavTimeout, "tnav", cfg.NavTimeout, "timeout for navigation")
	flags.BoolVar(&cfg.Headless, "headless", cfg.Headless, "run the browser headless")
	flags.StringVar(&cfgFile, "config", "", "YAML config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.TotalTimeout)
	defer cancel()

	// ---- Playwright Setup ----
	pwRunner, err := pw.Run()
	if err != nil {
		return err
	}
	defer pwRunner.Stop() //nolint:errcheck

	launchOpts := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(cfg.Headless),
	}
	if cfg.Proxy != "" {
		launchOpts.Proxy = &pw.Proxy{Server: cfg.Proxy}
	}

	browser, err := pwRunner.Chromium.Launch(launchOpts)
	if err != nil {
		return err
	}
	defer browser.Close() //nolint:errcheck

	browserCtx, err := browser.NewContext(pw.BrowserNewContextOptions{
		ExtraHttpHeaders:  helper.ParseHeaderFlag(cfg.Header),
		IgnoreHttpsErrors: pw.Bool(true),
	})
	if err != nil {
		return err
	}
	defer browserCtx.Close() //nolint:errcheck

	page, err := browserCtx.NewPage()
	if err != nil {
		return err
	}

	// ---- CAPTURE ----
	sess := capture.NewSession(capture.Options{
		Page:           page,
		ForceNative:    cfg.ForceNative,
		MaxBodySize:    cfg.MaxBodySize,
		StreamPath:     cfg.StreamPath,
		CreatorName:    cfg.CreatorName,
		CreatorVersion: cfg.CreatorVersion,
		Logger:         log,
	})
	defer sess.Dispose()

	if err := sess.Start(ctx, "page_1", cfg.TargetURL); err != nil {
		return err
	}
	log.WithField("strategy", sess.ActiveStrategyName()).Info("recording")

	if err := capture.Navigate(page, cfg.TargetURL, cfg.NavTimeout); err != nil {
		// Non-fatal, keep whatever traffic was captured so far.
		log.WithError(err).Warn("navigation did not settle")
	}

	var doc *har.HAR
	if cfg.StreamPath != "" {
		doc, err = sess.Stop(ctx)
	} else {
		doc, err = sess.StopAndSave(ctx, cfg.OutputPath)
	}
	if err != nil {
		return err
	}

	if res := har.Validate(doc); !res.IsValid() {
		for _, f := range res.Findings {
			log.Warn(f.String())
		}
	}

	out := cfg.OutputPath
	if cfg.StreamPath != "" {
		out = cfg.StreamPath
	}
	log.WithFields(logrus.Fields{"entries": len(doc.Log.Entries), "file": out}).Info("done, HAR saved")
	return nil
}
