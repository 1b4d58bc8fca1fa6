// Command bagger runs the archive assembly server. It accepts archive
// requests over HTTP, packages the named files into a checksummed BagIt zip,
// and delivers the zip to a local or s3:// destination.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	raven "github.com/getsentry/raven-go"

	"github.com/ndlib/bagger/archive"
	"github.com/ndlib/bagger/server"
	"github.com/ndlib/bagger/transfer"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to a TOML configuration file")
		port       = flag.String("port", "", "port to listen on (overrides config)")
		workspace  = flag.String("workspace", "", "workspace root directory (overrides config)")
	)
	flag.Parse()

	config, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalln("config:", err)
	}
	if *port != "" {
		config.PortNumber = *port
	}
	if *workspace != "" {
		config.Workspace = *workspace
	}
	if err := config.validate(); err != nil {
		log.Fatalln("config:", err)
	}

	if dsn := config.sentryDSN(); dsn != "" {
		raven.SetDSN(dsn)
		log.Println("Sentry DSN found, errors will be reported")
	} else {
		log.Println("No Sentry DSN found, errors will not be reported")
	}

	adapter := transfer.NewAdapter()
	if config.ChunkSizeMB > 0 {
		adapter.ChunkSize = config.ChunkSizeMB * 1024 * 1024
	}
	if config.Concurrency > 0 {
		adapter.Concurrency = config.Concurrency
	}
	adapter.Endpoint = config.S3Endpoint

	archiver := archive.New(config.Workspace)
	archiver.Transfer = adapter
	if config.ContactName != "" {
		archiver.Metadata = map[string]string{"Contact-Name": config.ContactName}
	}

	s := &server.Server{
		PortNumber:  config.PortNumber,
		Secret:      config.ChallengeSecret,
		MaxInFlight: config.MaxInFlight,
		Archiver:    archiver,
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Stopping server")
		s.Stop()
	}()

	if err := s.Run(); err != nil {
		log.Fatalln(err)
	}
}
