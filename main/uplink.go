package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/config"
	"github.com/cyface-de/uplink/serialization"
	"github.com/cyface-de/uplink/store"
	"github.com/cyface-de/uplink/syncer"
	"github.com/cyface-de/uplink/upload"
)

func main() {
	configPath := flag.String("config", "uplink.yaml", "path to the YAML configuration")
	once := flag.Bool("once", false, "run a single sync pass and exit")
	verify := flag.String("verify", "", "decode the given transfer file artifact and exit")
	flag.Parse()

	if *verify != "" {
		verifyArtifact(*verify)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration: %v", err)
	}

	st, err := store.Open(cfg.Sync.DatabasePath)
	if err != nil {
		log.Fatalf("Store: %v", err)
	}
	defer st.Close()

	eh := common.NewExitHelper()

	if cfg.Sync.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Sync.MetricsAddr, mux); err != nil {
				log.Printf("Metrics listener: %v\n", err)
			}
		}()
	}

	var tokens upload.TokenProvider
	if cfg.Collector.Token != "" {
		tokens = upload.StaticTokenProvider(cfg.Collector.Token)
	} else {
		tokens = &upload.LoginTokenProvider{
			Endpoint: cfg.Collector.LoginURL,
			Username: cfg.Collector.Username,
			Password: cfg.Collector.Password,
		}
	}

	uploader := upload.NewUploader(cfg.Collector.URL, eh)
	uploader.StallTimeout = cfg.StallTimeout()
	uploader.MaxSize = cfg.Collector.UploadLimitBytes

	s := syncer.New(
		st,
		&serialization.Assembler{Src: st, TempDir: cfg.Sync.TempDir, Eh: eh},
		uploader,
		tokens,
		syncer.DeviceInfo{
			ID:         cfg.Device.ID,
			Type:       cfg.Device.Type,
			OsVersion:  cfg.Device.OsVersion,
			AppVersion: cfg.Device.AppVersion,
			Modality:   cfg.Device.Modality,
		},
		cfg.Collector.RequestsPerSecond,
		eh,
	)

	// Stop comes first so Run schedules no further pass; the ExitHelper then
	// interrupts and drains the in-flight assembly or upload before it re-arms.
	sigC := make(chan os.Signal, 2)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigC
		log.Printf("Received %v, finishing current chunk and exiting\n", sig)
		s.Stop()
		eh.Exit()
		sig = <-sigC
		log.Printf("Received %v again, exiting immediately\n", sig)
		os.Exit(1)
	}()

	interval := cfg.SyncInterval()
	if *once {
		interval = 0
	}
	if err := s.Run(interval); err != nil {
		log.Fatalf("Sync: %v", err)
	}
}

func verifyArtifact(path string) {
	decoded, err := serialization.DecodeTransferFileAt(path)
	if err != nil {
		log.Fatalf("Verify %s: %v", path, err)
	}
	fmt.Printf("format version: %d\n", decoded.FormatVersion)
	fmt.Printf("locations:      %d\n", len(decoded.Locations))
	fmt.Printf("accelerations:  %d\n", len(decoded.Accelerations))
	fmt.Printf("rotations:      %d\n", len(decoded.Rotations))
	fmt.Printf("directions:     %d\n", len(decoded.Directions))
	if n := len(decoded.Locations); n > 0 {
		first, last := decoded.Locations[0], decoded.Locations[n-1]
		fmt.Printf("track:          %d ms, (%f, %f) -> (%f, %f)\n",
			last.Timestamp-first.Timestamp, first.Lat, first.Lon, last.Lat, last.Lon)
	}
}
