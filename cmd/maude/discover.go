package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmaude/maude-etl/internal/config"
	"github.com/openmaude/maude-etl/internal/discovery"
	"github.com/openmaude/maude-etl/pkg/checksum"
)

var discoverDownload bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe the publisher for new or updated files",
	Long: `Discover issues metadata-only HEAD probes against the publisher's
distribution area and compares each file to the persisted discovery
state. With --download, new and updated files are fetched and extracted
into the data directory; the state only advances after a download
completes, so interrupted fetches stay pending.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverDownload, "download", false, "download and extract new or updated files")
	rootCmd.AddCommand(discoverCmd)
}

// runDiscover needs no database; it builds its own config instead of the
// shared setup.
func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	state, err := discovery.LoadState(cfg.DiscoveryStatePath)
	if err != nil {
		return err
	}

	prober := discovery.NewProber(cfg.BaseURL, cfg.NumProbeWorkers, time.Duration(cfg.ProbeTimeoutSeconds)*time.Second)
	catalog := discovery.DefaultCatalog(time.Now())

	log.Printf("Probing %d remote files at %s...", len(catalog), cfg.BaseURL)
	results, err := prober.ProbeAll(cmd.Context(), catalog, state)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	for _, r := range results {
		switch r.Status {
		case discovery.StatusMissing:
			log.Printf("WARN: %-28s [%s] probe failed: %s", r.File.Name, r.File.Category, r.Err)
		default:
			log.Printf("%-28s [%s] %s", r.File.Name, r.File.Category, r.Status)
		}
	}

	pending := discovery.Pending(results)
	if len(pending) == 0 {
		log.Println("Everything is up to date.")
		return nil
	}
	log.Printf("%d files are new or updated.", len(pending))

	if !discoverDownload {
		log.Println("Run again with --download to fetch them.")
		return nil
	}

	for _, r := range pending {
		log.Printf("Downloading %s...", r.File.Name)
		archivePath, err := prober.Download(cmd.Context(), r.File, cfg.DataDir)
		if err != nil {
			log.Printf("ERROR: %v", err)
			continue
		}
		extracted, err := discovery.ExtractArchive(archivePath, cfg.DataDir)
		if err != nil {
			log.Printf("ERROR: Failed to extract %s: %v", r.File.Name, err)
			continue
		}

		sum, err := checksum.GetFileChecksum(archivePath)
		if err != nil {
			log.Printf("WARN: Could not checksum %s: %v", r.File.Name, err)
		}
		discovery.ConfirmDownloaded(state, r, time.Now(), sum)
		if err := discovery.SaveState(cfg.DiscoveryStatePath, state); err != nil {
			return err
		}
		log.Printf("Downloaded %s: %d files extracted", r.File.Name, len(extracted))
	}

	log.Println("Discovery finished.")
	return nil
}
