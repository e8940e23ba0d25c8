// Package discovery probes the publisher's distribution area for new or
// updated files. Probes are metadata-only HEAD requests; the persisted
// state only advances after a download is confirmed, so an interrupted
// fetch is re-offered on the next run.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openmaude/maude-etl/internal/models"
)

// Category groups remote files by release cadence.
type Category string

const (
	CategoryCurrent Category = "current"
	CategoryAdd     Category = "add"
	CategoryChange  Category = "change"
	CategoryAnnual  Category = "annual"
)

// RemoteFile is one file the publisher distributes.
type RemoteFile struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
}

// DefaultCatalog lists the publisher's distribution set. Annual archives
// are frozen through the prior year.
func DefaultCatalog(now time.Time) []RemoteFile {
	catalog := []RemoteFile{
		{"mdrfoi.zip", CategoryCurrent},
		{"foidev.zip", CategoryCurrent},
		{"patient.zip", CategoryCurrent},
		{"foitext.zip", CategoryCurrent},
		{"foidevproblem.zip", CategoryCurrent},
		{"patientproblemcode.zip", CategoryCurrent},
		{"mdrfoiadd.zip", CategoryAdd},
		{"foidevadd.zip", CategoryAdd},
		{"patientadd.zip", CategoryAdd},
		{"foitextadd.zip", CategoryAdd},
		{"mdrfoichange.zip", CategoryChange},
		{"foidevchange.zip", CategoryChange},
		{"patientchange.zip", CategoryChange},
		{"foitextchange.zip", CategoryChange},
	}
	prior := now.Year() - 1
	for _, base := range []string{"mdrfoi", "foidev", "patient", "foitext"} {
		catalog = append(catalog, RemoteFile{
			Name:     fmt.Sprintf("%sthru%d.zip", base, prior),
			Category: CategoryAnnual,
		})
	}
	return catalog
}

// ProbeStatus classifies one remote file against the persisted state.
type ProbeStatus string

const (
	StatusNew       ProbeStatus = "new"
	StatusUpdated   ProbeStatus = "updated"
	StatusUnchanged ProbeStatus = "unchanged"
	StatusMissing   ProbeStatus = "missing"
)

// ProbeResult is one file's metadata compared against the state.
type ProbeResult struct {
	File         RemoteFile  `json:"file"`
	Status       ProbeStatus `json:"status"`
	LastModified time.Time   `json:"last_modified,omitempty"`
	SizeBytes    int64       `json:"size_bytes,omitempty"`
	Err          string      `json:"error,omitempty"`
}

// Prober issues the HEAD requests. The worker limit keeps the publisher's
// server from seeing a burst of simultaneous probes.
type Prober struct {
	client  *http.Client
	baseURL string
	workers int
}

func NewProber(baseURL string, workers int, timeout time.Duration) *Prober {
	if workers < 1 {
		workers = 1
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		workers: workers,
	}
}

func (p *Prober) fileURL(name string) string {
	return p.baseURL + "/" + name
}

// ProbeAll probes every catalog file concurrently and classifies each
// against the state. A probe failure is a result, not a run failure.
func (p *Prober) ProbeAll(ctx context.Context, catalog []RemoteFile, state models.DiscoveryState) ([]ProbeResult, error) {
	results := make([]ProbeResult, len(catalog))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, rf := range catalog {
		i, rf := i, rf
		g.Go(func() error {
			results[i] = p.probeOne(gctx, rf, state)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].File.Category != results[j].File.Category {
			return results[i].File.Category < results[j].File.Category
		}
		return results[i].File.Name < results[j].File.Name
	})
	return results, nil
}

func (p *Prober) probeOne(ctx context.Context, rf RemoteFile, state models.DiscoveryState) ProbeResult {
	result := ProbeResult{File: rf}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.fileURL(rf.Name), nil)
	if err != nil {
		result.Status = StatusMissing
		result.Err = err.Error()
		return result
	}
	resp, err := p.client.Do(req)
	if err != nil {
		result.Status = StatusMissing
		result.Err = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusMissing
		result.Err = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	result.SizeBytes = resp.ContentLength
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = t
		}
	}

	known, ok := state[rf.Name]
	switch {
	case !ok:
		result.Status = StatusNew
	case !result.LastModified.IsZero() && result.LastModified.After(known.LastModified):
		result.Status = StatusUpdated
	case result.SizeBytes > 0 && result.SizeBytes != known.SizeBytes:
		result.Status = StatusUpdated
	default:
		result.Status = StatusUnchanged
	}
	return result
}

// Pending filters probe results down to the files worth downloading.
func Pending(results []ProbeResult) []ProbeResult {
	var out []ProbeResult
	for _, r := range results {
		if r.Status == StatusNew || r.Status == StatusUpdated {
			out = append(out, r)
		}
	}
	return out
}
