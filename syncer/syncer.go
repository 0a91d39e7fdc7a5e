package syncer

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/ratelimit"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
	"github.com/cyface-de/uplink/serialization"
	"github.com/cyface-de/uplink/store"
	"github.com/cyface-de/uplink/upload"
)

// DeviceInfo is the device-level metadata attached to every upload.
type DeviceInfo struct {
	ID         string
	Type       string
	OsVersion  string
	AppVersion string
	Modality   string // fallback for measurements recorded without one
}

/**
Syncer owns one upload session over the local store: it walks all FINISHED
measurements strictly sequentially, assembles each into a transfer file,
uploads it and applies the taxonomy's caller action to the measurement's
lifecycle state. Sequential on purpose, to bound memory and keep one
offsetter state per stream.
*/
type Syncer struct {
	Store     store.MeasurementStore
	Assembler *serialization.Assembler
	Uploader  *upload.Uploader
	Tokens    upload.TokenProvider
	Device    DeviceInfo
	Progress  upload.ProgressListener // optional fan-out to UI listeners
	Eh        *common.ExitHelper

	limiter  ratelimit.Limiter
	inflight cmap.ConcurrentMap[string, int64]
	stop     chan struct{}
	stopOnce sync.Once
}

func New(st store.MeasurementStore, asm *serialization.Assembler, up *upload.Uploader,
	tokens upload.TokenProvider, device DeviceInfo, rps int, eh *common.ExitHelper) *Syncer {
	if rps <= 0 {
		rps = 1
	}
	return &Syncer{
		Store:     st,
		Assembler: asm,
		Uploader:  up,
		Tokens:    tokens,
		Device:    device,
		Eh:        eh,
		limiter:   ratelimit.New(rps),
		inflight:  cmap.New[int64](),
		stop:      make(chan struct{}),
	}
}

// Stop makes Run return after the current pass, permanently. Unlike the
// ExitHelper, which re-arms itself once all workers have unwound, Stop is
// one-shot; it is the process-shutdown signal. Call it before ExitHelper.Exit
// so no new pass is scheduled while in-flight I/O is being torn down.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Syncer) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run performs sync passes until Stop is called. interval 0 means one pass.
func (s *Syncer) Run(interval time.Duration) error {
	for {
		if s.stopped() {
			return nil
		}
		if err := s.SyncPass(); err != nil {
			return err
		}
		if interval == 0 {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-s.stop:
			return nil
		}
	}
}

// SyncPass uploads every FINISHED measurement once, in id order. The returned
// error is fatal (programming fault); everything transient is logged and left
// for the next pass.
func (s *Syncer) SyncPass() error {
	measurements, err := s.Store.FinishedMeasurements()
	if err != nil {
		log.Printf("Sync pass skipped: %v\n", err)
		return nil
	}
	for _, m := range measurements {
		if s.stopped() || (s.Eh != nil && s.Eh.IsExit()) {
			log.Printf("Sync pass interrupted\n")
			return nil
		}
		stop, err := s.syncOne(m)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (s *Syncer) syncOne(m model.Measurement) (stop bool, fatal error) {
	key := strconv.FormatInt(m.ID, 10)
	// the temp artifact is exclusively owned by one attempt; a measurement
	// already in flight is never picked up twice
	if !s.inflight.SetIfAbsent(key, m.ID) {
		return false, nil
	}
	defer s.inflight.Remove(key)

	art, err := s.Assembler.Assemble(m.ID)
	if err != nil {
		switch {
		case errors.Is(err, serialization.ErrInterrupted):
			return true, nil
		case errors.Is(err, serialization.ErrInvariant):
			return true, err
		case errors.Is(err, store.ErrDataSourceUnavailable):
			log.Printf("Measurement %d: %v, retrying next pass\n", m.ID, err)
			return false, nil
		default:
			log.Printf("Measurement %d: assembly failed: %v, retrying next pass\n", m.ID, err)
			return false, nil
		}
	}
	defer art.Remove()

	modality := m.Modality
	if modality == "" {
		modality = s.Device.Modality
	}
	meta := upload.RequestMetadata{
		DeviceID:      s.Device.ID,
		MeasurementID: m.ID,
		DeviceType:    s.Device.Type,
		OsVersion:     s.Device.OsVersion,
		AppVersion:    s.Device.AppVersion,
		Length:        art.TrackLength,
		LocationCount: art.Counts[0],
		StartLocation: art.StartLocation,
		EndLocation:   art.EndLocation,
		Modality:      modality,
		FormatVersion: common.TRANSFER_FILE_FORMAT_VERSION,
	}

	token, err := s.Tokens.GetValidToken()
	if err != nil {
		// an account problem stops the whole pass, no measurement would fare better
		log.Printf("No valid token: %v\n", err)
		return true, nil
	}

	reauthed := false
	retriedSession := false
	for {
		s.limiter.Take()
		res, err := s.Uploader.Upload(token, meta, art.Path, s.Progress)
		if err != nil {
			return true, fmt.Errorf("measurement %d: %w", m.ID, err)
		}
		uploadOutcomes.WithLabelValues(res.String()).Inc()

		switch ActionFor(res) {
		case ACTION_MARK_SYNCED:
			uploadedBytes.Add(float64(art.CompressedBytes))
			log.Printf("Measurement %d synced\n", m.ID)
			return false, s.Store.SetStatus(m.ID, common.MEASUREMENT_SYNCED)
		case ACTION_MARK_SKIPPED:
			log.Printf("Measurement %d skipped permanently: %v\n", m.ID, res.Cause)
			return false, s.Store.SetStatus(m.ID, common.MEASUREMENT_SKIPPED)
		case ACTION_RETRY_LATER:
			log.Printf("Measurement %d not uploaded: %v, retrying next pass\n", m.ID, res.Cause)
			return false, nil
		case ACTION_RETRY_NOW:
			if retriedSession {
				log.Printf("Measurement %d: session expired twice, retrying next pass\n", m.ID)
				return false, nil
			}
			retriedSession = true
			continue
		case ACTION_REAUTH:
			if reauthed {
				log.Printf("Measurement %d: still unauthorized after re-login, retrying next pass\n", m.ID)
				return false, nil
			}
			reauthed = true
			s.Tokens.Invalidate()
			token, err = s.Tokens.GetValidToken()
			if err != nil {
				log.Printf("Re-login failed: %v\n", err)
				return true, nil
			}
			continue
		case ACTION_ABORT_PASS:
			return true, nil
		}
	}
}
