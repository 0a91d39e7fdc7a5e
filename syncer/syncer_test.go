package syncer_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
	"github.com/cyface-de/uplink/serialization"
	"github.com/cyface-de/uplink/store"
	"github.com/cyface-de/uplink/syncer"
	"github.com/cyface-de/uplink/upload"
)

func seededStore(t *testing.T) (*store.Sqlite, int64) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	id, err := st.CreateMeasurement("BICYCLE")
	if err != nil {
		t.Fatalf("create measurement: %v", err)
	}
	for i := 0; i < 4; i++ {
		acc := int32(600)
		err := st.AppendLocation(id, model.GeoLocation{
			Timestamp: int64(1000 + i*1000), Lat: 51.05 + float64(i)*0.001, Lon: 13.72, Speed: 4, Accuracy: &acc,
		})
		if err != nil {
			t.Fatalf("append location: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		err := st.AppendPoint3D(common.STREAM_ACCELERATION, id, model.Point3D{
			Timestamp: int64(1000 + i*100), X: 0.1, Y: 0.2, Z: 9.8,
		})
		if err != nil {
			t.Fatalf("append acceleration: %v", err)
		}
	}
	if err := st.SetStatus(id, common.MEASUREMENT_FINISHED); err != nil {
		t.Fatalf("finish: %v", err)
	}
	return st, id
}

func newTestSyncer(t *testing.T, st *store.Sqlite, collectorURL string) *syncer.Syncer {
	t.Helper()
	tempDir := t.TempDir()
	return syncer.New(
		st,
		&serialization.Assembler{Src: st, TempDir: tempDir},
		upload.NewUploader(collectorURL, nil),
		upload.StaticTokenProvider("test-token"),
		syncer.DeviceInfo{ID: "dev-1", Type: "test", OsVersion: "1", AppVersion: "1"},
		100, // don't slow the tests down with pacing
		nil,
	)
}

func collector(t *testing.T, putStatus int, gotArtifact *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Header().Set("Location", "http://"+r.Host+"/upload/s1")
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			if gotArtifact != nil {
				*gotArtifact = body
			}
			w.WriteHeader(putStatus)
		}
	}))
}

func statusOf(t *testing.T, st *store.Sqlite, id int64) uint {
	t.Helper()
	status, err := st.Status(id)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	return status
}

// stubStore serves one in-memory measurement through the store contract,
// for scenarios the SQLite store cannot produce (empty modality, shutdown
// raced against the measurement listing).
type stubStore struct {
	m        model.Measurement
	locs     []model.GeoLocation
	statuses map[int64]uint
	onList   func() // runs inside FinishedMeasurements
}

func (s *stubStore) FinishedMeasurements() ([]model.Measurement, error) {
	if s.onList != nil {
		s.onList()
	}
	return []model.Measurement{s.m}, nil
}

func (s *stubStore) SetStatus(measurementID int64, status uint) error {
	if s.statuses == nil {
		s.statuses = map[int64]uint{}
	}
	s.statuses[measurementID] = status
	return nil
}

func (s *stubStore) FetchLocationPage(measurementID int64, offset, limit int) ([]model.GeoLocation, error) {
	if offset >= len(s.locs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.locs) {
		end = len(s.locs)
	}
	return s.locs[offset:end], nil
}

func (s *stubStore) FetchPoint3DPage(kind uint, measurementID int64, offset, limit int) ([]model.Point3D, error) {
	return nil, nil
}

func (s *stubStore) CountRows(kind uint, measurementID int64) (int, error) {
	if kind == common.STREAM_LOCATION {
		return len(s.locs), nil
	}
	return 0, nil
}

func TestSyncPassUploadsAndMarksSynced(t *testing.T) {
	st, id := seededStore(t)
	var uploaded []byte
	srv := collector(t, http.StatusCreated, &uploaded)
	defer srv.Close()

	s := newTestSyncer(t, st, srv.URL)
	if err := s.SyncPass(); err != nil {
		t.Fatalf("sync pass: %v", err)
	}

	if got := statusOf(t, st, id); got != common.MEASUREMENT_SYNCED {
		t.Fatalf("status %#x after successful upload, want SYNCED", got)
	}

	// the uploaded artifact must decode back to the stored samples
	tmp, err := os.CreateTemp(t.TempDir(), "received-*.cyf.gz")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	tmp.Write(uploaded)
	tmp.Close()
	decoded, err := serialization.DecodeTransferFileAt(tmp.Name())
	if err != nil {
		t.Fatalf("decode received artifact: %v", err)
	}
	if len(decoded.Locations) != 4 || len(decoded.Accelerations) != 10 {
		t.Fatalf("received %d locations and %d accelerations, want 4 and 10",
			len(decoded.Locations), len(decoded.Accelerations))
	}
	if decoded.Locations[0].Timestamp != 1000 || decoded.Locations[3].Timestamp != 4000 {
		t.Fatalf("decoded timestamps %d..%d, want 1000..4000",
			decoded.Locations[0].Timestamp, decoded.Locations[3].Timestamp)
	}
}

func TestSyncPassMarksUnparsableSkipped(t *testing.T) {
	st, id := seededStore(t)
	srv := collector(t, http.StatusUnprocessableEntity, nil)
	defer srv.Close()

	s := newTestSyncer(t, st, srv.URL)
	if err := s.SyncPass(); err != nil {
		t.Fatalf("sync pass: %v", err)
	}
	if got := statusOf(t, st, id); got != common.MEASUREMENT_SKIPPED {
		t.Fatalf("status %#x after a 422, want SKIPPED", got)
	}
	// a second pass has nothing to do and must not touch the collector
	srv.Close()
	if err := s.SyncPass(); err != nil {
		t.Fatalf("second pass: %v", err)
	}
}

func TestSyncPassLeavesMeasurementForRetryOnServerError(t *testing.T) {
	st, id := seededStore(t)
	srv := collector(t, 0, nil)
	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	s := newTestSyncer(t, st, srv.URL)
	if err := s.SyncPass(); err != nil {
		t.Fatalf("sync pass: %v", err)
	}
	if statusOf(t, st, id) != common.MEASUREMENT_FINISHED {
		t.Fatalf("transient failure must leave the measurement FINISHED for the next pass")
	}
}

// Shutdown is a one-shot signal: once Stop and a completed ExitHelper.Exit
// ran, Run must return even though the helper has re-armed itself for the
// next worker generation.
func TestRunStopsWhenShutdownRequested(t *testing.T) {
	eh := common.NewExitHelper()
	st := &stubStore{m: model.Measurement{ID: 1, Status: common.MEASUREMENT_FINISHED, Modality: "BICYCLE"}}

	var s *syncer.Syncer
	st.onList = func() {
		s.Stop()
		eh.Exit()
	}
	s = syncer.New(
		st,
		&serialization.Assembler{Src: st, TempDir: t.TempDir(), Eh: eh},
		upload.NewUploader("http://collector.invalid", eh),
		upload.StaticTokenProvider("t"),
		syncer.DeviceInfo{ID: "dev-1", Type: "test", OsVersion: "1", AppVersion: "1"},
		100,
		eh,
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(time.Hour) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept looping after Stop and a completed interrupt")
	}
	if len(st.statuses) != 0 {
		t.Fatalf("interrupted pass still touched lifecycle states: %v", st.statuses)
	}
}

// A measurement recorded without a modality is uploaded under the device's
// configured default.
func TestSyncPassFallsBackToDeviceModality(t *testing.T) {
	var mu sync.Mutex
	var gotModality string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			mu.Lock()
			gotModality = r.Header.Get("modality")
			mu.Unlock()
			w.Header().Set("Location", "http://"+r.Host+"/upload/s1")
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	st := &stubStore{m: model.Measurement{ID: 7, Status: common.MEASUREMENT_FINISHED}}
	s := syncer.New(
		st,
		&serialization.Assembler{Src: st, TempDir: t.TempDir()},
		upload.NewUploader(srv.URL, nil),
		upload.StaticTokenProvider("t"),
		syncer.DeviceInfo{ID: "dev-1", Type: "test", OsVersion: "1", AppVersion: "1", Modality: "BICYCLE"},
		100,
		nil,
	)
	if err := s.SyncPass(); err != nil {
		t.Fatalf("sync pass: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotModality != "BICYCLE" {
		t.Fatalf("modality header %q, want the device default BICYCLE", gotModality)
	}
	if st.statuses[7] != common.MEASUREMENT_SYNCED {
		t.Fatalf("status %#x after successful upload, want SYNCED", st.statuses[7])
	}
}

func TestSyncPassCleansUpTempArtifacts(t *testing.T) {
	st, _ := seededStore(t)
	srv := collector(t, http.StatusCreated, nil)
	defer srv.Close()

	tempDir := t.TempDir()
	s := syncer.New(
		st,
		&serialization.Assembler{Src: st, TempDir: tempDir},
		upload.NewUploader(srv.URL, nil),
		upload.StaticTokenProvider("t"),
		syncer.DeviceInfo{ID: "dev-1", Type: "test", OsVersion: "1", AppVersion: "1"},
		100,
		nil,
	)
	if err := s.SyncPass(); err != nil {
		t.Fatalf("sync pass: %v", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("%d temp artifacts left behind after the pass", len(entries))
	}
}
