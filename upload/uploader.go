package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cyface-de/uplink/common"
)

// ProgressListener receives the cumulative percentage (0..100) after each
// streamed chunk, on the worker goroutine. Monotonically non-decreasing and
// exactly 100.0 when the body finished streaming.
type ProgressListener func(percent float64)

var errAborted = errors.New("upload aborted by interrupt")

/**
Uploader drives one upload attempt through the two protocol stages:

	1. pre-request: POST to the measurements endpoint with all request
	   metadata as headers; the collector answers with the upload session
	   URI in the Location header.
	2. streaming: PUT the compressed transfer file against the session URI
	   in bounded chunks, reporting progress after each chunk.

Expected server conditions come back inside the Result, never as a Go error;
the error return is reserved for caller bugs and local I/O faults.
*/
type Uploader struct {
	Endpoint     string // measurements endpoint of the collector
	Client       *http.Client
	Eh           *common.ExitHelper // optional, polled at chunk boundaries
	StallTimeout time.Duration      // 0 disables the stall watchdog
	MaxSize      int64              // server upload limit in bytes, 0 = unknown
}

func NewUploader(endpoint string, eh *common.ExitHelper) *Uploader {
	return &Uploader{
		Endpoint:     endpoint,
		Client:       &http.Client{},
		Eh:           eh,
		StallTimeout: 60 * time.Second,
	}
}

// Upload performs one attempt for the artifact at path. The returned error
// is non-nil only for local misconfiguration (bad metadata, unreadable
// file); every expected network/server condition is a typed Result cause.
func (u *Uploader) Upload(token string, meta RequestMetadata, path string, progress ProgressListener) (Result, error) {
	if err := meta.Validate(); err != nil {
		return Result{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat artifact: %w", err)
	}
	size := fi.Size()

	if u.MaxSize > 0 && size > u.MaxSize {
		return skipped(newApiError(KindMeasurementTooLarge, 0,
			fmt.Sprintf("artifact is %s, limit is %s",
				humanize.Bytes(uint64(size)), humanize.Bytes(uint64(u.MaxSize))), nil)), nil
	}

	if u.Eh != nil {
		u.Eh.Add()
		defer u.Eh.Done()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if u.Eh != nil {
		exitC := u.Eh.C
		go func() {
			select {
			case <-exitC:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	log.Printf("Uploading measurement %d (%s) to %s\n",
		meta.MeasurementID, humanize.Bytes(uint64(size)), u.Endpoint)

	sessionURI, result, done := u.preRequest(ctx, token, meta, size)
	if done {
		return result, nil
	}
	return u.streamBody(ctx, cancel, token, sessionURI, f, size, progress), nil
}

// preRequest announces the upload and negotiates the session URI. done is
// true when the attempt already has its final Result (error, or 409 which
// means the measurement is on the server and counts as success).
func (u *Uploader) preRequest(ctx context.Context, token string, meta RequestMetadata, size int64) (string, Result, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, nil)
	if err != nil {
		return "", failed(newApiError(KindServerUnavailable, 0, "bad endpoint", err)), true
	}
	meta.apply(req.Header)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-upload-content-length", strconv.FormatInt(size, 10))

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", failed(u.classifyTransport(err, false)), true
	}
	defer resp.Body.Close()
	body := readSmallBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		uri := resp.Header.Get("Location")
		if uri == "" {
			return "", failed(newApiError(KindUnexpectedResponseCode, resp.StatusCode,
				"pre-request response without session URI", nil)), true
		}
		return uri, Result{}, false
	case http.StatusConflict:
		// already on the server, caller marks it synced
		return "", successful(), true
	case http.StatusRequestEntityTooLarge:
		return "", skipped(mapStatus(resp.StatusCode, body)), true
	default:
		return "", failed(mapStatus(resp.StatusCode, body)), true
	}
}

// streamBody PUTs the artifact against the session URI in bounded chunks.
func (u *Uploader) streamBody(ctx context.Context, cancel context.CancelFunc, token, sessionURI string,
	f *os.File, size int64, progress ProgressListener) Result {

	body := &chunkedBody{f: f, total: size, progress: progress, eh: u.Eh}
	var stalled func() bool
	if u.StallTimeout > 0 {
		wd := common.NewWatchDog(u.StallTimeout)
		defer wd.Stop()
		body.wd = wd
		stalled = wd.IsTriggered
		go func() {
			select {
			case <-wd.C:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, body)
	if err != nil {
		return failed(newApiError(KindUploadSessionExpired, 0, "bad session URI", err))
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.Client.Do(req)
	if err != nil {
		if body.interrupted {
			return failed(newApiError(KindSynchronizationInterrupted, 0, "interrupted while streaming", err))
		}
		if stalled != nil && stalled() {
			return failed(newApiError(KindNetworkUnavailable, 0,
				fmt.Sprintf("no progress for %v, transfer stalled", u.StallTimeout), err))
		}
		return failed(u.classifyTransport(err, true))
	}
	defer resp.Body.Close()
	respBody := readSmallBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return successful()
	case http.StatusConflict:
		return successful()
	case http.StatusNotFound:
		// the negotiated session is gone; retry negotiates a fresh one
		return failed(newApiError(KindUploadSessionExpired, resp.StatusCode, respBody, nil))
	case http.StatusRequestEntityTooLarge:
		return skipped(mapStatus(resp.StatusCode, respBody))
	default:
		return failed(mapStatus(resp.StatusCode, respBody))
	}
}

// classifyTransport maps a failed round trip onto the taxonomy. midBody
// distinguishes a connection that never came up from one lost mid-transfer.
func (u *Uploader) classifyTransport(err error, midBody bool) *ApiError {
	if errors.Is(err, errAborted) || errors.Is(err, context.Canceled) {
		return newApiError(KindSynchronizationInterrupted, 0, "interrupted", err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newApiError(KindHostUnresolvable, 0, dnsErr.Error(), err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return newApiError(KindServerUnavailable, 0, opErr.Error(), err)
	}
	if midBody {
		return newApiError(KindNetworkUnavailable, 0, err.Error(), err)
	}
	return newApiError(KindServerUnavailable, 0, err.Error(), err)
}

func classifyTransport(err error, midBody bool) *ApiError {
	return (&Uploader{}).classifyTransport(err, midBody)
}

// mapStatus translates an HTTP status into its taxonomy kind. Anything not
// in the expected set escalates as UnexpectedResponseCode, never as a
// silent success or failure.
func mapStatus(code int, body string) *ApiError {
	kind := KindUnexpectedResponseCode
	switch code {
	case http.StatusBadRequest:
		kind = KindBadRequest
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusConflict:
		kind = KindConflict
	case http.StatusRequestEntityTooLarge:
		kind = KindMeasurementTooLarge
	case http.StatusUnprocessableEntity:
		kind = KindEntityNotParsable
	case http.StatusPreconditionRequired:
		kind = KindAccountNotActivated
	case http.StatusTooManyRequests:
		kind = KindTooManyRequests
	case http.StatusInternalServerError:
		kind = KindInternalServerError
	}
	return newApiError(kind, code, body, nil)
}

func readSmallBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	io.Copy(io.Discard, r)
	return string(b)
}

// chunkedBody streams the artifact in chunks of at most UPLOAD_CHUNK_BYTES,
// polling the interrupt flag and poking the stall watchdog per chunk.
type chunkedBody struct {
	f           *os.File
	total       int64
	sent        int64
	progress    ProgressListener
	eh          *common.ExitHelper
	wd          interface{ Poke() }
	interrupted bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.eh != nil && b.eh.IsExit() {
		b.interrupted = true
		return 0, errAborted
	}
	if len(p) > common.UPLOAD_CHUNK_BYTES {
		p = p[:common.UPLOAD_CHUNK_BYTES]
	}
	n, err := b.f.Read(p)
	if n > 0 {
		b.sent += int64(n)
		if b.wd != nil {
			b.wd.Poke()
		}
		if b.progress != nil && b.total > 0 {
			pct := 100.0
			if b.sent < b.total {
				pct = float64(b.sent) * 100.0 / float64(b.total)
			}
			b.progress(pct)
		}
	}
	return n, err
}
