package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/internal/bankd/hal"
)

func serve(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// gatedServer sends the first half of body, then waits for release.
type gatedServer struct {
	*httptest.Server
	release chan struct{}
	once    sync.Once
}

func serveGated(t *testing.T, body []byte) *gatedServer {
	t.Helper()
	g := &gatedServer{release: make(chan struct{})}
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		half := len(body) / 2
		_, _ = w.Write(body[:half])
		w.(http.Flusher).Flush()
		select {
		case <-g.release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write(body[half:])
	}))
	t.Cleanup(func() {
		g.Release()
		g.Server.Close()
	})
	return g
}

func (g *gatedServer) Release() { g.once.Do(func() { close(g.release) }) }

func TestUpdateSuccess(t *testing.T) {
	h := newHarness(t, clock.WallClock, func(cfg *Config) {
		cfg.ConfigFiles = []string{"/etc/hostname"}
	})
	require.NoError(t, os.MkdirAll(filepath.Join(h.hal.BankDir(core.BankA), "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.hal.BankDir(core.BankA), "etc/hostname"), []byte("device-7\n"), 0o644))

	srv := serveGated(t, imageArtifact(t, "2024-06-01"))
	before := h.reg.Snapshot()

	job, err := h.pipe.Start(context.Background(), Request{URL: srv.URL + "/fw.tar.zst"})
	require.NoError(t, err)
	assert.Equal(t, core.BankB, job.Target)
	assert.NotEmpty(t, job.ID)

	// Half the artifact is in: progress is visible and still within the download span.
	require.Eventually(t, func() bool {
		pr := h.pipe.Status().Progress
		return pr != nil && *pr > downloadStart
	}, 5*time.Second, 5*time.Millisecond)
	st := h.pipe.Status()
	assert.Equal(t, StateDownloading, st.Phase)
	require.NotNil(t, st.Progress)
	assert.Less(t, *st.Progress, verifyStart)

	srv.Release()
	st = h.waitIdle(t)
	assert.Nil(t, st.Progress)
	assert.Empty(t, st.LastError)

	snap := h.reg.Snapshot()
	assert.Equal(t, core.BankA, snap.OurBank)
	assert.Equal(t, before.DesiredBank, snap.DesiredBank)
	assert.Equal(t, "2024-06-01", snap.Other().Version)
	require.NotNil(t, snap.Other().ExtractTime)
	assert.False(t, snap.Other().Incomplete)

	root := h.hal.BankDir(core.BankB)
	hostname, err := os.ReadFile(filepath.Join(root, "etc/hostname"))
	require.NoError(t, err)
	assert.Equal(t, "device-7\n", string(hostname))

	info, err := hal.ReadBankInfo(root)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", info.Version)
	assert.NotNil(t, info.ExtractTime)

	fstab, err := os.Open(filepath.Join(root, "etc/fstab"))
	require.NoError(t, err)
	defer fstab.Close()
	bank, err := hal.DefaultLayout().DetectFromFstab(fstab)
	require.NoError(t, err)
	assert.Equal(t, core.BankB, bank)

	link, err := os.Readlink(filepath.Join(root, "bin"))
	require.NoError(t, err)
	assert.Equal(t, "usr/bin", link)

	staged, err := os.ReadDir(h.pipe.cfg.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestSecondUpdateRejectedWhileRunning(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)
	srv := serveGated(t, imageArtifact(t, "v2"))

	_, err := h.pipe.Start(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	_, err = h.pipe.Start(context.Background(), Request{URL: srv.URL})
	assert.True(t, errors.Is(err, core.ErrUpdateInProgress))

	// The bank is held by the job.
	err = h.reg.FormatOtherBank(context.Background(), h.hal.FormatBank)
	assert.True(t, errors.Is(err, core.ErrBankBusy))

	srv.Release()
	st := h.waitIdle(t)
	assert.Empty(t, st.LastError)
	assert.Equal(t, "v2", h.reg.Snapshot().Other().Version)
}

func TestConcurrentStartsAcceptExactlyOne(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)
	srv := serveGated(t, imageArtifact(t, "v2"))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.pipe.Start(context.Background(), Request{URL: srv.URL})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, core.ErrUpdateInProgress) || errors.Is(err, core.ErrBankBusy), err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)

	srv.Release()
	h.waitIdle(t)
}

func TestUpdateRunningBankIsInvalidTarget(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)
	before := h.reg.Snapshot()

	_, err := h.pipe.Start(context.Background(), Request{URL: "http://example.invalid/fw", Target: ptr.To(core.BankA)})
	assert.True(t, errors.Is(err, core.ErrInvalidTarget))
	assert.True(t, h.pipe.Idle())
	assert.Equal(t, before, h.reg.Snapshot())

	_, err = h.pipe.Start(context.Background(), Request{URL: "http://example.invalid/fw", Target: ptr.To(core.BankID("Q"))})
	assert.True(t, errors.Is(err, core.ErrInvalidBank))
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"no url", Request{}},
		{"username only", Request{URL: "http://h/fw", Username: ptr.To("u")}},
		{"password only", Request{URL: "http://h/fw", Password: ptr.To("p")}},
		{"unsupported scheme", Request{URL: "ftp://h/fw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.pipe.Start(context.Background(), tt.req)
			assert.True(t, errors.Is(err, core.ErrInvalidRequest), err)
			assert.True(t, h.pipe.Idle())
		})
	}
}

func TestBasicAuthIsSent(t *testing.T) {
	body := imageArtifact(t, "v3")
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	h := newHarness(t, clock.WallClock, nil)
	_, err := h.pipe.Start(context.Background(), Request{URL: srv.URL, Username: ptr.To("ops"), Password: ptr.To("s3cret")})
	require.NoError(t, err)

	st := h.waitIdle(t)
	assert.Empty(t, st.LastError)
	assert.Equal(t, "ops", gotUser)
	assert.Equal(t, "s3cret", gotPass)
}

func TestFailedDownloadLeavesBankUntouched(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)

	// Install a first image so there is something to preserve.
	_, err := h.pipe.Start(context.Background(), Request{URL: serve(t, imageArtifact(t, "v1")).URL})
	require.NoError(t, err)
	h.waitIdle(t)
	before := h.reg.Snapshot()
	require.Equal(t, "v1", before.Other().Version)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	_, err = h.pipe.Start(context.Background(), Request{URL: deadURL + "/fw.tar.zst"})
	require.NoError(t, err)

	st := h.waitIdle(t)
	assert.True(t, strings.HasPrefix(st.LastError, "download failed: "), st.LastError)
	assert.Nil(t, st.Progress)
	assert.Equal(t, before, h.reg.Snapshot())

	// Reported once.
	assert.Empty(t, h.pipe.Status().LastError)

	// The pipeline accepts new work.
	_, err = h.pipe.Start(context.Background(), Request{URL: serve(t, imageArtifact(t, "v2")).URL})
	require.NoError(t, err)
	h.waitIdle(t)
	assert.Equal(t, "v2", h.reg.Snapshot().Other().Version)
}

func TestHTTPErrorStatusFailsDownload(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := h.pipe.Start(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	st := h.waitIdle(t)
	assert.Contains(t, st.LastError, "download failed")
	assert.Contains(t, st.LastError, "401")
}

func TestVerificationFailures(t *testing.T) {
	tests := []struct {
		name     string
		artifact func(t *testing.T) []byte
		detail   string
	}{
		{
			name:     "not zstd",
			artifact: func(t *testing.T) []byte { return []byte("definitely not an archive") },
		},
		{
			name: "missing version marker",
			artifact: func(t *testing.T) []byte {
				return buildArtifact(t, entry{name: "etc/os-release", body: "x"})
			},
			detail: hal.VersionFile,
		},
		{
			name: "path traversal",
			artifact: func(t *testing.T) []byte {
				return buildArtifact(t,
					entry{name: hal.VersionFile, body: "v"},
					entry{name: "../../etc/passwd", body: "root::0:0"},
				)
			},
			detail: "escapes",
		},
		{
			name: "write through symlink",
			artifact: func(t *testing.T) []byte {
				return buildArtifact(t,
					entry{name: hal.VersionFile, body: "v"},
					entry{name: "lib", typeflag: '2', linkname: "/usr/lib"},
					entry{name: "lib/evil.so", body: "x"},
				)
			},
			detail: "symlink",
		},
		{
			name: "duplicate name over symlink",
			artifact: func(t *testing.T) []byte {
				return buildArtifact(t,
					entry{name: hal.VersionFile, body: "v"},
					entry{name: "./evil", typeflag: '2', linkname: "/etc/passwd"},
					entry{name: "./evil", body: "PWNED\n"},
				)
			},
			detail: "duplicate",
		},
		{
			name: "hard link through symlink",
			artifact: func(t *testing.T) []byte {
				return buildArtifact(t,
					entry{name: hal.VersionFile, body: "v"},
					entry{name: "etc", typeflag: '2', linkname: "/etc"},
					entry{name: "shadow", typeflag: '1', linkname: "etc/shadow"},
				)
			},
			detail: "symlink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, clock.WallClock, nil)
			marker := filepath.Join(h.hal.BankDir(core.BankB), "keep-me")
			require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))
			before := h.reg.Snapshot()

			_, err := h.pipe.Start(context.Background(), Request{URL: serve(t, tt.artifact(t)).URL})
			require.NoError(t, err)

			st := h.waitIdle(t)
			assert.True(t, strings.HasPrefix(st.LastError, "verification failed: "), st.LastError)
			assert.Contains(t, st.LastError, tt.detail)
			assert.Equal(t, before, h.reg.Snapshot())
			assert.FileExists(t, marker)
		})
	}
}

func TestStalledDownloadFails(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := newHarness(t, clk, nil)
	srv := serveGated(t, imageArtifact(t, "v2"))

	_, err := h.pipe.Start(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	// Let the first half arrive, then let the watchdog fire.
	require.Eventually(t, func() bool {
		pr := h.pipe.Status().Progress
		return pr != nil && *pr > 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, clk.WaitAdvance(11*time.Second, 5*time.Second, 1))

	st := h.waitIdle(t)
	assert.Contains(t, st.LastError, "download failed: stalled")
	assert.False(t, h.reg.Snapshot().Other().Populated())
}

func TestCloseCancelsRunningJob(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)
	srv := serveGated(t, imageArtifact(t, "v2"))

	_, err := h.pipe.Start(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, h.pipe.Close())
	assert.True(t, h.pipe.Idle())
	_, held := h.reg.Claimed(core.BankB)
	assert.False(t, held)

	_, err = h.pipe.Start(context.Background(), Request{URL: srv.URL})
	assert.Error(t, err)
}

func TestCloseRacingStartDoesNotPanic(t *testing.T) {
	h := newHarness(t, clock.WallClock, nil)
	srv := serveGated(t, imageArtifact(t, "v2"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, func() {
				_, _ = h.pipe.Start(context.Background(), Request{URL: srv.URL})
			})
		}()
	}
	require.NoError(t, h.pipe.Close())
	wg.Wait()

	_, err := h.pipe.Start(context.Background(), Request{URL: srv.URL})
	assert.Error(t, err)
}

func TestCopyConfig(t *testing.T) {
	h := newHarness(t, clock.WallClock, func(cfg *Config) {
		cfg.ConfigFiles = []string{"/etc/hostname", "/etc/ssh", "/etc/missing"}
	})
	runRoot := h.hal.BankDir(core.BankA)
	require.NoError(t, os.MkdirAll(filepath.Join(runRoot, "etc/ssh"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runRoot, "etc/hostname"), []byte("dev\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(runRoot, "etc/ssh/host_key"), []byte("key"), 0o600))

	require.NoError(t, h.pipe.CopyConfig(context.Background()))

	other := h.hal.BankDir(core.BankB)
	assert.FileExists(t, filepath.Join(other, "etc/hostname"))
	fi, err := os.Stat(filepath.Join(other, "etc/ssh/host_key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	assert.FileExists(t, filepath.Join(other, "etc/fstab"))

	// Busy while something else holds the bank.
	require.NoError(t, h.reg.Claim(core.BankB, "format"))
	err = h.pipe.CopyConfig(context.Background())
	assert.True(t, errors.Is(err, core.ErrBankBusy))
}
