package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/internal/bankd/hal"
	"github.com/autopeer-io/bankupdate/internal/bankd/registry"
)

type entry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func buildArtifact(t *testing.T, entries ...entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
			ModTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		switch e.typeflag {
		case 0, tar.TypeReg:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		case tar.TypeDir:
			hdr.Mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// imageArtifact is a small but complete root filesystem image.
func imageArtifact(t *testing.T, version string) []byte {
	return buildArtifact(t,
		entry{name: "./", typeflag: tar.TypeDir},
		entry{name: "./etc/", typeflag: tar.TypeDir},
		entry{name: "./etc/os-release", body: "ID=bank\n"},
		entry{name: "./usr/bin/app", body: string(bytes.Repeat([]byte("x"), 64<<10))},
		entry{name: "./bin", typeflag: tar.TypeSymlink, linkname: "usr/bin"},
		entry{name: "./" + hal.VersionFile, body: version + "\n"},
	)
}

type harness struct {
	hal  *hal.DirHAL
	reg  *registry.Registry
	pipe *Pipeline
}

func newHarness(t *testing.T, clk clock.Clock, mutate func(cfg *Config)) *harness {
	t.Helper()

	h, err := hal.NewDirHAL(t.TempDir(), core.BankA, hal.DefaultLayout())
	require.NoError(t, err)

	store, err := registry.OpenBoltStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	reg, err := registry.Open(context.Background(), store, h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	cfg := Config{
		Registry:     reg,
		HAL:          h,
		Fetcher:      NewRouter(nil),
		Clock:        clk,
		StagingDir:   t.TempDir(),
		JobTimeout:   time.Minute,
		StallTimeout: 10 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return &harness{hal: h, reg: reg, pipe: p}
}

func (h *harness) waitIdle(t *testing.T) Status {
	t.Helper()
	require.Eventually(t, h.pipe.Idle, 10*time.Second, 5*time.Millisecond)
	return h.pipe.Status()
}
