package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/config"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/capture"
)

type recordingUploader struct {
	mu   sync.Mutex
	recs []capture.Record
}

func (u *recordingUploader) Upload(_ context.Context, rec capture.Record) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.recs = append(u.recs, rec)
	return nil
}

func newTestEnv(t *testing.T, online bool) (*env, *recordingUploader) {
	t.Helper()
	color.NoColor = true
	cfg, err := config.Load("", "DRIVER_TEST")
	require.NoError(t, err)
	cfg.Capture.Dir = t.TempDir()
	up := &recordingUploader{}
	return &env{
		cfg:    cfg,
		logger: logging.Discard(),
		upload: up,
		conn:   capture.NewSwitchConnectivity(online),
	}, up
}

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(e)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCaptureOfflineThenSync(t *testing.T) {
	e, up := newTestEnv(t, false)
	photo := filepath.Join(t.TempDir(), "door.jpg")
	require.NoError(t, os.WriteFile(photo, []byte{0xff, 0xd8, 0xff, 0xe0}, 0o600))

	out, err := run(t, e, "capture", "task-1", "--received-by", "Sam", "--photo", photo, "--lat", "51.5", "--lon", "-0.1", "--sync")
	require.NoError(t, err)
	assert.Contains(t, out, "captured")
	assert.Contains(t, out, "offline")

	out, err = run(t, e, "pending", "-o", "json")
	require.NoError(t, err)
	var pending []pendingView
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "task-1", pending[0].TaskID)
	assert.Equal(t, 1, pending[0].Photos)

	e.conn.(*capture.SwitchConnectivity).Set(true)
	out, err = run(t, e, "sync", "-o", "json")
	require.NoError(t, err)
	var res capture.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Synced)

	require.Len(t, up.recs, 1)
	assert.Equal(t, "image/jpeg", up.recs[0].Payload.Photos[0].ContentType)
	assert.Equal(t, 51.5, up.recs[0].Payload.Location.Lat)
	assert.Zero(t, e.store.Len())
}

func TestCaptureRequiresReceiver(t *testing.T) {
	e, _ := newTestEnv(t, true)
	_, err := run(t, e, "capture", "task-1")
	assert.ErrorContains(t, err, "received-by")
}

func TestPurge(t *testing.T) {
	e, up := newTestEnv(t, false)
	store, err := e.openStore()
	require.NoError(t, err)
	id, err := store.Queue(context.Background(), "task-2", capture.Payload{ReceivedBy: "Ali"})
	require.NoError(t, err)

	out, err := run(t, e, "purge", id)
	require.NoError(t, err)
	assert.Contains(t, out, "purged")
	assert.Zero(t, store.Len())
	assert.Empty(t, up.recs)

	_, err = run(t, e, "purge", id)
	assert.ErrorIs(t, err, capture.ErrRecordNotFound)
}
