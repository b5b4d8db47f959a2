package harvest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirCapture_WritesBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	driver := newFakeDriver()
	c := NewDirCapture(driver, filepath.Join(dir, "debug"), testLogger())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	c.Capture(context.Background(), "some/user")

	html, err := os.ReadFile(filepath.Join(dir, "debug", "debug_some_user_1700000000.html"))
	require.NoError(t, err)
	assert.Equal(t, driver.content, string(html))

	png, err := os.ReadFile(filepath.Join(dir, "debug", "debug_some_user_1700000000.png"))
	require.NoError(t, err)
	assert.Equal(t, driver.shot, png)
}

func TestDirCapture_MarkupFailureStillSavesScreenshot(t *testing.T) {
	dir := t.TempDir()
	driver := newFakeDriver()
	driver.content = ""
	c := NewDirCapture(driver, dir, testLogger())
	c.now = func() time.Time { return time.Unix(42, 0) }

	assert.NotPanics(t, func() { c.Capture(context.Background(), "alice") })

	_, err := os.Stat(filepath.Join(dir, "debug_alice_42.html"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "debug_alice_42.png"))
	assert.NoError(t, err)
}

func TestDirCapture_UnwritableDirIsLogged(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	c := NewDirCapture(newFakeDriver(), filepath.Join(blocker, "sub"), testLogger())

	assert.NotPanics(t, func() { c.Capture(context.Background(), "alice") })
}
