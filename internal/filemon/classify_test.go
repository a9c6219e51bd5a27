package filemon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0xA1M/sentinel-watch/internal/models"
)

func newTestClassifier(attribute func() string, hasExternal func() bool) *Classifier {
	return NewClassifier([]string{".xyz"}, []string{"\\secretcache\\"}, "/var/spool/sentinel", attribute, hasExternal)
}

func TestSuppressBuiltinNoise(t *testing.T) {
	c := newTestClassifier(nil, nil)

	cases := []struct {
		path     string
		source   string
		expected bool
	}{
		{`C:\Users\u\AppData\Local\Temp\x.tmp`, models.SourceUserFolder, true},
		{`C:\Users\u\Desktop\report.docx`, models.SourceUserFolder, false},
		{`/home/u/project/.git/index`, models.SourceWatched, true},
		{`/home/u/project/node_modules/pkg/index.js`, models.SourceWatched, true},
		{`/home/u/Documents/~$draft.docx`, models.SourceUserFolder, true},
		{`/home/u/Documents/.hidden`, models.SourceUserFolder, true},
		{`/home/u/Documents/data.xyz`, models.SourceUserFolder, true},      // configured extension
		{`C:\Users\u\secretcache\blob.bin`, models.SourceUserFolder, true}, // configured path
		{`/var/spool/sentinel/20250601.lgq`, models.SourceWatched, true},   // own spool
		{`/home/u/Documents/report.pdf`, models.SourceSensitive, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, c.Suppress(tc.path, tc.source), tc.path)
	}
}

func TestExternalSourcesNeverSuppressed(t *testing.T) {
	c := newTestClassifier(nil, nil)

	// Even paths that look like pure noise survive on external watches.
	for _, source := range []string{models.SourceUSB, models.SourceNetworkShare, models.SourceCloudSync} {
		assert.False(t, c.Suppress(`E:\Temp\~x.tmp`, source), source)
		assert.False(t, c.Suppress(`/media/usb/.hidden`, source), source)
	}
}

func TestClassifyExternalWrite(t *testing.T) {
	c := newTestClassifier(nil, nil)

	cases := []struct {
		source string
		flag   string
	}{
		{models.SourceUSB, models.FlagUsbTransfer},
		{models.SourceNetworkShare, models.FlagNetworkTransfer},
		{models.SourceCloudSync, models.FlagCloudSyncTransfer},
	}

	for _, tc := range cases {
		ev := models.FileEvent{
			FileName:  "secret.docx",
			FilePath:  `E:\secret.docx`,
			SizeBytes: 1024,
			Action:    models.ActionCreate,
			Source:    tc.source,
			Direction: models.DirectionUnknown,
		}
		c.Classify(&ev)

		assert.Equal(t, tc.flag, ev.Flag)
		assert.Equal(t, models.ActionCopy, ev.Action)
		assert.True(t, ev.IsTransfer)
		assert.Equal(t, models.DirectionOutgoing, ev.Direction)
	}
}

func TestClassifyExternalDelete(t *testing.T) {
	c := newTestClassifier(nil, nil)

	ev := models.FileEvent{
		Action:    models.ActionDelete,
		Source:    models.SourceUSB,
		Direction: models.DirectionUnknown,
	}
	c.Classify(&ev)

	assert.Equal(t, models.DirectionDeleteExternal, ev.Direction)
	assert.Equal(t, models.ActionDelete, ev.Action)
	assert.False(t, ev.IsTransfer)
}

func TestClassifyBrowserDownload(t *testing.T) {
	c := newTestClassifier(func() string { return "chrome.exe" }, nil)

	ev := models.FileEvent{
		FileName:  "invoice.pdf",
		SizeBytes: 50_000,
		Action:    models.ActionWrite,
		Source:    models.SourceUserFolder,
		Direction: models.DirectionUnknown,
	}
	c.Classify(&ev)

	assert.Equal(t, models.FlagInternetDownload, ev.Flag)
	assert.Equal(t, models.ActionCopy, ev.Action)
	assert.True(t, ev.IsTransfer)
	assert.Equal(t, models.DirectionIncoming, ev.Direction)
}

func TestClassifyProbableUsbTransferWhenExternalPresent(t *testing.T) {
	c := newTestClassifier(func() string { return "explorer" }, func() bool { return true })

	ev := models.FileEvent{
		FileName:  "copied.docx",
		SizeBytes: 9000,
		Action:    models.ActionCreate,
		Source:    models.SourceUserFolder,
		Direction: models.DirectionUnknown,
	}
	c.Classify(&ev)

	assert.Equal(t, models.FlagProbableUsbTransfer, ev.Flag)
	assert.True(t, ev.IsTransfer)
	assert.Equal(t, models.DirectionIncoming, ev.Direction)
}

func TestClassifyAppTransfer(t *testing.T) {
	c := newTestClassifier(func() string { return "telegram" }, func() bool { return false })

	ev := models.FileEvent{
		FileName:  "photo.jpg",
		SizeBytes: 4096,
		Action:    models.ActionWrite,
		Source:    models.SourceUserFolder,
		Direction: models.DirectionUnknown,
	}
	c.Classify(&ev)

	assert.Equal(t, models.FlagAppTransfer, ev.Flag)
	assert.True(t, ev.IsTransfer)
	assert.Equal(t, models.DirectionIncoming, ev.Direction)
}

func TestClassifyBrowserWinsOverAppRule(t *testing.T) {
	// Rules run in order: a browser match must take rule 3 before the
	// probable-usb rule 4 even when an external drive is present.
	c := newTestClassifier(func() string { return "firefox" }, func() bool { return true })

	ev := models.FileEvent{
		FileName:  "dl.bin",
		SizeBytes: 1,
		Action:    models.ActionCreate,
		Source:    models.SourceUserFolder,
		Direction: models.DirectionUnknown,
	}
	c.Classify(&ev)

	assert.Equal(t, models.FlagInternetDownload, ev.Flag)
}

func TestClassifyNormal(t *testing.T) {
	c := newTestClassifier(func() string { return "winword" }, func() bool { return false })

	ev := models.FileEvent{
		FileName:  "draft.docx",
		SizeBytes: 100,
		Action:    models.ActionWrite,
		Source:    models.SourceUserFolder,
		Direction: models.DirectionUnknown,
	}
	c.Classify(&ev)

	assert.Equal(t, models.FlagNormal, ev.Flag)
	assert.Equal(t, models.ActionWrite, ev.Action)
	assert.False(t, ev.IsTransfer)
	assert.Equal(t, models.DirectionUnknown, ev.Direction)
}

func TestClassifyZeroSizeNeverTransfer(t *testing.T) {
	c := newTestClassifier(func() string { return "chrome" }, func() bool { return true })

	ev := models.FileEvent{
		FileName:  "empty.tmp2",
		SizeBytes: 0,
		Action:    models.ActionCreate,
		Source:    models.SourceUserFolder,
		Direction: models.DirectionUnknown,
	}
	c.Classify(&ev)

	assert.Equal(t, models.FlagNormal, ev.Flag)
	assert.False(t, ev.IsTransfer)
}

func TestIsBuiltinNoise(t *testing.T) {
	assert.True(t, IsBuiltinNoise(`C:\Users\u\AppData\Local\Temp\a.txt`))
	assert.True(t, IsBuiltinNoise(`/home/u/Downloads/setup.crdownload`))
	assert.True(t, IsBuiltinNoise(`/home/u/Desktop/~lock`))
	assert.False(t, IsBuiltinNoise(`C:\Users\u\Desktop\report.docx`))
}
