package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskSettingsDefaults(t *testing.T) {
	s, err := ParseTaskSettings("")
	require.NoError(t, err)

	assert.Equal(t, "*.*", s.FileExtensions)
	assert.Equal(t, []string{"*.*"}, s.FileSpecs)
	assert.Equal(t, "/", s.RemotePath)
	assert.Equal(t, -1, s.MaximumFileCount)
	assert.Equal(t, DefaultDirectoryNamingExpression, s.DirectoryNamingExpression)
	assert.False(t, s.RecursiveDownload)
	assert.False(t, s.IsExternal())
}

func TestParseTaskSettingsFull(t *testing.T) {
	s, err := ParseTaskSettings(
		"fileExtensions=*.rcd,*.dat; remotePath=/logs/<YYYY>; localPath=C:\\Data;" +
			"recursiveDownload=true; deleteRemoteFilesAfterDownload=true;" +
			"limitRemoteFileDownloadByAge=true; skipDownloadIfUnchanged=true;" +
			"overwriteExistingLocalFiles=true; archiveExistingFilesBeforeDownload=true;" +
			"synchronizeTimestamps=true; maximumFileSize=2.5; maximumFileCount=10;" +
			"externalOperation=fetch.exe --all; externalOperationTimeout=120;" +
			"directoryAuthUserName=CORP\\svc; emailOnFileUpdate=true; emailRecipients=a@x.io,b@x.io")
	require.NoError(t, err)

	assert.Equal(t, []string{"*.rcd", "*.dat"}, s.FileSpecs)
	assert.Equal(t, "/logs/<YYYY>", s.RemotePath)
	assert.True(t, s.RecursiveDownload)
	assert.True(t, s.DeleteRemoteFilesAfterDownload)
	assert.True(t, s.SkipDownloadIfUnchanged)
	assert.True(t, s.SynchronizeTimestamps)
	assert.Equal(t, 2.5, s.MaximumFileSize)
	assert.Equal(t, 10, s.MaximumFileCount)
	assert.True(t, s.IsExternal())
	assert.Equal(t, 120, s.ExternalOperationTimeout)
	assert.Equal(t, `CORP\svc`, s.DirectoryAuthUserName)
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, SplitList(s.EmailRecipients))
}

func TestParseTaskSettingsKeysAreCaseInsensitive(t *testing.T) {
	s, err := ParseTaskSettings("RECURSIVEDOWNLOAD=true;remotepath=/x")
	require.NoError(t, err)
	assert.True(t, s.RecursiveDownload)
	assert.Equal(t, "/x", s.RemotePath)
}

func TestParseTaskSettingsMalformed(t *testing.T) {
	_, err := ParseTaskSettings("recursiveDownload")
	assert.Error(t, err)
}

func TestParseConnectionString(t *testing.T) {
	opts, err := ParseConnectionString("host=10.0.0.5; port=2121; username=meter; password=s3cret")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", opts.Host)
	assert.Equal(t, 2121, opts.Port)
	assert.Equal(t, "meter", opts.Username)
	assert.False(t, opts.UseDialUp)
	assert.Equal(t, 30, opts.ConnectionTimeout)
}

func TestParseConnectionStringDialUp(t *testing.T) {
	opts, err := ParseConnectionString(
		"host=10.0.0.5;useDialUp=true;dialUpEntryName=M1;dialUpTimeout=45")
	require.NoError(t, err)
	assert.True(t, opts.UseDialUp)
	assert.Equal(t, "M1", opts.DialUpEntryName)
	assert.Equal(t, 45, opts.DialUpTimeout)
}

func TestParseConnectionStringErrors(t *testing.T) {
	_, err := ParseConnectionString("port=21")
	assert.Error(t, err, "missing host")

	_, err = ParseConnectionString("host=x;useDialUp=true")
	assert.Error(t, err, "dial-up without an entry name")

	_, err = ParseConnectionString("host=x;garbage")
	assert.Error(t, err)
}

func TestDeviceFolderName(t *testing.T) {
	dev := Device{Acronym: "SUB1"}
	assert.Equal(t, "SUB1", dev.FolderName())
	dev.OriginalSource = "Sub_One"
	assert.Equal(t, "Sub_One", dev.FolderName())
}
