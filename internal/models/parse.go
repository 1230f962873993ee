package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultDirectoryNamingExpression is applied when a task does not name its
// own destination layout.
const DefaultDirectoryNamingExpression = `<YYYY><MM>\<DeviceFolderName>`

// parseKeyValues splits an opaque "key=value; key=value" settings string
// into a case-insensitive map. Empty segments are ignored.
func parseKeyValues(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, seg := range strings.Split(s, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		idx := strings.Index(seg, "=")
		if idx < 0 {
			return nil, fmt.Errorf("malformed segment %q", seg)
		}
		key := strings.ToLower(strings.TrimSpace(seg[:idx]))
		out[key] = strings.TrimSpace(seg[idx+1:])
	}
	return out, nil
}

func parseBool(kv map[string]string, key string, def bool) bool {
	v, ok := kv[strings.ToLower(key)]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func parseInt(kv map[string]string, key string, def int) int {
	v, ok := kv[strings.ToLower(key)]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(kv map[string]string, key string, def float64) float64 {
	v, ok := kv[strings.ToLower(key)]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func parseString(kv map[string]string, key, def string) string {
	if v, ok := kv[strings.ToLower(key)]; ok {
		return v
	}
	return def
}

// ParseConnectionString expands a device connection string into
// ConnectionOptions. A missing host is a parse error; everything else
// falls back to defaults.
func ParseConnectionString(s string) (ConnectionOptions, error) {
	kv, err := parseKeyValues(s)
	if err != nil {
		return ConnectionOptions{}, fmt.Errorf("bad connection string: %w", err)
	}

	opts := ConnectionOptions{
		Host:              parseString(kv, "host", ""),
		Port:              parseInt(kv, "port", 21),
		Username:          parseString(kv, "username", "anonymous"),
		Password:          parseString(kv, "password", ""),
		UseDialUp:         parseBool(kv, "useDialUp", false),
		DialUpEntryName:   parseString(kv, "dialUpEntryName", ""),
		DialUpTimeout:     parseInt(kv, "dialUpTimeout", 90),
		ConnectionTimeout: parseInt(kv, "connectionTimeout", 30),
	}
	if opts.Host == "" {
		return ConnectionOptions{}, fmt.Errorf("bad connection string: missing host")
	}
	if opts.UseDialUp && opts.DialUpEntryName == "" {
		return ConnectionOptions{}, fmt.Errorf("bad connection string: useDialUp without dialUpEntryName")
	}
	return opts, nil
}

// ParseTaskSettings expands a task's opaque settings string into
// TaskSettings, applying documented defaults and deriving FileSpecs.
func ParseTaskSettings(s string) (TaskSettings, error) {
	kv, err := parseKeyValues(s)
	if err != nil {
		return TaskSettings{}, fmt.Errorf("bad task settings: %w", err)
	}

	settings := TaskSettings{
		FileExtensions:                     parseString(kv, "fileExtensions", "*.*"),
		RemotePath:                         parseString(kv, "remotePath", "/"),
		LocalPath:                          parseString(kv, "localPath", ""),
		RecursiveDownload:                  parseBool(kv, "recursiveDownload", false),
		DeleteRemoteFilesAfterDownload:     parseBool(kv, "deleteRemoteFilesAfterDownload", false),
		LimitRemoteFileDownloadByAge:       parseBool(kv, "limitRemoteFileDownloadByAge", false),
		DeleteOldLocalFiles:                parseBool(kv, "deleteOldLocalFiles", false),
		SkipDownloadIfUnchanged:            parseBool(kv, "skipDownloadIfUnchanged", false),
		OverwriteExistingLocalFiles:        parseBool(kv, "overwriteExistingLocalFiles", false),
		ArchiveExistingFilesBeforeDownload: parseBool(kv, "archiveExistingFilesBeforeDownload", false),
		SynchronizeTimestamps:              parseBool(kv, "synchronizeTimestamps", false),
		MaximumFileSize:                    parseFloat(kv, "maximumFileSize", 0),
		MaximumFileCount:                   parseInt(kv, "maximumFileCount", -1),
		DirectoryNamingExpression:          parseString(kv, "directoryNamingExpression", DefaultDirectoryNamingExpression),
		ExternalOperation:                  parseString(kv, "externalOperation", ""),
		ExternalOperationTimeout:           parseInt(kv, "externalOperationTimeout", 0),
		DirectoryAuthUserName:              parseString(kv, "directoryAuthUserName", ""),
		DirectoryAuthPassword:              parseString(kv, "directoryAuthPassword", ""),
		EmailOnFileUpdate:                  parseBool(kv, "emailOnFileUpdate", false),
		EmailRecipients:                    parseString(kv, "emailRecipients", ""),
	}

	for _, spec := range strings.Split(settings.FileExtensions, ",") {
		spec = strings.TrimSpace(spec)
		if spec != "" {
			settings.FileSpecs = append(settings.FileSpecs, spec)
		}
	}
	if len(settings.FileSpecs) == 0 {
		settings.FileSpecs = []string{"*.*"}
	}

	return settings, nil
}

// SplitList splits a comma-separated configuration list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
