package models

import "time"

// Device represents a remote endpoint being polled, typically a
// power-quality meter or fault recorder.
type Device struct {
	ID               int64      `json:"id"`
	Acronym          string     `json:"acronym"` // unique identity
	Name             string     `json:"name"`
	Enabled          bool       `json:"enabled"`
	OriginalSource   string     `json:"original_source,omitempty"` // folder-name hint
	ConnectionString string     `json:"connection_string"`
	Schedule         string     `json:"schedule"` // five-field cron expression
	ProfileID        int64      `json:"profile_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastRun          *time.Time `json:"last_run,omitempty"`
}

// FolderName returns the local folder-name hint for the device.
func (d Device) FolderName() string {
	if d.OriginalSource != "" {
		return d.OriginalSource
	}
	return d.Acronym
}

// ConnectionProfile is a reusable set of tasks describing what to fetch
// from a device.
type ConnectionProfile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ConnectionProfileTask is a single unit of work within a profile: one
// directory tree to fetch, or one external command. Settings is an opaque
// key/value string expanded into TaskSettings at load time.
type ConnectionProfileTask struct {
	ID        int64  `json:"id"`
	ProfileID int64  `json:"profile_id"`
	Name      string `json:"name"`
	Settings  string `json:"settings"`
}

// ConnectionOptions describe how to reach a device. Parsed from the
// device's opaque connection string.
type ConnectionOptions struct {
	Host              string
	Port              int
	Username          string
	Password          string
	UseDialUp         bool
	DialUpEntryName   string
	DialUpTimeout     int // seconds
	ConnectionTimeout int // seconds
}

// TaskSettings are the expanded per-task options.
type TaskSettings struct {
	FileExtensions                     string   `json:"file_extensions"`
	FileSpecs                          []string `json:"file_specs"` // derived: comma-split FileExtensions
	RemotePath                         string   `json:"remote_path"`
	LocalPath                          string   `json:"local_path"`
	RecursiveDownload                  bool     `json:"recursive_download"`
	DeleteRemoteFilesAfterDownload     bool     `json:"delete_remote_files_after_download"`
	LimitRemoteFileDownloadByAge       bool     `json:"limit_remote_file_download_by_age"`
	DeleteOldLocalFiles                bool     `json:"delete_old_local_files"`
	SkipDownloadIfUnchanged            bool     `json:"skip_download_if_unchanged"`
	OverwriteExistingLocalFiles        bool     `json:"overwrite_existing_local_files"`
	ArchiveExistingFilesBeforeDownload bool     `json:"archive_existing_files_before_download"`
	SynchronizeTimestamps              bool     `json:"synchronize_timestamps"`
	MaximumFileSize                    float64  `json:"maximum_file_size"` // MB, base 1000
	MaximumFileCount                   int      `json:"maximum_file_count"`
	DirectoryNamingExpression          string   `json:"directory_naming_expression"`
	ExternalOperation                  string   `json:"external_operation"`
	ExternalOperationTimeout           int      `json:"external_operation_timeout"` // seconds of inactivity
	DirectoryAuthUserName              string   `json:"directory_auth_user_name"`
	DirectoryAuthPassword              string   `json:"-"`
	EmailOnFileUpdate                  bool     `json:"email_on_file_update"`
	EmailRecipients                    string   `json:"email_recipients"`
}

// IsExternal reports whether the task replaces the FTP transfer with an
// external command.
func (s TaskSettings) IsExternal() bool {
	return s.ExternalOperation != ""
}

// StatusLog is the single most-recent-outcome row maintained per device.
type StatusLog struct {
	DeviceID              int64      `json:"device_id"`
	LastFile              string     `json:"last_file,omitempty"`
	LastSuccess           *time.Time `json:"last_success,omitempty"`
	LastFailure           *time.Time `json:"last_failure,omitempty"`
	Message               string     `json:"message,omitempty"`
	FileDownloadTimestamp *time.Time `json:"file_download_timestamp,omitempty"`
}

// DownloadedFile records one successful in-scope download.
type DownloadedFile struct {
	ID              int64     `json:"id"`
	DeviceID        int64     `json:"device_id"`
	CreationTimeUTC time.Time `json:"creation_time_utc"`
	File            string    `json:"file"`
	FileSizeKB      int64     `json:"file_size_kb"`
	Timestamp       time.Time `json:"timestamp"`
}

// QueuedTask is one row of the manual-trigger task queue.
type QueuedTask struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	TaskID    int64     `json:"task_id"`
	QueuedAt  time.Time `json:"queued_at"`
	Processed bool      `json:"processed"`
}

// ProgressState classifies a progress update.
type ProgressState string

const (
	StateProcessing ProgressState = "Processing"
	StateSkipped    ProgressState = "Skipped"
	StateSucceeded  ProgressState = "Succeeded"
	StateFailed     ProgressState = "Failed"
	StateFinished   ProgressState = "Finished"
)

// ProgressUpdate is emitted at every decision point of a run. Complete
// never exceeds Total. Task updates (Summary = task name) count bytes and
// run updates (Summary = profile name) count tasks; Complete is
// non-decreasing within each of these streams, but not across them.
type ProgressUpdate struct {
	State    ProgressState `json:"state"`
	Summary  string        `json:"summary,omitempty"`
	Message  string        `json:"message"`
	Complete int64         `json:"complete"`
	Total    int64         `json:"total"`
}

// DeviceStatistics is the exposed per-device counter snapshot.
type DeviceStatistics struct {
	AttemptedConnections  int64   `json:"attempted_connections"`
	SuccessfulConnections int64   `json:"successful_connections"`
	FailedConnections     int64   `json:"failed_connections"`
	AttemptedDialUps      int64   `json:"attempted_dial_ups"`
	SuccessfulDialUps     int64   `json:"successful_dial_ups"`
	FailedDialUps         int64   `json:"failed_dial_ups"`
	FilesDownloaded       int64   `json:"files_downloaded"`
	TotalFilesDownloaded  int64   `json:"total_files_downloaded"`
	TotalProcessedFiles   int64   `json:"total_processed_files"`
	MegaBytesDownloaded   float64 `json:"megabytes_downloaded"`
	TotalConnectedTime    int64   `json:"total_connected_time"` // seconds
	TotalDialUpTime       int64   `json:"total_dialup_time"`    // seconds
	Enabled               int     `json:"enabled"`              // 0/1
}

// Settings are the global configuration keys.
type Settings struct {
	FTPThreadCount                 int     `json:"ftp_thread_count"`
	MaxDownloadThreshold           float64 `json:"max_download_threshold"`             // MB
	MaxDownloadThresholdTimeWindow int     `json:"max_download_threshold_time_window"` // hours
	StatusLogInclusions            string  `json:"status_log_inclusions"`
	StatusLogExclusions            string  `json:"status_log_exclusions"`
	MaxRemoteFileAge               int     `json:"max_remote_file_age"` // days
	MaxLocalFileAge                int     `json:"max_local_file_age"`  // days
	DefaultLocalPath               string  `json:"default_local_path"`
	SMTPServer                     string  `json:"smtp_server"`
	SMTPPort                       int     `json:"smtp_port"`
	SMTPUsername                   string  `json:"smtp_username"`
	SMTPPassword                   string  `json:"smtp_password"`
	FromAddress                    string  `json:"from_address"`
	LogFile                        string  `json:"log_file"`
	LogMaxSizeMB                   int     `json:"log_max_size_mb"`
	LogMaxBackups                  int     `json:"log_max_backups"`
}

// Config is the complete application configuration.
type Config struct {
	Version  string   `json:"version"`
	Settings Settings `json:"settings"`
}
