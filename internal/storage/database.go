package storage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tbracken/gridpoll/internal/models"
)

// Database is the persistence collaborator: device and profile records,
// the per-device status log, and the downloaded-file history.
type Database struct {
	db *sql.DB
}

// NewDatabase opens (and if necessary creates) the database at path.
func NewDatabase(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// initSchema creates the database schema.
func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		acronym TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		original_source TEXT,
		connection_string TEXT NOT NULL,
		schedule TEXT NOT NULL,
		profile_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		last_run TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS connection_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS connection_profile_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		settings TEXT NOT NULL,
		FOREIGN KEY (profile_id) REFERENCES connection_profiles(id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_profile_id ON connection_profile_tasks(profile_id);

	CREATE TABLE IF NOT EXISTS connection_profile_task_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL,
		task_id INTEGER NOT NULL,
		queued_at TIMESTAMP NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_queue_device_id ON connection_profile_task_queue(device_id);

	CREATE TABLE IF NOT EXISTS status_log (
		device_id INTEGER PRIMARY KEY,
		last_file TEXT,
		last_success TIMESTAMP,
		last_failure TIMESTAMP,
		message TEXT,
		file_download_timestamp TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS downloaded_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL,
		creation_time_utc TIMESTAMP NOT NULL,
		file TEXT NOT NULL,
		file_size_kb INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_downloaded_files_device_id ON downloaded_files(device_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// ListDevices returns every device record.
func (d *Database) ListDevices() ([]models.Device, error) {
	rows, err := d.db.Query(`
		SELECT id, acronym, name, enabled, original_source, connection_string,
			schedule, profile_id, created_at, updated_at, last_run
		FROM devices ORDER BY acronym`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error closing rows: %v", err)
		}
	}()

	var devices []models.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// GetDevice retrieves a device by acronym.
func (d *Database) GetDevice(acronym string) (*models.Device, error) {
	row := d.db.QueryRow(`
		SELECT id, acronym, name, enabled, original_source, connection_string,
			schedule, profile_id, created_at, updated_at, last_run
		FROM devices WHERE acronym = ?`, acronym)

	dev, err := scanDevice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device not found: %s", acronym)
		}
		return nil, err
	}
	return &dev, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (models.Device, error) {
	var dev models.Device
	var originalSource sql.NullString
	var lastRun sql.NullTime

	err := row.Scan(
		&dev.ID,
		&dev.Acronym,
		&dev.Name,
		&dev.Enabled,
		&originalSource,
		&dev.ConnectionString,
		&dev.Schedule,
		&dev.ProfileID,
		&dev.CreatedAt,
		&dev.UpdatedAt,
		&lastRun,
	)
	if err != nil {
		return models.Device{}, err
	}
	if originalSource.Valid {
		dev.OriginalSource = originalSource.String
	}
	if lastRun.Valid {
		dev.LastRun = &lastRun.Time
	}
	return dev, nil
}

// SaveDevice inserts or updates a device keyed by acronym and stores its id
// in dev.ID when it was unset.
func (d *Database) SaveDevice(dev *models.Device) error {
	now := time.Now()
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = now
	}
	dev.UpdatedAt = now

	_, err := d.db.Exec(`
		INSERT INTO devices (acronym, name, enabled, original_source, connection_string,
			schedule, profile_id, created_at, updated_at, last_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(acronym) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			original_source = excluded.original_source,
			connection_string = excluded.connection_string,
			schedule = excluded.schedule,
			profile_id = excluded.profile_id,
			updated_at = excluded.updated_at`,
		dev.Acronym, dev.Name, dev.Enabled, dev.OriginalSource, dev.ConnectionString,
		dev.Schedule, dev.ProfileID, dev.CreatedAt, dev.UpdatedAt, dev.LastRun,
	)
	if err != nil {
		return err
	}
	if dev.ID == 0 {
		// Acronym is the natural key; read the row id back after an
		// upsert rather than trusting LastInsertId across the conflict
		// path.
		stored, err := d.GetDevice(dev.Acronym)
		if err != nil {
			return err
		}
		dev.ID = stored.ID
	}
	return nil
}

// UpdateDeviceLastRun records the timestamp of a device's latest run.
func (d *Database) UpdateDeviceLastRun(deviceID int64, at time.Time) error {
	_, err := d.db.Exec(`UPDATE devices SET last_run = ? WHERE id = ?`, at, deviceID)
	return err
}

// GetProfile retrieves a connection profile by id.
func (d *Database) GetProfile(id int64) (*models.ConnectionProfile, error) {
	var p models.ConnectionProfile
	err := d.db.QueryRow(`SELECT id, name FROM connection_profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("connection profile not found: %d", id)
		}
		return nil, err
	}
	return &p, nil
}

// SaveProfile inserts or updates a connection profile.
func (d *Database) SaveProfile(p *models.ConnectionProfile) error {
	if p.ID == 0 {
		res, err := d.db.Exec(`INSERT INTO connection_profiles (name) VALUES (?)`, p.Name)
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	}
	_, err := d.db.Exec(`
		INSERT INTO connection_profiles (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, p.ID, p.Name)
	return err
}

// ListProfileTasks returns the tasks of a profile in insertion order.
func (d *Database) ListProfileTasks(profileID int64) ([]models.ConnectionProfileTask, error) {
	rows, err := d.db.Query(`
		SELECT id, profile_id, name, settings
		FROM connection_profile_tasks WHERE profile_id = ? ORDER BY id`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error closing rows: %v", err)
		}
	}()

	var tasks []models.ConnectionProfileTask
	for rows.Next() {
		var t models.ConnectionProfileTask
		if err := rows.Scan(&t.ID, &t.ProfileID, &t.Name, &t.Settings); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveProfileTask inserts or updates a profile task.
func (d *Database) SaveProfileTask(t *models.ConnectionProfileTask) error {
	if t.ID == 0 {
		res, err := d.db.Exec(`
			INSERT INTO connection_profile_tasks (profile_id, name, settings)
			VALUES (?, ?, ?)`, t.ProfileID, t.Name, t.Settings)
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	}
	_, err := d.db.Exec(`
		UPDATE connection_profile_tasks SET profile_id = ?, name = ?, settings = ?
		WHERE id = ?`, t.ProfileID, t.Name, t.Settings, t.ID)
	return err
}

// EnqueueTask appends a manual-trigger row to the task queue.
func (d *Database) EnqueueTask(deviceID, taskID int64) error {
	_, err := d.db.Exec(`
		INSERT INTO connection_profile_task_queue (device_id, task_id, queued_at, processed)
		VALUES (?, ?, ?, 0)`, deviceID, taskID, time.Now())
	return err
}

// DequeueTasks marks every unprocessed queue row for a device as processed
// and returns them.
func (d *Database) DequeueTasks(deviceID int64) ([]models.QueuedTask, error) {
	rows, err := d.db.Query(`
		SELECT id, device_id, task_id, queued_at, processed
		FROM connection_profile_task_queue
		WHERE device_id = ? AND processed = 0 ORDER BY id`, deviceID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error closing rows: %v", err)
		}
	}()

	var queued []models.QueuedTask
	for rows.Next() {
		var q models.QueuedTask
		if err := rows.Scan(&q.ID, &q.DeviceID, &q.TaskID, &q.QueuedAt, &q.Processed); err != nil {
			return nil, err
		}
		queued = append(queued, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range queued {
		if _, err := d.db.Exec(`
			UPDATE connection_profile_task_queue SET processed = 1 WHERE id = ?`,
			queued[i].ID); err != nil {
			return queued, err
		}
		queued[i].Processed = true
	}
	return queued, nil
}

// GetStatusLog retrieves the status row for a device, or nil when none
// exists yet.
func (d *Database) GetStatusLog(deviceID int64) (*models.StatusLog, error) {
	row := d.db.QueryRow(`
		SELECT device_id, last_file, last_success, last_failure, message, file_download_timestamp
		FROM status_log WHERE device_id = ?`, deviceID)

	var s models.StatusLog
	var lastFile, message sql.NullString
	var lastSuccess, lastFailure, downloadTS sql.NullTime

	err := row.Scan(&s.DeviceID, &lastFile, &lastSuccess, &lastFailure, &message, &downloadTS)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lastFile.Valid {
		s.LastFile = lastFile.String
	}
	if message.Valid {
		s.Message = message.String
	}
	if lastSuccess.Valid {
		s.LastSuccess = &lastSuccess.Time
	}
	if lastFailure.Valid {
		s.LastFailure = &lastFailure.Time
	}
	if downloadTS.Valid {
		s.FileDownloadTimestamp = &downloadTS.Time
	}
	return &s, nil
}

// UpsertStatusSuccess updates the device's status row after a successful
// download.
func (d *Database) UpsertStatusSuccess(deviceID int64, file string, at time.Time) error {
	_, err := d.db.Exec(`
		INSERT INTO status_log (device_id, last_file, last_success, message, file_download_timestamp)
		VALUES (?, ?, ?, '', ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_file = excluded.last_file,
			last_success = excluded.last_success,
			message = '',
			file_download_timestamp = excluded.file_download_timestamp`,
		deviceID, file, at, at)
	return err
}

// UpsertStatusFailure updates the device's status row after a failure.
func (d *Database) UpsertStatusFailure(deviceID int64, file, message string, at time.Time) error {
	_, err := d.db.Exec(`
		INSERT INTO status_log (device_id, last_file, last_failure, message)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_file = excluded.last_file,
			last_failure = excluded.last_failure,
			message = excluded.message`,
		deviceID, file, at, message)
	return err
}

// AppendDownloadedFile records one successful in-scope download.
func (d *Database) AppendDownloadedFile(rec *models.DownloadedFile) error {
	res, err := d.db.Exec(`
		INSERT INTO downloaded_files (device_id, creation_time_utc, file, file_size_kb, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		rec.DeviceID, rec.CreationTimeUTC, rec.File, rec.FileSizeKB, rec.Timestamp)
	if err != nil {
		return err
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListDownloadedFiles returns the most recent downloads for a device.
func (d *Database) ListDownloadedFiles(deviceID int64, limit int) ([]models.DownloadedFile, error) {
	rows, err := d.db.Query(`
		SELECT id, device_id, creation_time_utc, file, file_size_kb, timestamp
		FROM downloaded_files WHERE device_id = ?
		ORDER BY id DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error closing rows: %v", err)
		}
	}()

	var files []models.DownloadedFile
	for rows.Next() {
		var f models.DownloadedFile
		if err := rows.Scan(&f.ID, &f.DeviceID, &f.CreationTimeUTC, &f.File, &f.FileSizeKB, &f.Timestamp); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
