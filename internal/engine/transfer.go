package engine

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tbracken/gridpoll/internal/models"
	"github.com/tbracken/gridpoll/internal/remote"
)

// candidate is one remote file that survived pattern matching.
type candidate struct {
	remotePath string
	relDir     string
	name       string
	size       int64
	mtime      time.Time
}

// group is the set of candidates sharing one destination directory.
type group struct {
	dir   string
	files []candidate
	bytes int64
}

// taskRun drives the Prepare > Enumerate > Plan > Transfer > Finish state
// machine for one FTP task. Progress is pre-incremented so that a failure
// mid-transfer never moves Complete backwards.
type taskRun struct {
	r        *Runner
	task     models.ConnectionProfileTask
	settings models.TaskSettings
	session  remote.Session
	specs    FileSpecs
	now      time.Time

	destRoot string
	complete int64
	total    int64
}

func (r *Runner) newTaskRun(session remote.Session, task models.ConnectionProfileTask, settings models.TaskSettings) *taskRun {
	return &taskRun{
		r:        r,
		task:     task,
		settings: settings,
		session:  session,
		specs:    CompileSpecs(settings.FileSpecs),
		now:      time.Now(),
	}
}

func (t *taskRun) ctx() TemplateContext {
	return TemplateContext{
		Now:              t.now,
		Device:           t.r.device,
		Profile:          t.r.profile,
		TaskID:           t.task.ID,
		DefaultLocalPath: t.r.engine.settings.DefaultLocalPath,
	}
}

func (t *taskRun) publish(state models.ProgressState, message string) {
	t.r.engine.bus.Publish(t.r.device.Name, models.ProgressUpdate{
		State:    state,
		Summary:  t.task.Name,
		Message:  message,
		Complete: t.complete,
		Total:    t.total,
	})
}

// warnf logs and reports a non-fatal failure.
func (t *taskRun) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[%s] %s: %s", t.r.device.Acronym, t.task.Name, msg)
	t.publish(models.StateFailed, msg)
}

func (t *taskRun) canceled() bool {
	return t.r.engine.token.Canceled()
}

// run executes the full state machine. The terminal run-level Finished
// event belongs to the runner; cancellation simply returns early.
func (t *taskRun) run() {
	if !t.prepare() {
		return
	}
	candidates := t.enumerate()
	if t.canceled() {
		return
	}
	kept := t.filter(candidates)
	groups := t.plan(kept)
	t.transfer(groups)
	if t.canceled() {
		return
	}
	t.finish()
}

// prepare expands the directory naming expression and creates the local
// target directory.
func (t *taskRun) prepare() bool {
	base := t.settings.LocalPath
	if base == "" {
		base = t.r.engine.settings.DefaultLocalPath
	}
	base = NormalizeLocalPath(ExpandPath(base, t.ctx()))
	sub := NormalizeLocalPath(ExpandPath(t.settings.DirectoryNamingExpression, t.ctx()))
	t.destRoot = filepath.Join(base, sub)

	if err := os.MkdirAll(t.destRoot, 0o755); err != nil {
		t.warnf("cannot create local directory %s: %v", t.destRoot, err)
		t.r.recordFailure("", fmt.Sprintf("cannot create local directory %s: %v", t.destRoot, err))
		return false
	}
	return true
}

// enumerate lists the remote tree, applying the pattern filter and the
// dot-directory rule. A listing failure is a warning scoped to that
// directory; sibling directories proceed.
func (t *taskRun) enumerate() []candidate {
	root := ExpandPath(t.settings.RemotePath, t.ctx())
	var out []candidate
	t.walk(root, "", &out)
	return out
}

func (t *taskRun) walk(dir, rel string, out *[]candidate) {
	if t.canceled() {
		return
	}
	entries, err := t.session.List(dir)
	if err != nil {
		t.warnf("listing %s failed: %v", dir, err)
		return
	}
	for _, e := range entries {
		if t.canceled() {
			return
		}
		if e.IsDir {
			if t.settings.RecursiveDownload && !strings.HasPrefix(e.Name, ".") {
				t.walk(path.Join(dir, e.Name), path.Join(rel, e.Name), out)
			}
			continue
		}
		if !t.specs.Match(e.Name) {
			continue
		}
		*out = append(*out, candidate{
			remotePath: path.Join(dir, e.Name),
			relDir:     rel,
			name:       e.Name,
			size:       e.Size,
			mtime:      e.Time,
		})
	}
}

// filter applies the age, size and skip-if-unchanged rules in order, then
// the file-count cap. The surviving set defines the task's byte total;
// skip events are emitted once the total is known so progress stays
// monotone.
func (t *taskRun) filter(candidates []candidate) []candidate {
	type skipNote struct {
		name   string
		reason string
	}
	var kept []candidate
	var skips []skipNote

	maxAge := t.r.engine.settings.MaxRemoteFileAge
	for _, c := range candidates {
		if t.settings.LimitRemoteFileDownloadByAge && maxAge > 0 {
			days := int(t.now.Sub(c.mtime) / (24 * time.Hour))
			if days > maxAge {
				skips = append(skips, skipNote{c.name, fmt.Sprintf("%s is %d days old, limit is %d", c.name, days, maxAge)})
				continue
			}
		}
		if t.settings.MaximumFileSize > 0 && float64(c.size) > t.settings.MaximumFileSize*1e6 {
			skips = append(skips, skipNote{c.name, fmt.Sprintf("%s exceeds maximum file size of %g MB", c.name, t.settings.MaximumFileSize)})
			continue
		}
		if t.settings.SkipDownloadIfUnchanged && t.unchangedLocally(c) {
			skips = append(skips, skipNote{c.name, fmt.Sprintf("%s is unchanged", c.name)})
			continue
		}
		kept = append(kept, c)
	}

	if max := t.settings.MaximumFileCount; max >= 0 && len(kept) > max {
		for _, c := range kept[max:] {
			skips = append(skips, skipNote{c.name, fmt.Sprintf("%s beyond maximum file count of %d", c.name, max)})
		}
		kept = kept[:max]
	}

	for _, c := range kept {
		t.total += c.size
	}
	for _, s := range skips {
		t.publish(models.StateSkipped, s.reason)
	}
	return kept
}

// unchangedLocally reports whether the local copy already matches the
// remote entry: same size, and equal modification time when timestamps
// are being synchronized.
func (t *taskRun) unchangedLocally(c candidate) bool {
	local := filepath.Join(t.destRoot, NormalizeLocalPath(c.relDir), c.name)
	fi, err := os.Stat(local)
	if err != nil {
		return false
	}
	if fi.Size() != c.size {
		return false
	}
	if !t.settings.SynchronizeTimestamps {
		return true
	}
	return fi.ModTime().Truncate(time.Second).Equal(c.mtime.Truncate(time.Second))
}

// plan groups candidates by destination directory and creates each
// directory. A directory that cannot be created skips its whole group
// with an aggregated failure, advancing progress by the group's byte
// total so Complete stays monotone.
func (t *taskRun) plan(kept []candidate) []group {
	order := make([]string, 0)
	byDir := make(map[string]*group)
	for _, c := range kept {
		dir := filepath.Join(t.destRoot, NormalizeLocalPath(c.relDir))
		g, ok := byDir[dir]
		if !ok {
			g = &group{dir: dir}
			byDir[dir] = g
			order = append(order, dir)
		}
		g.files = append(g.files, c)
		g.bytes += c.size
	}

	groups := make([]group, 0, len(order))
	for _, dir := range order {
		g := byDir[dir]
		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			t.complete += g.bytes
			t.warnf("cannot create directory %s, skipping %d files: %v", g.dir, len(g.files), err)
			continue
		}
		groups = append(groups, *g)
	}
	return groups
}

// transfer downloads every planned file. Per-file failure is never fatal
// to the task.
func (t *taskRun) transfer(groups []group) {
	for _, g := range groups {
		for _, c := range g.files {
			if t.canceled() {
				return
			}
			t.transferFile(g.dir, c)
		}
	}
}

func (t *taskRun) transferFile(destDir string, c candidate) {
	// Pre-increment so a crash mid-transfer leaves progress monotone.
	t.complete += c.size
	t.r.stats.FileProcessed()

	local := filepath.Join(destDir, c.name)
	_, statErr := os.Stat(local)
	exists := statErr == nil

	if exists && t.settings.ArchiveExistingFilesBeforeDownload {
		if err := archiveExisting(destDir, c.name); err != nil {
			t.warnf("archiving existing %s failed: %v", c.name, err)
		} else {
			exists = false
		}
	}
	if exists && !t.settings.OverwriteExistingLocalFiles {
		t.publish(models.StateProcessing, fmt.Sprintf("Skipped existing file %s", c.name))
		return
	}
	if !t.r.stats.AllowDownload(c.size) {
		t.publish(models.StateSkipped, fmt.Sprintf("Download threshold reached, skipping %s", c.name))
		return
	}

	if err := t.download(local, c); err != nil {
		msg := fmt.Sprintf("download of %s failed: %v", c.name, err)
		log.Printf("[%s] %s: %s", t.r.device.Acronym, t.task.Name, msg)
		t.publish(models.StateFailed, msg)
		t.r.recordFailure(c.name, msg)
		return
	}

	t.r.stats.FileDownloaded(c.size)
	if t.settings.SynchronizeTimestamps {
		if err := os.Chtimes(local, c.mtime, c.mtime); err != nil {
			t.warnf("setting timestamps on %s failed: %v", c.name, err)
		}
	}
	t.publish(models.StateSucceeded, fmt.Sprintf("Downloaded %s", c.name))
	t.r.engine.recorder.RecordSuccess(t.r.device.ID, t.r.device.Name, c.name, c.size, c.mtime)

	if t.settings.DeleteRemoteFilesAfterDownload {
		if err := t.session.Delete(c.remotePath); err != nil {
			t.warnf("deleting remote %s failed: %v", c.remotePath, err)
		}
	}
	if t.settings.EmailOnFileUpdate {
		t.r.notifyFileUpdate(t.settings, c.name)
	}
}

// download performs the get, removing any partial file on failure.
func (t *taskRun) download(local string, c candidate) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	_, rerr := t.session.Retrieve(c.remotePath, f)
	cerr := f.Close()
	if rerr == nil {
		rerr = cerr
	}
	if rerr != nil {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			log.Printf("[%s] removing partial %s: %v", t.r.device.Acronym, local, err)
		}
		return rerr
	}
	return nil
}

// finish re-publishes the final progress with Complete equal to Total.
func (t *taskRun) finish() {
	t.complete = t.total
	t.publish(models.StateSucceeded, fmt.Sprintf("Task %s complete", t.task.Name))
}

// archiveExisting moves a prior local copy into the Archive sub-folder,
// resolving name collisions with a numeric suffix.
func archiveExisting(dir, name string) error {
	archiveDir := filepath.Join(dir, "Archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(archiveDir, name)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for i := 1; ; i++ {
			candidate := filepath.Join(archiveDir, fmt.Sprintf("%s_%d%s", stem, i, ext))
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				target = candidate
				break
			}
		}
	}
	return os.Rename(filepath.Join(dir, name), target)
}

// purgeOldLocalFiles removes local files older than the configured age.
// Errors are warnings; the walk continues.
func (r *Runner) purgeOldLocalFiles(root string, maxAgeDays int) {
	if maxAgeDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("[%s] purge walk %s: %v", r.device.Acronym, p, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil {
				log.Printf("[%s] purge remove %s: %v", r.device.Acronym, p, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[%s] purge of %s failed: %v", r.device.Acronym, root, err)
	}
}
