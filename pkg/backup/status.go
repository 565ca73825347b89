// Package backup reports on the out-of-band backup cron jobs by reading the
// tail of their log files.
package backup

import (
	"os"
	"path/filepath"
	"strings"
)

// EntryStatus summarizes one backup log.
type EntryStatus struct {
	LogPath  string `json:"log_path"`
	Status   string `json:"status"`
	LastLine string `json:"last_line,omitempty"`
}

// Summary covers both backup jobs.
type Summary struct {
	CodeBackup EntryStatus `json:"code_backup"`
	DataBackup EntryStatus `json:"data_backup"`
}

// StatusProvider inspects the backup logs under a profile's logs directory.
type StatusProvider struct {
	logsDir string
}

// NewStatusProvider returns a provider over logsDir.
func NewStatusProvider(logsDir string) *StatusProvider {
	return &StatusProvider{logsDir: logsDir}
}

// Summary reads the last line of each backup log. A missing log reads as
// status "missing"; a last line mentioning ERROR or FAILED reads as "error".
func (p *StatusProvider) Summary() Summary {
	return Summary{
		CodeBackup: p.entry("backup_code.log"),
		DataBackup: p.entry("backup_data.log"),
	}
}

func (p *StatusProvider) entry(name string) EntryStatus {
	path := filepath.Join(p.logsDir, name)
	last, ok := readLastLine(path)
	entry := EntryStatus{LogPath: path, LastLine: last}
	switch {
	case !ok:
		entry.Status = "missing"
	case containsFailure(last):
		entry.Status = "error"
	default:
		entry.Status = "ok"
	}
	return entry
}

func readLastLine(path string) (string, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return "", false
	}
	return lines[len(lines)-1], true
}

func containsFailure(line string) bool {
	upper := strings.ToUpper(line)
	return strings.Contains(upper, "ERROR") || strings.Contains(upper, "FAILED")
}
