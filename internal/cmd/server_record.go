package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/proc"
	"github.com/legio-dev/legio/internal/util"
	"github.com/legio-dev/legio/internal/workspace"
)

// serverRecord is written by 'legio up' so sibling invocations can find
// the running control plane.
type serverRecord struct {
	Pid     int       `json:"pid"`
	Addr    string    `json:"addr"`
	Started time.Time `json:"started"`
}

func loadServerRecord(paths workspace.Paths) (*serverRecord, error) {
	var rec serverRecord
	if err := util.ReadJSON(paths.ServerFile(), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Validationf("server is not running (no %s)", paths.ServerFile())
		}
		return nil, err
	}
	if !proc.Alive(rec.Pid) {
		// Stale record from a crashed server.
		_ = os.Remove(paths.ServerFile())
		return nil, errs.Validationf("server is not running (stale record removed)")
	}
	return &rec, nil
}

func saveServerRecord(paths workspace.Paths, addr string) error {
	return util.AtomicWriteJSON(paths.ServerFile(), &serverRecord{
		Pid:     os.Getpid(),
		Addr:    addr,
		Started: time.Now(),
	})
}

// serverClient returns an HTTP client and base URL for the running
// server, for commands that drive in-process daemons remotely.
func serverClient(paths workspace.Paths) (*http.Client, string, error) {
	rec, err := loadServerRecord(paths)
	if err != nil {
		return nil, "", err
	}
	return &http.Client{Timeout: 5 * time.Second}, fmt.Sprintf("http://%s", rec.Addr), nil
}
