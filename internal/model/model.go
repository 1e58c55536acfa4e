// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/and161185/agent-keeper/internal/errs"
	"github.com/and161185/agent-keeper/internal/session"
)

// Identity is the email-like key of an account across the repository.
type Identity string

func (id Identity) String() string { return string(id) }

// MaxIdentityLen bounds the identity so that "<identity>.json" stays a valid file name.
const MaxIdentityLen = 255

// Validate reports whether id can be used verbatim as a file name stem:
// 1..255 bytes of [A-Za-z0-9@._+-], and not "." or "..".
func (id Identity) Validate() error {
	s := string(id)
	if s == "" || len(s) > MaxIdentityLen || s == "." || s == ".." {
		return fmt.Errorf("%w: %q", errs.ErrUnsafeName, s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '@' || c == '.' || c == '_' || c == '-' || c == '+':
		default:
			return fmt.Errorf("%w: %q", errs.ErrUnsafeName, s)
		}
	}
	return nil
}

// FileName returns the canonical repository file name for id.
func (id Identity) FileName() string { return string(id) + ".json" }

// Well-known state store keys. Backup files reuse the same names.
const (
	KeySessionState    = "jetskiStateSync.agentManagerInitState"
	KeyAuthStatus      = "antigravityAuthStatus"
	KeyProfileURL      = "antigravity.profileUrl"
	KeyUserSettings    = "antigravityUserSettings.allUserSettings"
	KeyIntegrityMarker = "__$__targetStorageMarker"
	KeyAnalyticsUpload = "antigravityAnalytics.lastUploadTime"
	KeyOnboarding      = "antigravityOnboarding"
)

// BackupFormatVersion is written to every backup file this build produces.
const BackupFormatVersion = 2

// Snapshot is the subset of the live state store that defines a signed-in account.
// Optional rows are nil when absent.
type Snapshot struct {
	SessionState    string
	AuthStatus      *string
	ProfileURL      *string
	UserSettings    *string
	IntegrityMarker *string
}

// AccountRecord is a decoded repository entry.
type AccountRecord struct {
	Identity   Identity
	Path       string
	ModifiedAt time.Time
	File       *BackupFile
	Session    *session.Record
}

// SkippedFile reports a repository entry that could not be listed or removed.
type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// CopyReport describes the outcome of one mutation on one physical store copy.
type CopyReport struct {
	Path    string `json:"path"`
	Changed int    `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// ApplyReport collects the per-copy outcome of a store mutation.
type ApplyReport struct {
	Copies []CopyReport `json:"copies"`
}

// Applied returns the number of copies updated without error.
func (r ApplyReport) Applied() int {
	n := 0
	for _, c := range r.Copies {
		if c.Error == "" {
			n++
		}
	}
	return n
}

// ExportedFile is one repository file inside an export bundle.
type ExportedFile struct {
	Filename  string          `json:"filename"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

// ImportFailure reports one file that could not be imported.
type ImportFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// ImportResult summarizes an import batch.
type ImportResult struct {
	Restored int             `json:"restoredCount"`
	Failed   []ImportFailure `json:"failed"`
}
